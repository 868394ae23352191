package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ReserveTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO booking_transactions (
			id, booking_id, kind, status, amount, currency, idempotency_key,
			external_ref, failure_reason, lease_until, attempts, metadata,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		txn.ID,
		txn.BookingID,
		txn.Kind,
		txn.Status,
		txn.Amount,
		txn.Currency,
		txn.IdempotencyKey,
		txn.ExternalRef,
		txn.FailureReason,
		txn.LeaseUntil,
		txn.Attempts,
		txn.Metadata,
		txn.CreatedAt,
		txn.UpdatedAt,
		txn.CompletedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, kind domain.TransactionKind) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM booking_transactions WHERE booking_id = ? AND kind = ?`,
		bookingID, kind,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindTransactionByKey(ctx context.Context, db *gorm.DB, idempotencyKey string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM booking_transactions WHERE idempotency_key = ?`,
		idempotencyKey,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM booking_transactions WHERE booking_id = ? ORDER BY created_at ASC, id ASC`,
		bookingID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimLease(ctx context.Context, db *gorm.DB, id snowflake.ID, until, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE booking_transactions
		SET lease_until = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ? AND (lease_until IS NULL OR lease_until < ?)`,
		until, now, id, domain.TransactionStatusPending, now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ReleaseLease(ctx context.Context, db *gorm.DB, id snowflake.ID, leaseUntil, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE booking_transactions SET lease_until = NULL, updated_at = ? WHERE id = ? AND lease_until = ?`,
		now, id, leaseUntil,
	).Error
}

func (r *repo) CompleteTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, externalRef string, now time.Time) (bool, error) {
	var ref *string
	if externalRef != "" {
		ref = &externalRef
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE booking_transactions
		SET status = ?, external_ref = COALESCE(?, external_ref), lease_until = NULL,
			failure_reason = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.TransactionStatusCompleted, ref, now, now, id, domain.TransactionStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FailTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE booking_transactions
		SET status = ?, failure_reason = ?, lease_until = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.TransactionStatusFailed, reason, now, id, domain.TransactionStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpsertPayout(ctx context.Context, db *gorm.DB, payout *domain.Payout) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, transaction_id, booking_id, recipient_ref, amount, currency, status,
			gateway_provider, recipient_code, transfer_reference, gateway_payload,
			failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO UPDATE SET
			status = excluded.status,
			recipient_code = COALESCE(excluded.recipient_code, payouts.recipient_code),
			gateway_payload = COALESCE(excluded.gateway_payload, payouts.gateway_payload),
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
		WHERE payouts.status NOT IN (?, ?)`,
		payout.ID,
		payout.TransactionID,
		payout.BookingID,
		payout.RecipientRef,
		payout.Amount,
		payout.Currency,
		payout.Status,
		payout.GatewayProvider,
		payout.RecipientCode,
		payout.TransferReference,
		payout.GatewayPayload,
		payout.FailureReason,
		payout.CreatedAt,
		payout.UpdatedAt,
		domain.PayoutStatusCompleted,
		domain.PayoutStatusFailed,
	).Error
}

func (r *repo) FindPayoutByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*domain.Payout, error) {
	var item domain.Payout
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payouts WHERE transaction_id = ?`,
		transactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListPayouts(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]domain.Payout, error) {
	var items []domain.Payout
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payouts WHERE booking_id = ? ORDER BY created_at ASC, id ASC`,
		bookingID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
