package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists booking transactions and payouts. Methods take the
// handle to run on so callers can compose them inside one transaction.
type Repository interface {
	// ReserveTransaction inserts txn unless a row for (booking, kind) or the
	// idempotency key already exists. It reports whether this call inserted.
	ReserveTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) (bool, error)
	FindTransaction(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, kind TransactionKind) (*Transaction, error)
	FindTransactionByKey(ctx context.Context, db *gorm.DB, idempotencyKey string) (*Transaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]Transaction, error)
	// ClaimLease takes the lease of a PENDING row whose lease is free or expired.
	ClaimLease(ctx context.Context, db *gorm.DB, id snowflake.ID, until, now time.Time) (bool, error)
	// ReleaseLease frees the lease only while it is still the one held until leaseUntil.
	ReleaseLease(ctx context.Context, db *gorm.DB, id snowflake.ID, leaseUntil, now time.Time) error
	// CompleteTransaction and FailTransaction only move rows out of PENDING.
	CompleteTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, externalRef string, now time.Time) (bool, error)
	FailTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)

	// UpsertPayout inserts or advances the payout for a transaction. A
	// COMPLETED or FAILED payout is never changed.
	UpsertPayout(ctx context.Context, db *gorm.DB, payout *Payout) error
	FindPayoutByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*Payout, error)
	ListPayouts(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]Payout, error)
}

type PostEntryRequest struct {
	BookingID  snowflake.ID
	SourceType TransactionKind
	SourceID   snowflake.ID
	Currency   string
	OccurredAt time.Time
	Lines      []LedgerEntryLine
}

// Service posts double-entry journal records for completed money movements.
type Service interface {
	// PostEntryTx writes a balanced entry inside tx. A second post for the
	// same source is a no-op and reports false.
	PostEntryTx(ctx context.Context, tx *gorm.DB, req PostEntryRequest) (bool, error)
	// PostTransactionTx posts the standard lines for a completed transaction.
	PostTransactionTx(ctx context.Context, tx *gorm.DB, txn Transaction, occurredAt time.Time) (bool, error)
	// Balance returns debits minus credits for the account in currency.
	Balance(ctx context.Context, code LedgerAccountCode, currency string) (int64, error)
}
