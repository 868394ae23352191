package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/dispute/domain"
	dbpkg "github.com/smallbiznis/gigpay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *domain.Dispute) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO disputes (
			id, booking_id, status, reason, explanation, filed_by_ref, filed_by_role,
			refund_amount, payout_amount, dispute_fee, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.BookingID,
		d.Status,
		d.Reason,
		d.Explanation,
		d.FiledByRef,
		d.FiledByRole,
		d.RefundAmount,
		d.PayoutAmount,
		d.DisputeFee,
		d.CreatedAt,
		d.UpdatedAt,
	).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return domain.ErrDisputeAlreadyOpen
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Dispute, error) {
	return r.findOne(ctx, db, `SELECT * FROM disputes WHERE id = ?`, false, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Dispute, error) {
	return r.findOne(ctx, db, `SELECT * FROM disputes WHERE id = ?`, true, id)
}

func (r *repo) FindOpenByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*domain.Dispute, error) {
	return r.findOne(ctx, db,
		`SELECT * FROM disputes WHERE booking_id = ? AND status IN (?, ?)`,
		true, bookingID, domain.StatusOpen, domain.StatusUnderReview,
	)
}

func (r *repo) FindLatestResolved(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*domain.Dispute, error) {
	return r.findOne(ctx, db,
		`SELECT * FROM disputes
		WHERE booking_id = ? AND status IN (?, ?, ?)
		ORDER BY resolved_at DESC, id DESC
		LIMIT 1`,
		false, bookingID,
		domain.StatusResolvedOrganizer, domain.StatusResolvedProvider, domain.StatusResolvedPartial,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, forUpdate bool, args ...any) (*domain.Dispute, error) {
	if forUpdate {
		query = dbpkg.ForUpdate(db, query)
	}
	var item domain.Dispute
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]domain.Dispute, error) {
	var items []domain.Dispute
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM disputes WHERE booking_id = ? ORDER BY created_at ASC, id ASC`,
		bookingID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkUnderReview(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE disputes SET status = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusUnderReview, now, now, id, domain.StatusOpen,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, d *domain.Dispute) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE disputes SET
			status = ?, outcome = ?, refund_amount = ?, payout_amount = ?, dispute_fee = ?,
			resolution_notes = ?, resolved_by_ref = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		d.Status,
		d.Outcome,
		d.RefundAmount,
		d.PayoutAmount,
		d.DisputeFee,
		d.ResolutionNotes,
		d.ResolvedByRef,
		d.ResolvedAt,
		d.UpdatedAt,
		d.ID,
		domain.StatusOpen,
		domain.StatusUnderReview,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
