package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/booking/domain"
	dbpkg "github.com/smallbiznis/gigpay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (
			id, status, gross_amount, platform_fee, recipient_amount, currency,
			organizer_ref, provider_ref, event_ref, is_paid_out, notes,
			proposed_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.Status,
		b.GrossAmount,
		b.PlatformFee,
		b.RecipientAmount,
		b.Currency,
		b.OrganizerRef,
		b.ProviderRef,
		b.EventRef,
		b.IsPaidOut,
		b.Notes,
		b.ProposedAt,
		b.Version,
		b.CreatedAt,
		b.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	return r.find(ctx, db, id, false)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	return r.find(ctx, db, id, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Booking, error) {
	query := `SELECT * FROM bookings WHERE id = ?`
	if forUpdate {
		query = dbpkg.ForUpdate(db, query)
	}

	var item domain.Booking
	if err := db.WithContext(ctx).Raw(query, id).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, b *domain.Booking, expectedVersion int64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings SET
			status = ?, platform_fee = ?, recipient_amount = ?, notes = ?,
			accepted_at = ?, started_at = ?, completed_at = ?, cancelled_at = ?,
			declined_at = ?, disputed_at = ?, resolved_at = ?, settled_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.Status,
		b.PlatformFee,
		b.RecipientAmount,
		b.Notes,
		b.AcceptedAt,
		b.StartedAt,
		b.CompletedAt,
		b.CancelledAt,
		b.DeclinedAt,
		b.DisputedAt,
		b.ResolvedAt,
		b.SettledAt,
		b.UpdatedAt,
		b.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	b.Version = expectedVersion + 1
	return true, nil
}

func (r *repo) MarkPaidOut(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings SET is_paid_out = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND is_paid_out = ?`,
		true, now, id, false,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repo) MarkSettled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings SET settled_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND settled_at IS NULL`,
		now, now, id,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repo) RecordFee(ctx context.Context, db *gorm.DB, id snowflake.ID, fee int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings SET platform_fee = ?, recipient_amount = gross_amount - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND platform_fee <> ?`,
		fee, fee, now, id, fee,
	).Error
}

// ListUnsettled returns settleable bookings that still owe a leg, plus any
// booking holding a PENDING transaction whose lease has lapsed.
func (r *repo) ListUnsettled(ctx context.Context, db *gorm.DB, filter domain.UnsettledFilter) ([]snowflake.ID, error) {
	if len(filter.Statuses) == 0 || filter.Limit <= 0 {
		return nil, nil
	}

	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT b.id FROM bookings b
		WHERE (
			b.status IN ?
			AND b.settled_at IS NULL
			AND b.updated_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM booking_transactions t
				WHERE t.booking_id = b.id AND t.status = 'FAILED'
			)
		) OR EXISTS (
			SELECT 1 FROM booking_transactions p
			WHERE p.booking_id = b.id
			AND p.status = 'PENDING'
			AND p.updated_at <= ?
			AND (p.lease_until IS NULL OR p.lease_until < ?)
		)
		ORDER BY b.id
		LIMIT ?`,
		filter.Statuses,
		filter.OlderThan,
		filter.OlderThan,
		filter.Now,
		filter.Limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
