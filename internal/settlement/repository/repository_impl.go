package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.WebhookRepository {
	return &repo{}
}

func (r *repo) Record(ctx context.Context, db *gorm.DB, rec domain.WebhookRecord) (bool, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, provider, event_id, event_type, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		rec.ID,
		rec.Provider,
		rec.EventID,
		rec.EventType,
		string(rec.Payload),
		rec.ReceivedAt,
	).Error
	if err != nil {
		return false, err
	}

	var processed int64
	err = db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM webhook_events
		WHERE provider = ? AND event_id = ? AND processed_at IS NOT NULL`,
		rec.Provider,
		rec.EventID,
	).Scan(&processed).Error
	if err != nil {
		return false, err
	}
	return processed > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, provider, eventID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET processed_at = ?
		WHERE provider = ? AND event_id = ? AND processed_at IS NULL`,
		now,
		provider,
		eventID,
	).Error
}
