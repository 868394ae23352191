package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/gigpay/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, actor_type, actor_ref, actor_role, action, target_type, target_id,
			before_state, after_state, metadata, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorType,
		entry.ActorRef,
		entry.ActorRole,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Before,
		entry.After,
		entry.Metadata,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Error
}

// List pages newest first. One extra row is read so the caller can tell
// whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	clauses := make([]string, 0, 8)
	args := make([]any, 0, 10)
	equal := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	equal("action", filter.Action)
	equal("target_type", filter.TargetType)
	equal("target_id", filter.TargetID)
	equal("actor_type", filter.ActorType)
	equal("actor_ref", filter.ActorRef)
	if filter.StartAt != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}

	query := "SELECT * FROM audit_logs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit+1)
	}

	var logs []*domain.AuditLog
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
