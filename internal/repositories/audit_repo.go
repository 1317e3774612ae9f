package repositories

import (
	"context"

	"github.com/custodial-payouts/backend/internal/db"
	"github.com/custodial-payouts/backend/internal/models"
)

const maxAuditPage = 500

type AuditRepo struct {
	pool db.DBTX
}

func NewAuditRepo(pool db.DBTX) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Append(ctx context.Context, actor, action, detail string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor, action, detail)
		VALUES ($1, $2, $3)
	`, actor, action, detail)
	return err
}

// List returns the latest entries, newest first.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxAuditPage {
		limit = maxAuditPage
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, action, detail, created_at
		FROM audit_log ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Actor, &l.Action, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
