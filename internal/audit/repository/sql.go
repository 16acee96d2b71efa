package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"surveyapp/backend/internal/audit/domain"
)

// SQLRepository stores audit logs in SQLite or Postgres through sqlx.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository returns an audit log repository that uses the given db for persistence.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type auditRow struct {
	ID        string         `db:"id"`
	UserID    sql.NullString `db:"user_id"`
	Action    string         `db:"action"`
	Resource  string         `db:"resource"`
	IP        string         `db:"ip"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt int64          `db:"created_at"`
}

// Create persists the audit log. The audit log must have ID set.
func (r *SQLRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	uid := sql.NullString{String: a.UserID, Valid: a.UserID != ""}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO audit_logs (id, user_id, action, resource, ip, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, uid, a.Action, a.Resource, a.IP, meta, a.CreatedAt.UTC().UnixMilli())
	return err
}

// ListByUser returns the newest audit logs for userID, at most limit entries.
func (r *SQLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, user_id, action, resource, ip, metadata, created_at
		FROM audit_logs WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AuditLog, len(rows))
	for i, row := range rows {
		out[i] = &domain.AuditLog{
			ID:        row.ID,
			UserID:    row.UserID.String,
			Action:    row.Action,
			Resource:  row.Resource,
			IP:        row.IP,
			Metadata:  row.Metadata.String,
			CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		}
	}
	return out, nil
}
