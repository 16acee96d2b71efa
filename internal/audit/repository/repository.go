package repository

import (
	"context"

	"surveyapp/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs. Entries are append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
}
