package repository

import (
	"context"
	"time"

	"surveyapp/backend/internal/session/domain"
)

// Repository defines persistence for sessions. There is at most one row per user.
type Repository interface {
	// Upsert stores s as the user's only session, replacing any previous one.
	Upsert(ctx context.Context, s *domain.Session) error
	// GetByTokenHash returns the session with the given token hash, or nil if not found.
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// Rotate swaps the token of the session identified by oldHash, provided it is still
	// unexpired at now. Reports whether a session was rotated.
	Rotate(ctx context.Context, oldHash string, next *domain.Session, now time.Time) (bool, error)
	// DeleteByTokenHash removes the session with the given token hash. Missing rows are not an error.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
}

// DefaultSessionTTL is the default bearer token lifetime.
const DefaultSessionTTL = 30 * 24 * time.Hour
