package repository

import (
	"context"
	"time"

	"surveyapp/backend/internal/mfa/domain"
)

// Repository defines persistence for OTP challenges.
type Repository interface {
	// Replace stores c as the open challenge for c.Phone, superseding any previous open one
	// and pruning consumed ones. It stores nothing and reports false when a challenge for the
	// phone was created after windowStart.
	Replace(ctx context.Context, c *domain.Challenge, windowStart time.Time) (bool, error)
	// GetOpenByPhone returns the unconsumed challenge for phone, or nil if none.
	GetOpenByPhone(ctx context.Context, phone string) (*domain.Challenge, error)
	// Consume marks the challenge consumed at at if it is still open; reports whether this call consumed it.
	Consume(ctx context.Context, id string, at time.Time) (bool, error)
	// IncrementAttempts bumps the failed-attempt counter and returns the new value (0 if the challenge is gone).
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// Expire sets expires_at to at so the challenge can no longer be verified.
	Expire(ctx context.Context, id string, at time.Time) error
	// Reopen clears consumed_at on the most recently consumed challenge for phone, provided no
	// open challenge exists. Reports whether a challenge was reopened.
	Reopen(ctx context.Context, phone string) (bool, error)
	// DeleteOpen removes the challenge if it has not been consumed.
	DeleteOpen(ctx context.Context, id string) error
	// CountCreatedSince counts challenges for phone created strictly after since, consumed or not.
	CountCreatedSince(ctx context.Context, phone string, since time.Time) (int, error)
}

// DefaultChallengeTTL is the default OTP expiry.
const DefaultChallengeTTL = 10 * time.Minute

// DefaultResendWindow is the default minimum gap between two codes for one phone.
const DefaultResendWindow = 60 * time.Second
