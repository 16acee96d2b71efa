// Package mfa issues, rate-limits and verifies phone one-time codes.
package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"surveyapp/backend/internal/mfa/domain"
	"surveyapp/backend/internal/mfa/repository"
	"surveyapp/backend/internal/security"
)

// ErrRateLimited is returned by IssueCode when a code for the phone was issued within the
// resend window.
var ErrRateLimited = errors.New("mfa: code requested within resend window")

// DefaultMaxAttempts is the number of wrong guesses after which a challenge stops accepting codes.
const DefaultMaxAttempts = 5

// Options configures a Store. Zero durations select the repository defaults.
type Options struct {
	TTL          time.Duration
	ResendWindow time.Duration
	// MaxAttempts limits wrong guesses per challenge; 0 disables the limit.
	MaxAttempts int
	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// Issued is a freshly issued code, returned once for delivery. The plaintext is not stored.
type Issued struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// Store is the OTP store: it persists challenges through a Repository and compares codes
// against their bcrypt hashes.
type Store struct {
	repo        repository.Repository
	hasher      *security.Hasher
	ttl         time.Duration
	window      time.Duration
	maxAttempts int
	now         func() time.Time
	generate    func() (string, error)
}

// NewStore returns an OTP store backed by repo.
func NewStore(repo repository.Repository, hasher *security.Hasher, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = repository.DefaultChallengeTTL
	}
	if opts.ResendWindow <= 0 {
		opts.ResendWindow = repository.DefaultResendWindow
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if hasher == nil {
		hasher = security.NewHasher(bcrypt.DefaultCost)
	}
	return &Store{
		repo:        repo,
		hasher:      hasher,
		ttl:         opts.TTL,
		window:      opts.ResendWindow,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
		generate:    GenerateOTP,
	}
}

// ResendWindow returns the configured minimum gap between codes for one phone.
func (s *Store) ResendWindow() time.Duration {
	return s.window
}

// CanRequestCode reports whether no code was issued for phone within the resend window,
// consumed or not.
func (s *Store) CanRequestCode(ctx context.Context, phone string) (bool, error) {
	n, err := s.repo.CountCreatedSince(ctx, phone, s.now().Add(-s.window))
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// IssueCode generates a new code for phone and replaces any open challenge with it.
// The resend window is enforced atomically with the write: ErrRateLimited when it is not open.
func (s *Store) IssueCode(ctx context.Context, phone string) (*Issued, error) {
	code, err := s.generate()
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash([]byte(code))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &domain.Challenge{
		ID:        uuid.New().String(),
		Phone:     phone,
		CodeHash:  hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	ok, err := s.repo.Replace(ctx, c, now.Add(-s.window))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRateLimited
	}
	return &Issued{ID: c.ID, Code: code, ExpiresAt: c.ExpiresAt}, nil
}

// VerifyCode checks code against the open challenge for phone and consumes it on match.
// Returns false (and no error) for an unknown, expired, exhausted, already-consumed or
// wrong code.
func (s *Store) VerifyCode(ctx context.Context, phone, code string) (bool, error) {
	if !WellFormedOTP(code) {
		return false, nil
	}
	c, err := s.repo.GetOpenByPhone(ctx, phone)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	if !c.Open(now) {
		return false, nil
	}
	if s.maxAttempts > 0 && c.Attempts >= s.maxAttempts {
		return false, nil
	}

	if err := s.hasher.Compare(c.CodeHash, []byte(code)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, err
		}
		attempts, err := s.repo.IncrementAttempts(ctx, c.ID)
		if err != nil {
			return false, err
		}
		if s.maxAttempts > 0 && attempts >= s.maxAttempts {
			if err := s.repo.Expire(ctx, c.ID, now); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	// Conditional update: of two concurrent matching verifications only one consumes.
	return s.repo.Consume(ctx, c.ID, now)
}

// Discard removes an unconsumed challenge, e.g. after delivery failed, so the phone can
// request a new code immediately.
func (s *Store) Discard(ctx context.Context, challengeID string) error {
	return s.repo.DeleteOpen(ctx, challengeID)
}

// Release reopens the challenge consumed for phone when sign-in could not complete after a
// successful VerifyCode, so the same code can be retried until it expires.
func (s *Store) Release(ctx context.Context, phone string) error {
	_, err := s.repo.Reopen(ctx, phone)
	return err
}
