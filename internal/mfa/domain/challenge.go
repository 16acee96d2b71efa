package domain

import "time"

// Challenge represents one issued OTP (stored in the otp_challenges table).
// Only the bcrypt hash of the code is kept.
type Challenge struct {
	ID         string
	Phone      string
	CodeHash   string
	Attempts   int
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Open reports whether the challenge has not been consumed and is still valid at now.
func (c *Challenge) Open(now time.Time) bool {
	return c != nil && c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}
