// Package sms delivers one-time codes to phones.
package sms

import (
	"context"
	"log"
	"time"

	"surveyapp/backend/internal/devotp"
)

// Sender delivers a code to a normalized phone number (e.g. "+15551234567").
// Implementations must not persist the code beyond what delivery needs.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the process log. Development only.
type LogSender struct{}

// SendOTP logs the code for phone.
func (LogSender) SendOTP(_ context.Context, phone, code string) error {
	log.Printf("sms: OTP for %s: %s", phone, code)
	return nil
}

// DevStoreSender keeps codes in a devotp.Store for GET /dev/otp instead of sending them.
type DevStoreSender struct {
	Store devotp.Store
	TTL   time.Duration
	Now   func() time.Time
}

// NewDevStoreSender returns a sender that parks codes in store for ttl.
func NewDevStoreSender(store devotp.Store, ttl time.Duration) *DevStoreSender {
	return &DevStoreSender{Store: store, TTL: ttl, Now: time.Now}
}

// SendOTP stores the code for phone.
func (s *DevStoreSender) SendOTP(ctx context.Context, phone, code string) error {
	return s.Store.Put(ctx, phone, code, s.Now().UTC().Add(s.TTL))
}
