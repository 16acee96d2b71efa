package engine

import "context"

// PhoneInput is the policy input describing a normalized phone number.
type PhoneInput struct {
	E164   string // "+15551234567"
	Digits string // "15551234567"
}

// Evaluator decides whether a phone number may be sent a one-time code.
type Evaluator interface {
	AllowPhone(ctx context.Context, phone PhoneInput) (bool, error)
}
