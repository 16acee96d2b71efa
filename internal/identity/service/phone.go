package service

import (
	"strings"

	apperrors "surveyapp/backend/internal/platform/errors"
)

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// Phone is a normalized phone number: its digits only, with no formatting.
type Phone struct {
	digits string
}

// NormalizePhone strips every non-digit character and requires 10 to 15 digits.
// "+1 (555) 010-1234" and "15550101234" normalize to the same Phone.
func NormalizePhone(raw string) (Phone, error) {
	if strings.TrimSpace(raw) == "" {
		return Phone{}, apperrors.New(apperrors.CodeValidation, "phone number is required")
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return Phone{}, apperrors.New(apperrors.CodeValidation, "invalid phone number format")
	}
	return Phone{digits: digits}, nil
}

// E164 returns "+<digits>", the storage key for the phone.
func (p Phone) E164() string {
	if p.digits == "" {
		return ""
	}
	return "+" + p.digits
}

// Digits returns the bare digits.
func (p Phone) Digits() string { return p.digits }
