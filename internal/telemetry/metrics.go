package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "surveyapp.auth"

// AuthMetrics counts auth outcomes. A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	otpSent         metric.Int64Counter
	otpVerifyFailed metric.Int64Counter
	logins          metric.Int64Counter
}

// NewAuthMetrics registers the auth counters on mp, or on the global MeterProvider when mp is nil.
func NewAuthMetrics(mp metric.MeterProvider) (*AuthMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	sent, err := meter.Int64Counter("auth.otp.sent",
		metric.WithDescription("One-time codes issued and handed to the SMS sender."))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("auth.otp.verify_failed",
		metric.WithDescription("Rejected verification attempts."))
	if err != nil {
		return nil, err
	}
	logins, err := meter.Int64Counter("auth.login",
		metric.WithDescription("Successful logins."))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{otpSent: sent, otpVerifyFailed: failed, logins: logins}, nil
}

// OTPSent records an issued code. outcome is "sent", "rate_limited" or "delivery_failed".
func (m *AuthMetrics) OTPSent(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.otpSent.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) OTPVerifyFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.otpVerifyFailed.Add(ctx, 1)
}

// Login records a successful login. method is "otp" or "refresh".
func (m *AuthMetrics) Login(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
