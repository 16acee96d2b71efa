// Package health reports readiness from the database and the phone admission policy.
package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger checks database connectivity (e.g. *sqlx.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the policy engine can evaluate (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker runs the readiness checks. Nil dependencies are skipped.
type Checker struct {
	DB     Pinger
	Policy PolicyChecker
}

// Check returns the first failing check, or nil when the service is ready.
func (c *Checker) Check(ctx context.Context) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if c.DB != nil {
		if err := c.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.Policy != nil {
		if err := c.Policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}
