package engine

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.surveyapp.otp.allow"

// DefaultRegoPolicy admits every number whose digit count is within E.164 bounds.
const DefaultRegoPolicy = `package surveyapp.otp

default allow = true

allow = false if {
	input.phone.length < 10
}

allow = false if {
	input.phone.length > 15
}
`

// OPAEvaluator evaluates the phone admission policy using OPA Rego. The policy is compiled
// once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultRegoPolicy when empty). The policy must define
// data.surveyapp.otp.allow.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// NewOPAEvaluatorFromFile reads a Rego file and compiles it. An empty path selects the default policy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// AllowPhone evaluates the policy for phone. Evaluation failures are logged and allow the
// number; the error is still returned for callers that want it.
func (e *OPAEvaluator) AllowPhone(ctx context.Context, phone PhoneInput) (bool, error) {
	allowed, err := e.eval(ctx, phone)
	if err != nil {
		log.Printf("policy: evaluation failed for %s: %v, allowing", phone.E164, err)
		return true, err
	}
	return allowed, nil
}

// HealthCheck verifies the compiled policy evaluates to a boolean for a well-formed number.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, PhoneInput{E164: "+15550000000", Digits: "15550000000"})
	return err
}

func (e *OPAEvaluator) eval(ctx context.Context, phone PhoneInput) (bool, error) {
	input := map[string]interface{}{
		"phone": map[string]interface{}{
			"e164":   phone.E164,
			"digits": phone.Digits,
			"length": len(phone.Digits),
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy allow is %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}
