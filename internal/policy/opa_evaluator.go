package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"identity-provisioning/internal/identity/domain"
)

const policyPackage = "data.identity.roles"

// DefaultRegoPolicy registers with AUTHOR when no role is given, accepts PLAIN and AUTHOR
// case-insensitively and allows both transitions between them.
//
//go:embed roles.rego
var DefaultRegoPolicy string

// OPAEvaluator evaluates role policies using OPA Rego. Queries are prepared once.
type OPAEvaluator struct {
	registration rego.PreparedEvalQuery
	target       rego.PreparedEvalQuery
	transition   rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module (DefaultRegoPolicy when empty) and prepares its queries.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultRegoPolicy
	}
	prepare := func(rule string) (rego.PreparedEvalQuery, error) {
		pq, err := rego.New(
			rego.Query(policyPackage+"."+rule),
			rego.Module("roles.rego", module),
		).PrepareForEval(ctx)
		if err != nil {
			return rego.PreparedEvalQuery{}, fmt.Errorf("prepare %s: %w", rule, err)
		}
		return pq, nil
	}

	var e OPAEvaluator
	var err error
	if e.registration, err = prepare("registration_role"); err != nil {
		return nil, err
	}
	if e.target, err = prepare("valid_target"); err != nil {
		return nil, err
	}
	if e.transition, err = prepare("allow_transition"); err != nil {
		return nil, err
	}
	return &e, nil
}

// LoadOPAEvaluator reads the policy from path, or uses DefaultRegoPolicy when path is empty.
func LoadOPAEvaluator(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// HealthCheck verifies that the prepared policy evaluates and allows PLAIN to AUTHOR.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	ok, err := e.AllowTransition(ctx, domain.RolePlain, domain.RoleAuthor)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

func (e *OPAEvaluator) RegistrationRole(ctx context.Context, requested string) (domain.RoleTag, error) {
	v, ok, err := eval(ctx, e.registration, map[string]interface{}{"role": requested})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	tag, known := domain.ParseRoleTag(s)
	if !ok || !known {
		return "", fmt.Errorf("%w: %q", ErrRoleRejected, requested)
	}
	return tag, nil
}

func (e *OPAEvaluator) TargetRole(ctx context.Context, requested string) (domain.RoleTag, error) {
	v, _, err := eval(ctx, e.target, map[string]interface{}{"role": requested})
	if err != nil {
		return "", err
	}
	tag, known := domain.ParseRoleTag(requested)
	if valid, _ := v.(bool); !valid || !known {
		return "", fmt.Errorf("%w: %q", ErrRoleRejected, requested)
	}
	return tag, nil
}

func (e *OPAEvaluator) AllowTransition(ctx context.Context, from, to domain.RoleTag) (bool, error) {
	v, _, err := eval(ctx, e.transition, map[string]interface{}{"from": string(from), "to": string(to)})
	if err != nil {
		return false, err
	}
	allowed, _ := v.(bool)
	return allowed, nil
}

// eval returns the first expression value; ok is false when the rule is undefined for input.
func eval(ctx context.Context, pq rego.PreparedEvalQuery, input map[string]interface{}) (interface{}, bool, error) {
	rs, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, false, fmt.Errorf("eval role policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, false, nil
	}
	return rs[0].Expressions[0].Value, true, nil
}
