package opa

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/asimihsan/field_auth/pkg/gate"
)

// OpaPolicyBundle is a concrete implementation of gate.PolicyBundle for OPA policies
type OpaPolicyBundle struct {
	BundleID      string
	PreparedQuery rego.PreparedEvalQuery
}

var _ gate.PolicyBundle = (*OpaPolicyBundle)(nil)

// ID implements gate.PolicyBundle
func (b *OpaPolicyBundle) ID() string {
	return b.BundleID
}

// DenyError is the reason attached to a policy denial.
type DenyError struct {
	BundleID string
	Reasons  []string
}

func (e *DenyError) Error() string {
	if len(e.Reasons) == 0 {
		return "denied by policy"
	}
	return "denied by policy: " + strings.Join(e.Reasons, "; ")
}

func (e *DenyError) Is(target error) bool { return target == gate.ErrNotAuthorized }

type requestInputKey struct{}

// WithRequestInput attaches request-scoped data, such as the viewer, that is
// exposed to policies as input.request.
func WithRequestInput(ctx context.Context, in map[string]any) context.Context {
	return context.WithValue(ctx, requestInputKey{}, in)
}

// Engine evaluates field accesses against OPA policies
type Engine struct{}

// NewEngine creates a new OPA policy engine
func NewEngine() *Engine {
	return &Engine{}
}

// Input builds the policy input document for a field access.
func Input(ctx context.Context, p gate.Params) map[string]any {
	in := map[string]any{
		"type":   p.Field.TypeName,
		"field":  p.Field.FieldName,
		"args":   p.Args,
		"parent": p.Parent,
	}
	if req, ok := ctx.Value(requestInputKey{}).(map[string]any); ok {
		in["request"] = req
	}
	return in
}

// Evaluate runs the bundle's query against input. The policy is expected to
// produce an object with an "allow" boolean and optional "deny_reasons".
func (e *Engine) Evaluate(ctx context.Context, policy gate.PolicyBundle, input map[string]any) (gate.Decision, error) {
	opaBundle, ok := policy.(*OpaPolicyBundle)
	if !ok {
		return gate.Decision{}, fmt.Errorf("%w: invalid policy bundle type: %T", gate.ErrPolicyEvaluation, policy)
	}

	resultSet, err := opaBundle.PreparedQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return gate.Decision{}, fmt.Errorf("%w: evaluation failed: %v", gate.ErrPolicyEvaluation, err)
	}
	if len(resultSet) == 0 || len(resultSet[0].Expressions) == 0 {
		return gate.Decision{}, fmt.Errorf("%w: policy result set is empty or malformed", gate.ErrPolicyEvaluation)
	}

	result, ok := resultSet[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return gate.Decision{}, fmt.Errorf("%w: unexpected result format", gate.ErrPolicyEvaluation)
	}

	// Default deny if allow is missing or not a boolean
	if allow, _ := result["allow"].(bool); allow {
		return gate.Allowed(), nil
	}

	deny := &DenyError{BundleID: opaBundle.BundleID}
	if reasons, ok := result["deny_reasons"].([]interface{}); ok {
		for _, r := range reasons {
			if reason, ok := r.(string); ok {
				deny.Reasons = append(deny.Reasons, reason)
			}
		}
	}
	return gate.Denied(deny), nil
}

// Authorizer returns an authorize function backed by the provider's policy.
// Load and evaluation failures deny the field with the failure as reason.
func (e *Engine) Authorizer(provider gate.PolicyProvider) gate.AuthorizeFunc {
	return gate.Bool(func(ctx context.Context, p gate.Params) (bool, error) {
		bundle, err := provider.GetPolicyBundle(ctx)
		if err != nil {
			return false, err
		}
		d, err := e.Evaluate(ctx, bundle, Input(ctx, p))
		if err != nil {
			return false, err
		}
		if !d.Allow {
			return false, d.Reason
		}
		return true, nil
	})
}
