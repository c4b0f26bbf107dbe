package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.elearn.authz.allow"

// DefaultPolicy grants admins everything, owners their own payments and enrollments, and any
// authenticated subject the self-service actions.
const DefaultPolicy = `package elearn.authz

default allow := false

authenticated if input.subject.id != ""

admin if {
	authenticated
	input.subject.role == "admin"
}

owner if {
	authenticated
	input.subject.id == input.resource.owner_id
}

self_service := {"auth.me", "payment.checkout", "enrollment.create"}

owned := {"payment.read", "payment.sync", "enrollment.progress", "enrollment.cancel"}

allow if admin

allow if {
	input.action in self_service
	authenticated
}

allow if {
	input.action in owned
	owner
}
`

// OPAAuthorizer evaluates authorization decisions with an embedded OPA Rego policy.
// The query is prepared once; Allow is safe for concurrent use.
type OPAAuthorizer struct {
	query rego.PreparedEvalQuery
}

// NewOPAAuthorizer compiles modules (file name to Rego source). Nil or empty uses DefaultPolicy.
func NewOPAAuthorizer(ctx context.Context, modules map[string]string) (*OPAAuthorizer, error) {
	if len(modules) == 0 {
		modules = map[string]string{"authz.rego": DefaultPolicy}
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAAuthorizer{query: q}, nil
}

// Allow evaluates the policy for in.
func (a *OPAAuthorizer) Allow(ctx context.Context, in Input) (bool, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(map[string]any{
		"action": in.Action,
		"subject": map[string]any{
			"id":   in.SubjectID,
			"role": in.Role,
		},
		"resource": map[string]any{
			"owner_id": in.OwnerID,
		},
	}))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// HealthCheck evaluates a fixed decision to prove the engine is usable.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	ok, err := a.Allow(ctx, Input{Action: ActionAuthMe, SubjectID: "health", Role: "student"})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("policy denied health probe")
	}
	return nil
}
