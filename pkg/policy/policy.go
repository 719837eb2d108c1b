package policy

import (
	"context"

	"github.com/ecommerce/backend/pkg/domain"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow lets the request reach the application.
	ActionAllow Action = "allow"
	// ActionDeny rejects the request.
	ActionDeny Action = "deny"
)

// Decision captures the result of a policy evaluation.
type Decision struct {
	Action   Action
	Reason   string
	Metadata map[string]string
}

// Allowed reports whether the decision lets the request through.
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow
}

// Input provides the request context a policy is evaluated against.
type Input struct {
	Method    string
	Path      string
	Principal domain.Principal
	Headers   map[string]string
}

// Evaluator produces a policy decision for a given input.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}
