// Package policy screens inbound patient messages against a rego policy
// before they reach the interview agents.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by Evaluate.
const (
	DecisionAllow    = "allow"
	DecisionEscalate = "escalate"
)

// Input is the policy evaluation input for one user message.
type Input struct {
	PatientID string `json:"patient_id"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from the given rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.intake_policy.decision"),
		rego.Module("intake_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate screens one user message. It returns DecisionAllow or
// DecisionEscalate; an escalation never blocks the step, it only changes
// how the response is presented.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionAllow, nil
}

// DefaultPolicy escalates messages that describe red-flag symptoms. The
// deployment can override it with its own triage rules.
const DefaultPolicy = `
package intake_policy

import rego.v1

default decision := "allow"

red_flags := [
	"chest pain",
	"can't breathe",
	"cannot breathe",
	"difficulty breathing",
	"suicide",
	"suicidal",
	"overdose",
	"unconscious",
	"severe bleeding",
]

decision := "escalate" if {
	some flag in red_flags
	contains(lower(input.message), flag)
}
`
