package policy

import (
	"context"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestDefaultPolicyAllowsOrdinaryMessages(t *testing.T) {
	e := newTestEngine(t)

	decision, err := e.Evaluate(context.Background(), Input{
		PatientID: "p1",
		Phase:     "initial_interview",
		Message:   "I've had a mild headache for two days",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("expected allow, got %q", decision)
	}
}

func TestDefaultPolicyEscalatesRedFlags(t *testing.T) {
	e := newTestEngine(t)

	for _, msg := range []string{
		"I have crushing CHEST PAIN right now",
		"my father is unconscious",
		"I can't breathe properly",
	} {
		decision, err := e.Evaluate(context.Background(), Input{Message: msg})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision != DecisionEscalate {
			t.Fatalf("expected escalate for %q, got %q", msg, decision)
		}
	}
}

func TestRejectsBrokenPolicy(t *testing.T) {
	if _, err := NewEngine(context.Background(), "not rego at all {"); err == nil {
		t.Fatalf("expected error for malformed policy")
	}
}
