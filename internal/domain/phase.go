// Package domain defines the core domain models for the intake orchestrator.
package domain

// Phase represents one of the ordered states a diagnostic session passes
// through. DiagnosisGeneration and FinalReportGeneration are internal:
// their transitions complete within the request that triggered them, so
// clients only ever observe the other three.
type Phase string

const (
	PhaseInitialInterview      Phase = "initial_interview"
	PhaseDiagnosisGeneration   Phase = "diagnosis_generation"
	PhaseSecondInterview       Phase = "second_interview"
	PhaseFinalReportGeneration Phase = "final_report_generation"
	PhaseCompleted             Phase = "completed"
)

// phaseOrder is the fixed forward-only progression.
var phaseOrder = map[Phase]int{
	PhaseInitialInterview:      0,
	PhaseDiagnosisGeneration:   1,
	PhaseSecondInterview:       2,
	PhaseFinalReportGeneration: 3,
	PhaseCompleted:             4,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p precedes other in the session lifecycle.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// Terminal reports whether the session can no longer advance.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted
}

// Interview reports whether p is one of the two conversational phases,
// the only phases in which user messages are counted against the limit.
func (p Phase) Interview() bool {
	return p == PhaseInitialInterview || p == PhaseSecondInterview
}

// Speaker identifies who authored a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)
