package agents

import (
	"encoding/json"

	"github.com/careloop/intake/internal/domain"
)

// wireTurn is a conversation turn as sent to the agents.
type wireTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func wireHistory(history []domain.Turn) []wireTurn {
	out := make([]wireTurn, 0, len(history))
	for _, t := range history {
		out = append(out, wireTurn{Speaker: string(t.Speaker), Text: t.Text})
	}
	return out
}

// StartResult is the interview agent's opening reply: greeting text plus
// the external conversation id that becomes the session's primary id.
type StartResult struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// TurnResult is one interview exchange. UpdatedReport is empty when the
// agent did not revise the working report this turn.
type TurnResult struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	UpdatedReport  string `json:"updated_report,omitempty"`
}

// SecondTurnResult extends TurnResult with the refinement output of the
// second interview agent.
type SecondTurnResult struct {
	Message          string          `json:"message"`
	ConversationID   string          `json:"conversation_id"`
	UpdatedReport    string          `json:"updated_report,omitempty"`
	UpdatedDiagnoses json.RawMessage `json:"updated_diagnoses,omitempty"`
}

// DiagnosesResult carries the ranked differential. Diagnoses is opaque to
// the orchestrator; when the agent's payload fails to parse as JSON the
// client stores the raw text as a JSON string instead of failing the call.
type DiagnosesResult struct {
	Diagnoses json.RawMessage `json:"diagnoses"`
}

// ReportResult is the final report agent's outcome.
type ReportResult struct {
	Success bool   `json:"success"`
	Report  string `json:"report,omitempty"`
	Error   string `json:"error,omitempty"`
}

type startRequest struct {
	PatientID string `json:"patient_id"`
}

type turnRequest struct {
	PatientID      string     `json:"patient_id"`
	ConversationID string     `json:"conversation_id"`
	History        []wireTurn `json:"history"`
	Message        string     `json:"message,omitempty"`
	CurrentReport  string     `json:"current_report,omitempty"`
}

type generateRequest struct {
	PatientID      string     `json:"patient_id"`
	History        []wireTurn `json:"history"`
	CurrentReport  string     `json:"current_report,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type secondTurnRequest struct {
	PatientID      string          `json:"patient_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	History        []wireTurn      `json:"history"`
	CurrentReport  string          `json:"current_report,omitempty"`
	Diagnoses      json.RawMessage `json:"diagnoses,omitempty"`
	Message        string          `json:"message,omitempty"`
}

type reportRequest struct {
	PatientID      string          `json:"patient_id"`
	History        []wireTurn      `json:"history"`
	CurrentReport  string          `json:"current_report,omitempty"`
	Diagnoses      json.RawMessage `json:"diagnoses,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}
