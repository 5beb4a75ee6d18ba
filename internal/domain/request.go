package domain

import "encoding/json"

// StepRequest is the body of POST /v1/intake/message. An absent
// ConversationID starts a new session (PatientID required). An absent
// Message continues an existing session without adding a user turn.
type StepRequest struct {
	PatientID      string  `json:"patient_id,omitempty"`
	Message        *string `json:"message,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// Progress describes how far the current phase has advanced.
type Progress struct {
	CurrentPhaseMessageCount int  `json:"current_phase_message_count"`
	TotalMessages            int  `json:"total_messages"`
	PhaseMessageLimit        int  `json:"phase_message_limit"`
	IsPhaseComplete          bool `json:"is_phase_complete"`
}

// Message types carried in StepResponse.MessageType.
const (
	MessageTypeQuestion     = "question"
	MessageTypeInfo         = "info"
	MessageTypeCompletion   = "completion"
	MessageTypeUrgentNotice = "urgent_notice"
)

// Next actions carried in StepResponse.NextAction.
const (
	NextActionContinue = "continue_conversation"
	NextActionNone     = "none"
)

// StepResponse is the envelope returned for every step. ConversationID is
// always the phase-appropriate external id; callers must continue with the
// id they last received, not the one they started with.
type StepResponse struct {
	Success         bool            `json:"success"`
	ConversationID  string          `json:"conversation_id"`
	PatientID       string          `json:"patient_id"`
	Phase           Phase           `json:"phase"`
	Progress        Progress        `json:"progress"`
	Message         string          `json:"message"`
	MessageType     string          `json:"message_type"`
	UpdatedReport   string          `json:"updated_report,omitempty"`
	Diagnoses       json.RawMessage `json:"differential_diagnoses,omitempty"`
	FinalReport     string          `json:"final_report,omitempty"`
	ExpectsInput    bool            `json:"expects_user_input"`
	PhaseTransition bool            `json:"phase_transition"`
	NextAction      string          `json:"next_action"`
}

// ErrorResponse is the envelope for failed requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
