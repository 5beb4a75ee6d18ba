package domain

import (
	"encoding/json"
	"time"
)

// Turn is a single entry in a session's conversation history.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// MessageCounts tracks user messages per phase plus a running total.
// Assistant turns are never counted.
type MessageCounts struct {
	PerPhase map[Phase]int `json:"per_phase"`
	Total    int           `json:"total"`
}

// ForPhase returns the user-message count recorded for the given phase.
func (c MessageCounts) ForPhase(p Phase) int {
	if c.PerPhase == nil {
		return 0
	}
	return c.PerPhase[p]
}

// Session is the orchestrator's view of one patient's end-to-end diagnostic
// conversation. ID is the first collaborator's conversation id; later phases
// record their own external ids in ConversationIDs.
type Session struct {
	ID              string           `json:"id"`
	PatientID       string           `json:"patient_id"`
	Phase           Phase            `json:"phase"`
	Counts          MessageCounts    `json:"message_counts"`
	History         []Turn           `json:"conversation_history"`
	CurrentReport   string           `json:"current_report,omitempty"`
	Diagnoses       json.RawMessage  `json:"differential_diagnoses,omitempty"`
	FinalReport     string           `json:"final_report,omitempty"`
	ConversationIDs map[Phase]string `json:"phase_conversation_ids"`
	// TransitionKey is set when an interview phase hits its message limit
	// and cleared when the resulting auto-transition commits. It keys the
	// generative collaborator calls so a retried boundary does not
	// generate twice.
	TransitionKey string    `json:"transition_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConversationID returns the external conversation id that callers must use
// to continue the session: the id of the most advanced phase that has one.
func (s *Session) ConversationID() string {
	if id, ok := s.ConversationIDs[PhaseSecondInterview]; ok && id != "" {
		return id
	}
	return s.ID
}

// UserTurns counts the user entries in the conversation history.
func (s *Session) UserTurns() int {
	n := 0
	for _, t := range s.History {
		if t.Speaker == SpeakerUser {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the session. Stores hand out clones so a
// caller can stage a multi-step mutation and swap it back in atomically.
func (s *Session) Clone() *Session {
	cp := *s
	cp.History = make([]Turn, len(s.History))
	copy(cp.History, s.History)
	cp.Counts.PerPhase = make(map[Phase]int, len(s.Counts.PerPhase))
	for k, v := range s.Counts.PerPhase {
		cp.Counts.PerPhase[k] = v
	}
	cp.ConversationIDs = make(map[Phase]string, len(s.ConversationIDs))
	for k, v := range s.ConversationIDs {
		cp.ConversationIDs[k] = v
	}
	if s.Diagnoses != nil {
		cp.Diagnoses = make(json.RawMessage, len(s.Diagnoses))
		copy(cp.Diagnoses, s.Diagnoses)
	}
	return &cp
}

// NewSession creates a session in the initial interview phase. primaryID is
// the conversation id issued by the interview agent's opening call.
func NewSession(patientID, primaryID string, now time.Time) *Session {
	return &Session{
		ID:        primaryID,
		PatientID: patientID,
		Phase:     PhaseInitialInterview,
		Counts: MessageCounts{
			PerPhase: map[Phase]int{},
		},
		ConversationIDs: map[Phase]string{
			PhaseInitialInterview: primaryID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
