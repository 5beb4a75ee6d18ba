// Package store defines session persistence and its implementations.
package store

import (
	"context"
	"encoding/json"

	"github.com/careloop/intake/internal/domain"
)

// SessionUpdate describes a partial update. Nil pointer fields are left
// untouched. Counts and ConversationIDs merge per key into the existing
// maps; they never replace the map wholesale, so a later phase's entry
// cannot erase an earlier phase's.
type SessionUpdate struct {
	Phase           *domain.Phase
	CurrentReport   *string
	Diagnoses       json.RawMessage
	FinalReport     *string
	TransitionKey   *string
	Counts          map[domain.Phase]int
	ConversationIDs map[domain.Phase]string
}

// Store is the session store. Resolve accepts the primary session id or any
// phase-specific external conversation id. All mutators refresh the
// session's updated_at. Implementations return deep copies; callers never
// share memory with stored state.
type Store interface {
	// Create inserts a new session. It fails if the primary id exists.
	Create(ctx context.Context, session *domain.Session) error

	// Resolve returns the session owning the given id, matching the
	// primary id first and any recorded phase conversation id second.
	// Returns domain.ErrNotFound when no session owns the id.
	Resolve(ctx context.Context, id string) (*domain.Session, error)

	// Update applies a partial update to the session with the given
	// primary id.
	Update(ctx context.Context, id string, upd SessionUpdate) error

	// AppendTurn appends one conversation turn. History is append-only;
	// turns are never reordered or truncated.
	AppendTurn(ctx context.Context, id string, speaker domain.Speaker, text string) error

	// IncrementCount bumps the user-message counter for the given phase
	// and the running total in one step.
	IncrementCount(ctx context.Context, id string, phase domain.Phase) error

	// Replace swaps in a fully formed session snapshot for the session
	// with the same primary id. Used to commit multi-step transitions
	// atomically.
	Replace(ctx context.Context, session *domain.Session) error

	Close() error
}
