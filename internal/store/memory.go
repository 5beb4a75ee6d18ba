package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/careloop/intake/internal/domain"
)

// MemoryStore is a mutex-guarded in-memory Store. A secondary index maps
// every recorded external conversation id to its owning session so
// resolution stays O(1) regardless of session count.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	byExtID  map[string]string // external conversation id -> primary id
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		byExtID:  make(map[string]string),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	cp := session.Clone()
	m.sessions[cp.ID] = cp
	m.reindex(cp)
	return nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, upd SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	applyUpdate(s, upd, m.now())
	m.reindex(s)
	return nil
}

func (m *MemoryStore) AppendTurn(ctx context.Context, id string, speaker domain.Speaker, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	now := m.now()
	s.History = append(s.History, domain.Turn{Speaker: speaker, Text: text, At: now})
	s.UpdatedAt = now
	return nil
}

func (m *MemoryStore) IncrementCount(ctx context.Context, id string, phase domain.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if s.Counts.PerPhase == nil {
		s.Counts.PerPhase = make(map[domain.Phase]int)
	}
	s.Counts.PerPhase[phase]++
	s.Counts.Total++
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Replace(ctx context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[session.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", session.ID, domain.ErrNotFound)
	}
	if err := checkReplacePhase(existing, session); err != nil {
		return err
	}
	cp := session.Clone()
	cp.UpdatedAt = m.now()
	m.sessions[cp.ID] = cp
	m.reindex(cp)
	return nil
}

// EvictIdle removes sessions whose updated_at is older than the cutoff and
// returns how many were dropped.
func (m *MemoryStore) EvictIdle(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			for _, ext := range s.ConversationIDs {
				delete(m.byExtID, ext)
			}
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (m *MemoryStore) Close() error {
	return nil
}

// lookup resolves by primary id, then by the external-id index. Callers
// hold m.mu.
func (m *MemoryStore) lookup(id string) (*domain.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if primary, ok := m.byExtID[id]; ok {
		if s, ok := m.sessions[primary]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
}

func (m *MemoryStore) reindex(s *domain.Session) {
	for _, ext := range s.ConversationIDs {
		m.byExtID[ext] = s.ID
	}
}

// checkReplacePhase rejects snapshots that would corrupt the session's
// lifecycle: an unknown phase or one behind the currently stored phase.
// Phases only move forward.
func checkReplacePhase(existing, incoming *domain.Session) error {
	if !incoming.Phase.Valid() {
		return fmt.Errorf("session %s: unknown phase %q", incoming.ID, incoming.Phase)
	}
	if incoming.Phase.Before(existing.Phase) {
		return fmt.Errorf("session %s: phase cannot move back from %s to %s",
			incoming.ID, existing.Phase, incoming.Phase)
	}
	return nil
}

// applyUpdate merges a partial update into s in place.
func applyUpdate(s *domain.Session, upd SessionUpdate, now time.Time) {
	if upd.Phase != nil {
		s.Phase = *upd.Phase
	}
	if upd.CurrentReport != nil {
		s.CurrentReport = *upd.CurrentReport
	}
	if upd.Diagnoses != nil {
		s.Diagnoses = append(s.Diagnoses[:0:0], upd.Diagnoses...)
	}
	if upd.FinalReport != nil {
		s.FinalReport = *upd.FinalReport
	}
	if upd.TransitionKey != nil {
		s.TransitionKey = *upd.TransitionKey
	}
	for phase, n := range upd.Counts {
		if s.Counts.PerPhase == nil {
			s.Counts.PerPhase = make(map[domain.Phase]int)
		}
		s.Counts.PerPhase[phase] = n
	}
	for phase, id := range upd.ConversationIDs {
		if s.ConversationIDs == nil {
			s.ConversationIDs = make(map[domain.Phase]string)
		}
		s.ConversationIDs[phase] = id
	}
	s.UpdatedAt = now
}
