// Package service drives the intake workflow: it resolves session identity,
// enforces the fixed phase progression, bridges per-phase conversation ids
// and runs the synchronous auto-transitions at phase boundaries.
package service

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/careloop/intake/internal/adapter/agents"
	"github.com/careloop/intake/internal/domain"
	"github.com/careloop/intake/internal/policy"
	"github.com/careloop/intake/internal/store"
)

// Gateway is the collaborator gateway consumed by the service. The
// production implementation is agents.Client.
type Gateway interface {
	StartInterview(ctx context.Context, patientID string) (*agents.StartResult, error)
	InterviewTurn(ctx context.Context, patientID, conversationID string, history []domain.Turn, message, currentReport string) (*agents.TurnResult, error)
	GenerateDiagnoses(ctx context.Context, patientID string, history []domain.Turn, currentReport, idempotencyKey string) (*agents.DiagnosesResult, error)
	SecondInterviewTurn(ctx context.Context, patientID, conversationID string, history []domain.Turn, currentReport string, diagnoses json.RawMessage, message string) (*agents.SecondTurnResult, error)
	GenerateReport(ctx context.Context, patientID string, history []domain.Turn, currentReport string, diagnoses json.RawMessage, idempotencyKey string) (*agents.ReportResult, error)
}

// Screener screens user messages for red-flag content. Evaluation failures
// never fail a step.
type Screener interface {
	Evaluate(ctx context.Context, input policy.Input) (string, error)
}

// Recorder receives step and transition counts. May be nil.
type Recorder interface {
	RecordStep(phase domain.Phase)
	RecordTransition(from, to domain.Phase)
}

// Service is the intake orchestrator.
type Service struct {
	store    store.Store
	gateway  Gateway
	screener Screener
	recorder Recorder
	logger   *zap.Logger

	// phaseLimit is the user-message threshold closing each interview
	// phase.
	phaseLimit int

	// locks serializes steps per session so concurrent requests for one
	// session cannot interleave appends or double-count messages, while
	// unrelated sessions progress independently. Entries are reference
	// counted and removed once the last holder releases, so the map stays
	// bounded by in-flight sessions rather than growing with every session
	// ever seen.
	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures the service.
type Option func(*Service)

// WithScreener installs a message screener.
func WithScreener(s Screener) Option {
	return func(svc *Service) { svc.screener = s }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(svc *Service) { svc.recorder = r }
}

// New creates the service. phaseLimit must be positive.
func New(st store.Store, gateway Gateway, logger *zap.Logger, phaseLimit int, opts ...Option) *Service {
	svc := &Service{
		store:      st,
		gateway:    gateway,
		logger:     logger,
		phaseLimit: phaseLimit,
		locks:      make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// lockSession acquires the per-session mutex and returns its release func.
func (s *Service) lockSession(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) recordStep(phase domain.Phase) {
	if s.recorder != nil {
		s.recorder.RecordStep(phase)
	}
}

func (s *Service) recordTransition(from, to domain.Phase) {
	if s.recorder != nil {
		s.recorder.RecordTransition(from, to)
	}
}
