package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/intake/internal/domain"
	"github.com/careloop/intake/internal/policy"
	"github.com/careloop/intake/internal/store"
)

// completedMessage is returned for any step against a finished session.
const completedMessage = "This intake session is complete. The final report has been generated and shared with your care team."

// escalationAdvisory is prepended when the safety policy flags a message.
const escalationAdvisory = "If this is a medical emergency, please call your local emergency number or go to the nearest emergency department now."

// Step processes one request against the session state machine. It performs
// zero to three collaborator calls: none for a finished session, one for an
// ordinary interview turn, up to three when the turn crosses a phase
// boundary and the folded generation phase runs in the same request.
func (s *Service) Step(ctx context.Context, req domain.StepRequest) (*domain.StepResponse, error) {
	if req.ConversationID == "" {
		return s.createSession(ctx, req)
	}

	// Resolve outside the lock to learn the primary id, then re-resolve
	// under the lock so the step sees the latest committed state.
	sess, err := s.store.Resolve(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockSession(sess.ID)
	defer unlock()

	sess, err = s.store.Resolve(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	s.recordStep(sess.Phase)

	message := ""
	if req.Message != nil {
		message = *req.Message
	}
	escalated := s.screen(ctx, sess, message)

	var resp *domain.StepResponse
	switch sess.Phase {
	case domain.PhaseInitialInterview:
		resp, err = s.stepInitialInterview(ctx, sess, req.Message)
	case domain.PhaseSecondInterview:
		resp, err = s.stepSecondInterview(ctx, sess, req.Message)
	case domain.PhaseCompleted:
		resp = s.buildResponse(sess, completedMessage, domain.MessageTypeInfo, false)
	case domain.PhaseDiagnosisGeneration:
		// Only a store written by an older deployment can hold a session
		// in a generation phase; finish the pending boundary.
		resp, err = s.runDiagnosisTransition(ctx, sess)
	case domain.PhaseFinalReportGeneration:
		resp, err = s.runReportTransition(ctx, sess)
	default:
		err = fmt.Errorf("session %s in unknown phase %q", sess.ID, sess.Phase)
	}
	if err != nil {
		return nil, err
	}

	if escalated {
		resp.MessageType = domain.MessageTypeUrgentNotice
		resp.Message = escalationAdvisory + "\n\n" + resp.Message
	}
	return resp, nil
}

// Snapshot returns the current projection of a session without stepping it.
func (s *Service) Snapshot(ctx context.Context, conversationID string) (*domain.StepResponse, error) {
	sess, err := s.store.Resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	messageType := domain.MessageTypeQuestion
	if sess.Phase.Terminal() {
		messageType = domain.MessageTypeInfo
	}
	return s.buildResponse(sess, "", messageType, false), nil
}

// createSession opens a new session. The opening gateway call supplies both
// the greeting and the primary id; nothing is stored until it succeeds.
func (s *Service) createSession(ctx context.Context, req domain.StepRequest) (*domain.StepResponse, error) {
	if req.PatientID == "" {
		return nil, domain.Validationf("patient_id is required to start a session")
	}

	started, err := s.gateway.StartInterview(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	sess := domain.NewSession(req.PatientID, started.ConversationID, nowUTC())
	sess.History = append(sess.History, domain.Turn{
		Speaker: domain.SpeakerAssistant,
		Text:    started.Message,
		At:      sess.CreatedAt,
	})
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("patient_id", sess.PatientID))

	return s.buildResponse(sess, started.Message, domain.MessageTypeQuestion, false), nil
}

// stepInitialInterview handles one request in the first interview phase,
// including the diagnosis transition once the message limit is reached.
func (s *Service) stepInitialInterview(ctx context.Context, sess *domain.Session, message *string) (*domain.StepResponse, error) {
	// A previously failed boundary leaves the count at the limit; retry
	// the transition before consuming anything else.
	if sess.Counts.ForPhase(domain.PhaseInitialInterview) >= s.phaseLimit {
		return s.runDiagnosisTransition(ctx, sess)
	}

	turn, err := s.gateway.InterviewTurn(ctx, sess.PatientID,
		sess.ConversationIDs[domain.PhaseInitialInterview], sess.History,
		deref(message), sess.CurrentReport)
	if err != nil {
		return nil, err
	}

	sess, err = s.commitTurn(ctx, sess, domain.PhaseInitialInterview, message, turn.UpdatedReport, nil, turn.Message, nil)
	if err != nil {
		return nil, err
	}

	if sess.Counts.ForPhase(domain.PhaseInitialInterview) >= s.phaseLimit {
		return s.runDiagnosisTransition(ctx, sess)
	}
	return s.buildResponse(sess, turn.Message, domain.MessageTypeQuestion, false), nil
}

// stepSecondInterview is the symmetric handler for the second interview,
// ending in the final report transition.
func (s *Service) stepSecondInterview(ctx context.Context, sess *domain.Session, message *string) (*domain.StepResponse, error) {
	if sess.Counts.ForPhase(domain.PhaseSecondInterview) >= s.phaseLimit {
		return s.runReportTransition(ctx, sess)
	}

	turn, err := s.gateway.SecondInterviewTurn(ctx, sess.PatientID,
		sess.ConversationIDs[domain.PhaseSecondInterview], sess.History,
		sess.CurrentReport, sess.Diagnoses, deref(message))
	if err != nil {
		return nil, err
	}

	convIDs := map[domain.Phase]string{domain.PhaseSecondInterview: turn.ConversationID}
	sess, err = s.commitTurn(ctx, sess, domain.PhaseSecondInterview, message, turn.UpdatedReport, turn.UpdatedDiagnoses, turn.Message, convIDs)
	if err != nil {
		return nil, err
	}

	if sess.Counts.ForPhase(domain.PhaseSecondInterview) >= s.phaseLimit {
		return s.runReportTransition(ctx, sess)
	}
	return s.buildResponse(sess, turn.Message, domain.MessageTypeQuestion, false), nil
}

// commitTurn persists one successful interview exchange. The user turn and
// its counter land before the report update so the report revision is
// attributed to the turn that prompted it, and before the assistant turn so
// history stays in speaking order. Returns the refreshed session.
func (s *Service) commitTurn(ctx context.Context, sess *domain.Session, phase domain.Phase,
	message *string, updatedReport string, updatedDiagnoses []byte, assistantText string,
	convIDs map[domain.Phase]string) (*domain.Session, error) {

	if message != nil {
		if err := s.store.AppendTurn(ctx, sess.ID, domain.SpeakerUser, *message); err != nil {
			return nil, fmt.Errorf("failed to append user turn: %w", err)
		}
		if err := s.store.IncrementCount(ctx, sess.ID, phase); err != nil {
			return nil, fmt.Errorf("failed to increment count: %w", err)
		}
	}

	upd := store.SessionUpdate{ConversationIDs: convIDs}
	if updatedReport != "" {
		upd.CurrentReport = &updatedReport
	}
	if len(updatedDiagnoses) > 0 {
		upd.Diagnoses = updatedDiagnoses
	}
	if upd.CurrentReport != nil || upd.Diagnoses != nil || len(convIDs) > 0 {
		if err := s.store.Update(ctx, sess.ID, upd); err != nil {
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
	}

	if err := s.store.AppendTurn(ctx, sess.ID, domain.SpeakerAssistant, assistantText); err != nil {
		return nil, fmt.Errorf("failed to append assistant turn: %w", err)
	}

	fresh, err := s.store.Resolve(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// screen runs the safety policy over the inbound message. It reports
// whether the response must carry the escalation advisory.
func (s *Service) screen(ctx context.Context, sess *domain.Session, message string) bool {
	if s.screener == nil || message == "" {
		return false
	}
	decision, err := s.screener.Evaluate(ctx, policy.Input{
		PatientID: sess.PatientID,
		Phase:     string(sess.Phase),
		Message:   message,
	})
	if err != nil {
		s.logger.Warn("message screening failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		return false
	}
	if decision == policy.DecisionEscalate {
		s.logger.Info("message escalated by safety policy",
			zap.String("session_id", sess.ID),
			zap.String("phase", string(sess.Phase)))
		return true
	}
	return false
}

// transitionKey returns the session's boundary idempotency key, minting and
// persisting one if the boundary is being crossed for the first time. The
// key survives a failed transition so the retried generative calls are
// deduplicated upstream.
func (s *Service) transitionKey(ctx context.Context, sess *domain.Session) (string, error) {
	if sess.TransitionKey != "" {
		return sess.TransitionKey, nil
	}
	key := uuid.New().String()
	if err := s.store.Update(ctx, sess.ID, store.SessionUpdate{TransitionKey: &key}); err != nil {
		return "", fmt.Errorf("failed to persist transition key: %w", err)
	}
	return key, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
