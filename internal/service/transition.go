package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/intake/internal/domain"
)

// runDiagnosisTransition crosses the initial_interview boundary: generate
// the differential, advance to the second interview and fetch its opening
// question, all within the triggering request. Work happens on a snapshot;
// the store only sees the fully transitioned session, so a failure anywhere
// leaves the pre-transition state current and the boundary retryable.
func (s *Service) runDiagnosisTransition(ctx context.Context, sess *domain.Session) (*domain.StepResponse, error) {
	key, err := s.transitionKey(ctx, sess)
	if err != nil {
		return nil, err
	}

	snap := sess.Clone()
	snap.TransitionKey = key
	snap.Phase = domain.PhaseDiagnosisGeneration

	diag, err := s.gateway.GenerateDiagnoses(ctx, snap.PatientID, snap.History, snap.CurrentReport, key)
	if err != nil {
		s.logger.Error("diagnosis generation failed, boundary left pending",
			zap.String("session_id", sess.ID), zap.Error(err))
		return nil, err
	}
	snap.Diagnoses = diag.Diagnoses
	snap.Phase = domain.PhaseSecondInterview

	opening, err := s.gateway.SecondInterviewTurn(ctx, snap.PatientID, "", snap.History, snap.CurrentReport, snap.Diagnoses, "")
	if err != nil {
		s.logger.Error("second interview opening failed, boundary left pending",
			zap.String("session_id", sess.ID), zap.Error(err))
		return nil, err
	}

	snap.ConversationIDs[domain.PhaseSecondInterview] = opening.ConversationID
	if opening.UpdatedReport != "" {
		snap.CurrentReport = opening.UpdatedReport
	}
	if len(opening.UpdatedDiagnoses) > 0 {
		snap.Diagnoses = opening.UpdatedDiagnoses
	}
	snap.History = append(snap.History, domain.Turn{
		Speaker: domain.SpeakerAssistant,
		Text:    opening.Message,
		At:      nowUTC(),
	})
	snap.TransitionKey = ""

	if err := s.store.Replace(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	s.recordTransition(domain.PhaseInitialInterview, domain.PhaseSecondInterview)
	s.logger.Info("session advanced to second interview",
		zap.String("session_id", sess.ID),
		zap.String("second_conversation_id", opening.ConversationID))

	return s.buildResponse(snap, opening.Message, domain.MessageTypeQuestion, true), nil
}

// runReportTransition crosses the second_interview boundary: generate the
// final report and finish the session. Same snapshot/swap discipline as the
// diagnosis transition.
func (s *Service) runReportTransition(ctx context.Context, sess *domain.Session) (*domain.StepResponse, error) {
	key, err := s.transitionKey(ctx, sess)
	if err != nil {
		return nil, err
	}

	snap := sess.Clone()
	snap.TransitionKey = key
	snap.Phase = domain.PhaseFinalReportGeneration

	report, err := s.gateway.GenerateReport(ctx, snap.PatientID, snap.History, snap.CurrentReport, snap.Diagnoses, key)
	if err != nil {
		s.logger.Error("final report generation failed, boundary left pending",
			zap.String("session_id", sess.ID), zap.Error(err))
		return nil, err
	}

	snap.FinalReport = report.Report
	snap.Phase = domain.PhaseCompleted
	snap.TransitionKey = ""

	if err := s.store.Replace(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	s.recordTransition(domain.PhaseSecondInterview, domain.PhaseCompleted)
	s.logger.Info("session completed",
		zap.String("session_id", sess.ID),
		zap.String("patient_id", sess.PatientID))

	return s.buildResponse(snap, completedMessage, domain.MessageTypeCompletion, true), nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
