package service

import (
	"github.com/careloop/intake/internal/domain"
)

// buildResponse projects a session snapshot into the outward envelope. The
// conversation id is always the phase-appropriate external id: once the
// second interview starts, callers must continue with its id, not the
// session's primary id.
func (s *Service) buildResponse(sess *domain.Session, message, messageType string, transition bool) *domain.StepResponse {
	phaseCount := sess.Counts.ForPhase(sess.Phase)
	terminal := sess.Phase.Terminal()

	nextAction := domain.NextActionContinue
	if terminal {
		nextAction = domain.NextActionNone
	}

	return &domain.StepResponse{
		Success:        true,
		ConversationID: sess.ConversationID(),
		PatientID:      sess.PatientID,
		Phase:          sess.Phase,
		Progress: domain.Progress{
			CurrentPhaseMessageCount: phaseCount,
			TotalMessages:            sess.Counts.Total,
			PhaseMessageLimit:        s.phaseLimit,
			IsPhaseComplete:          terminal || (sess.Phase.Interview() && phaseCount >= s.phaseLimit),
		},
		Message:         message,
		MessageType:     messageType,
		UpdatedReport:   sess.CurrentReport,
		Diagnoses:       sess.Diagnoses,
		FinalReport:     sess.FinalReport,
		ExpectsInput:    !terminal,
		PhaseTransition: transition,
		NextAction:      nextAction,
	}
}
