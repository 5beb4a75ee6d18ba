package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/intake/internal/adapter/agents"
	"github.com/careloop/intake/internal/domain"
	"github.com/careloop/intake/internal/service"
	"github.com/careloop/intake/internal/store"
)

// stubGateway serves a scripted happy path.
type stubGateway struct {
	turns int
}

func (s *stubGateway) StartInterview(ctx context.Context, patientID string) (*agents.StartResult, error) {
	return &agents.StartResult{Message: "welcome", ConversationID: "conv-1"}, nil
}

func (s *stubGateway) InterviewTurn(ctx context.Context, patientID, conversationID string, history []domain.Turn, message, currentReport string) (*agents.TurnResult, error) {
	s.turns++
	return &agents.TurnResult{Message: fmt.Sprintf("q%d", s.turns), ConversationID: conversationID}, nil
}

func (s *stubGateway) GenerateDiagnoses(ctx context.Context, patientID string, history []domain.Turn, currentReport, idempotencyKey string) (*agents.DiagnosesResult, error) {
	return &agents.DiagnosesResult{Diagnoses: json.RawMessage(`["migraine"]`)}, nil
}

func (s *stubGateway) SecondInterviewTurn(ctx context.Context, patientID, conversationID string, history []domain.Turn, currentReport string, diagnoses json.RawMessage, message string) (*agents.SecondTurnResult, error) {
	id := conversationID
	if id == "" {
		id = "conv-2"
	}
	return &agents.SecondTurnResult{Message: "targeted question", ConversationID: id}, nil
}

func (s *stubGateway) GenerateReport(ctx context.Context, patientID string, history []domain.Turn, currentReport string, diagnoses json.RawMessage, idempotencyKey string) (*agents.ReportResult, error) {
	return &agents.ReportResult{Success: true, Report: "final report"}, nil
}

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	svc := service.New(store.NewMemoryStore(), &stubGateway{}, zap.NewNop(), 10)
	return NewHandler(svc, zap.NewNop()), echo.New()
}

func postJSON(t *testing.T, e *echo.Echo, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/intake/message", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, h.StepIntake(c))
	return rec
}

func TestStepIntakeCreatesSession(t *testing.T) {
	h, e := newTestHandler(t)

	rec := postJSON(t, e, h, `{"patient_id":"p1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.StepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, domain.PhaseInitialInterview, resp.Phase)
	assert.Equal(t, "welcome", resp.Message)
	assert.Equal(t, 10, resp.Progress.PhaseMessageLimit)
	assert.True(t, resp.ExpectsInput)
}

func TestStepIntakeMissingPatientID(t *testing.T) {
	h, e := newTestHandler(t)

	rec := postJSON(t, e, h, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "patient_id")
}

func TestStepIntakeUnknownConversation(t *testing.T) {
	h, e := newTestHandler(t)

	rec := postJSON(t, e, h, `{"conversation_id":"ghost","message":"hi"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestStepIntakeTurnAndProgress(t *testing.T) {
	h, e := newTestHandler(t)
	postJSON(t, e, h, `{"patient_id":"p1"}`)

	rec := postJSON(t, e, h, `{"conversation_id":"conv-1","message":"I have headaches"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.StepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Progress.CurrentPhaseMessageCount)
	assert.Equal(t, 1, resp.Progress.TotalMessages)
	assert.False(t, resp.Progress.IsPhaseComplete)
	assert.Equal(t, "q1", resp.Message)
	assert.False(t, resp.PhaseTransition)
}

func TestStepIntakeFullFlowOverHTTP(t *testing.T) {
	h, e := newTestHandler(t)
	postJSON(t, e, h, `{"patient_id":"p1"}`)

	var resp domain.StepResponse
	for i := 1; i <= 10; i++ {
		rec := postJSON(t, e, h, fmt.Sprintf(`{"conversation_id":"conv-1","message":"answer %d"}`, i))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	assert.Equal(t, domain.PhaseSecondInterview, resp.Phase)
	assert.True(t, resp.PhaseTransition)
	assert.Equal(t, "conv-2", resp.ConversationID)
	assert.NotNil(t, resp.Diagnoses)

	// the client continues with the new conversation id
	for i := 1; i <= 10; i++ {
		rec := postJSON(t, e, h, fmt.Sprintf(`{"conversation_id":"conv-2","message":"detail %d"}`, i))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	assert.Equal(t, domain.PhaseCompleted, resp.Phase)
	assert.Equal(t, "final report", resp.FinalReport)
	assert.False(t, resp.ExpectsInput)
}

func TestGetSessionSnapshot(t *testing.T) {
	h, e := newTestHandler(t)
	postJSON(t, e, h, `{"patient_id":"p1"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/conv-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues("conv-1")
	require.NoError(t, h.GetSession(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.StepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.PhaseInitialInterview, resp.Phase)
	assert.Empty(t, resp.Message)
}

func TestGetSessionNotFound(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/ghost", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues("ghost")
	require.NoError(t, h.GetSession(c))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, h.Health(c))
	require.Equal(t, http.StatusOK, rec.Code)
}
