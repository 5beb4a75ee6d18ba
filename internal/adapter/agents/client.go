// Package agents provides the blocking HTTP gateway to the four external
// diagnostic agents. Every operation is a single request/response call with
// a generous timeout and no retries; retry policy belongs to callers, keyed
// by the idempotency key they pass for generative calls.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/careloop/intake/internal/domain"
)

// Agent names used in errors and metrics labels.
const (
	AgentInterview       = "interview"
	AgentDiagnosis       = "diagnosis"
	AgentSecondInterview = "second_interview"
	AgentFinalReport     = "final_report"
)

// Endpoints holds the base URLs of the four agents.
type Endpoints struct {
	Interview       string
	Diagnosis       string
	SecondInterview string
	FinalReport     string
}

// Observer is notified about every gateway call. Implementations must be
// cheap; the gateway calls them inline.
type Observer interface {
	ObserveCall(agent string, duration time.Duration, err error)
}

// Client is the HTTP client for the diagnostic agents.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	observer   Observer
}

// NewClient creates a gateway client. timeout bounds each call end to end;
// agent calls routinely take minutes. observer may be nil.
func NewClient(endpoints Endpoints, timeout time.Duration, observer Observer) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: timeout},
		observer:   observer,
	}
}

// StartInterview opens an interview conversation for the patient. The
// returned conversation id becomes the session's primary id.
func (c *Client) StartInterview(ctx context.Context, patientID string) (*StartResult, error) {
	var result StartResult
	if err := c.post(ctx, AgentInterview, c.endpoints.Interview, "/start", startRequest{PatientID: patientID}, &result); err != nil {
		return nil, err
	}
	if result.Message == "" || result.ConversationID == "" {
		return nil, &domain.CollaboratorError{Agent: AgentInterview, Err: fmt.Errorf("start reply missing message or conversation id")}
	}
	return &result, nil
}

// InterviewTurn runs one exchange of the initial interview. message may be
// empty to re-prompt without a user turn.
func (c *Client) InterviewTurn(ctx context.Context, patientID, conversationID string, history []domain.Turn, message, currentReport string) (*TurnResult, error) {
	req := turnRequest{
		PatientID:      patientID,
		ConversationID: conversationID,
		History:        wireHistory(history),
		Message:        message,
		CurrentReport:  currentReport,
	}
	var result TurnResult
	if err := c.post(ctx, AgentInterview, c.endpoints.Interview, "/turn", req, &result); err != nil {
		return nil, err
	}
	if result.Message == "" {
		return nil, &domain.CollaboratorError{Agent: AgentInterview, Err: fmt.Errorf("turn reply missing message")}
	}
	return &result, nil
}

// GenerateDiagnoses produces the ranked differential from the full first
// interview. A malformed diagnoses payload degrades to the raw text.
func (c *Client) GenerateDiagnoses(ctx context.Context, patientID string, history []domain.Turn, currentReport, idempotencyKey string) (*DiagnosesResult, error) {
	req := generateRequest{
		PatientID:      patientID,
		History:        wireHistory(history),
		CurrentReport:  currentReport,
		IdempotencyKey: idempotencyKey,
	}
	body, err := c.postRaw(ctx, AgentDiagnosis, c.endpoints.Diagnosis, "/generate", req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &domain.CollaboratorError{Agent: AgentDiagnosis, Err: fmt.Errorf("empty diagnoses payload")}
	}

	var result DiagnosesResult
	if jsonErr := json.Unmarshal(body, &result); jsonErr != nil || len(result.Diagnoses) == 0 {
		// Degrade: keep the agent's output as a JSON string so the
		// differential is never lost to a formatting slip.
		raw, _ := json.Marshal(string(body))
		result.Diagnoses = raw
	}
	return &result, nil
}

// SecondInterviewTurn runs one exchange of the targeted second interview.
// conversationID and message are empty on the opening call; the reply's
// conversation id starts a fresh external conversation.
func (c *Client) SecondInterviewTurn(ctx context.Context, patientID, conversationID string, history []domain.Turn, currentReport string, diagnoses json.RawMessage, message string) (*SecondTurnResult, error) {
	req := secondTurnRequest{
		PatientID:      patientID,
		ConversationID: conversationID,
		History:        wireHistory(history),
		CurrentReport:  currentReport,
		Diagnoses:      diagnoses,
		Message:        message,
	}
	var result SecondTurnResult
	if err := c.post(ctx, AgentSecondInterview, c.endpoints.SecondInterview, "/turn", req, &result); err != nil {
		return nil, err
	}
	if result.Message == "" || result.ConversationID == "" {
		return nil, &domain.CollaboratorError{Agent: AgentSecondInterview, Err: fmt.Errorf("turn reply missing message or conversation id")}
	}
	return &result, nil
}

// GenerateReport produces the final report from the completed interviews.
func (c *Client) GenerateReport(ctx context.Context, patientID string, history []domain.Turn, currentReport string, diagnoses json.RawMessage, idempotencyKey string) (*ReportResult, error) {
	req := reportRequest{
		PatientID:      patientID,
		History:        wireHistory(history),
		CurrentReport:  currentReport,
		Diagnoses:      diagnoses,
		IdempotencyKey: idempotencyKey,
	}
	var result ReportResult
	if err := c.post(ctx, AgentFinalReport, c.endpoints.FinalReport, "/generate", req, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "report generation failed"
		}
		return nil, &domain.CollaboratorError{Agent: AgentFinalReport, Err: fmt.Errorf("%s", msg)}
	}
	if result.Report == "" {
		return nil, &domain.CollaboratorError{Agent: AgentFinalReport, Err: fmt.Errorf("report reply missing report text")}
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, agent, base, path string, payload, result any) error {
	body, err := c.postRaw(ctx, agent, base, path, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return &domain.CollaboratorError{Agent: agent, Err: fmt.Errorf("failed to decode reply: %w", err)}
	}
	return nil
}

func (c *Client) postRaw(ctx context.Context, agent, base, path string, payload any) ([]byte, error) {
	start := time.Now()
	body, err := c.doPost(ctx, base, path, payload)
	if c.observer != nil {
		c.observer.ObserveCall(agent, time.Since(start), err)
	}
	if err != nil {
		return nil, &domain.CollaboratorError{Agent: agent, Err: err}
	}
	return body, nil
}

func (c *Client) doPost(ctx context.Context, base, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(base, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
