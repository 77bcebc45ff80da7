package regcyclesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Regcycle HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Timeout: 10 * time.Second,
	}
}

// Cycle represents the API cycle model (partial).
type Cycle struct {
	ID        string `json:"id"`
	ReportID  string `json:"report_id"`
	PeriodEnd string `json:"period_end"`
	Phase     string `json:"phase"`
	Status    string `json:"status"`
}

// Step represents one workflow step.
type Step struct {
	ID           string   `json:"id"`
	CycleID      string   `json:"cycle_id"`
	Name         string   `json:"name"`
	Phase        string   `json:"phase"`
	IsCheckpoint bool     `json:"is_checkpoint"`
	DependsOn    []string `json:"depends_on,omitempty"`
	Status       string   `json:"status"`
}

// Task represents a human task.
type Task struct {
	ID           string  `json:"id"`
	CycleID      string  `json:"cycle_id"`
	TaskType     string  `json:"task_type"`
	Title        string  `json:"title"`
	RequiredRole string  `json:"required_role"`
	Status       string  `json:"status"`
	Decision     *string `json:"decision,omitempty"`
}

// ChecklistItem is one submission checklist entry.
type ChecklistItem struct {
	ID          string `json:"id"`
	CycleID     string `json:"cycle_id"`
	Description string `json:"description"`
	Role        string `json:"role"`
	DueDate     string `json:"due_date"`
	Completed   bool   `json:"completed"`
}

// Alert classifies an approaching deadline.
type Alert struct {
	CycleID       string `json:"cycle_id"`
	ItemKind      string `json:"item_kind"`
	ItemID        string `json:"item_id"`
	Description   string `json:"description"`
	DueDate       string `json:"due_date"`
	DaysRemaining int    `json:"days_remaining"`
	Level         string `json:"level"`
}

// AttestationStatus reports the submission gate.
type AttestationStatus struct {
	CycleID         string `json:"cycle_id"`
	Complete        bool   `json:"complete"`
	SubmissionReady bool   `json:"submission_ready"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartCycle starts a reporting cycle for a period.
func (c *Client) StartCycle(ctx context.Context, reportID, periodEnd string) (Cycle, error) {
	body := map[string]any{
		"report_id":  reportID,
		"period_end": periodEnd,
	}
	var resp struct {
		Cycle Cycle `json:"cycle"`
	}
	err := c.do(ctx, http.MethodPost, "v0/cycles", body, &resp)
	return resp.Cycle, err
}

// GetCycle fetches a cycle by id.
func (c *Client) GetCycle(ctx context.Context, cycleID string) (Cycle, error) {
	var resp struct {
		Cycle Cycle `json:"cycle"`
	}
	err := c.do(ctx, http.MethodGet, c.cyclePath(cycleID, ""), nil, &resp)
	return resp.Cycle, err
}

// Steps lists the workflow steps of a cycle.
func (c *Client) Steps(ctx context.Context, cycleID string) ([]Step, error) {
	var resp struct {
		Steps []Step `json:"steps"`
	}
	err := c.do(ctx, http.MethodGet, c.cyclePath(cycleID, "steps"), nil, &resp)
	return resp.Steps, err
}

// TriggerAgent dispatches one unit of automated work.
func (c *Client) TriggerAgent(ctx context.Context, cycleID, workType string) (Step, error) {
	var resp Step
	endpoint := c.cyclePath(cycleID, "agents/"+url.PathEscape(workType))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// PauseCycle pauses a cycle with a reason.
func (c *Client) PauseCycle(ctx context.Context, cycleID, reason string) (Cycle, error) {
	var resp struct {
		Cycle Cycle `json:"cycle"`
	}
	err := c.do(ctx, http.MethodPost, c.cyclePath(cycleID, "pause"), map[string]any{"reason": reason}, &resp)
	return resp.Cycle, err
}

// ResumeCycle resumes a paused cycle.
func (c *Client) ResumeCycle(ctx context.Context, cycleID string) (Cycle, error) {
	var resp struct {
		Cycle Cycle `json:"cycle"`
	}
	err := c.do(ctx, http.MethodPost, c.cyclePath(cycleID, "resume"), map[string]any{}, &resp)
	return resp.Cycle, err
}

// AdvancePhase moves a cycle to its next phase.
func (c *Client) AdvancePhase(ctx context.Context, cycleID string) (Cycle, error) {
	var resp struct {
		Cycle Cycle `json:"cycle"`
	}
	err := c.do(ctx, http.MethodPost, c.cyclePath(cycleID, "advance"), map[string]any{}, &resp)
	return resp.Cycle, err
}

// CreateTask opens a human task on a checkpoint.
func (c *Client) CreateTask(ctx context.Context, cycleID, taskType, title, assigneeID, requiredRole string) (Task, error) {
	body := map[string]any{
		"task_type":     taskType,
		"title":         title,
		"assignee_id":   assigneeID,
		"required_role": requiredRole,
	}
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, c.cyclePath(cycleID, "tasks"), body, &resp)
	return resp.Task, err
}

// CompleteTask records a task decision.
func (c *Client) CompleteTask(ctx context.Context, taskID, decision, rationale string) (Task, error) {
	body := map[string]any{
		"decision":  decision,
		"rationale": rationale,
	}
	var resp struct {
		Task Task `json:"task"`
	}
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Task, err
}

// GenerateChecklist builds the submission checklist for a cycle.
func (c *Client) GenerateChecklist(ctx context.Context, cycleID string) ([]ChecklistItem, error) {
	var resp struct {
		Items []ChecklistItem `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, c.cyclePath(cycleID, "checklist"), map[string]any{}, &resp)
	return resp.Items, err
}

// Alerts returns deadline alerts for a cycle.
func (c *Client) Alerts(ctx context.Context, cycleID string) ([]Alert, error) {
	var resp struct {
		Alerts []Alert `json:"alerts"`
	}
	err := c.do(ctx, http.MethodGet, c.cyclePath(cycleID, "alerts"), nil, &resp)
	return resp.Alerts, err
}

// Attestation returns the submission gate status for a cycle.
func (c *Client) Attestation(ctx context.Context, cycleID string) (AttestationStatus, error) {
	var resp AttestationStatus
	err := c.do(ctx, http.MethodGet, c.cyclePath(cycleID, "attestation"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) cyclePath(cycleID, p string) string {
	endpoint := fmt.Sprintf("v0/cycles/%s", url.PathEscape(cycleID))
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
