package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"regcycle/internal/catalog"
	"regcycle/internal/config"
	"regcycle/internal/db"
	"regcycle/internal/domain"
	"regcycle/internal/engine"
	"regcycle/internal/migrate"
	"regcycle/internal/scheduler"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("rep-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Executor = engine.ExecutorFunc(func(ctx context.Context, work catalog.WorkType, run engine.AgentContext) (engine.AgentResult, error) {
		return engine.AgentResult{Duration: 10 * time.Millisecond}, nil
	})
	s := scheduler.New(conn, cfg)
	ctx := context.Background()
	rep := domain.Report{
		ID:               "rep-1",
		Name:             "Test Report",
		Frequency:        "quarterly",
		DueDaysAfterEnd:  20,
		BusinessDaysOnly: true,
		CreatedAt:        "2025-01-01T00:00:00Z",
	}
	if err := e.Repo.InsertReport(ctx, rep); err != nil {
		t.Fatalf("insert report: %v", err)
	}
	if err := e.Repo.UpsertReportConfig(ctx, "rep-1", cfg); err != nil {
		t.Fatalf("seed report config: %v", err)
	}
	handler, err := New(Config{Engine: e, Scheduler: s, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestCycleLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles", map[string]any{
		"report_id":  "rep-1",
		"period_end": "2024-12-31",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start cycle status %d: %s", res.StatusCode, string(data))
	}
	var started CycleResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal cycle: %v", err)
	}
	cycleID := started.Cycle.ID
	if started.Cycle.Phase != "data_gathering" {
		t.Fatalf("phase: %s", started.Cycle.Phase)
	}

	// duplicate start maps to the error envelope with a conflict code
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles", map[string]any{
		"report_id":  "rep-1",
		"period_end": "2024-12-31",
	})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate start status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_state" {
		t.Fatalf("error code: %s", envelope.Error.Code)
	}

	// dependency gating surfaces through the API
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles/"+cycleID+"/agents/data_requirements", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("gated trigger status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "dependency_not_satisfied" {
		t.Fatalf("error code: %s", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles/"+cycleID+"/agents/regulatory_intelligence", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trigger status %d: %s", res.StatusCode, string(data))
	}
	var step domain.WorkflowStep
	if err := json.Unmarshal(data, &step); err != nil {
		t.Fatalf("unmarshal step: %v", err)
	}
	if step.Status != engine.StepCompleted {
		t.Fatalf("step status: %s", step.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles/"+cycleID+"/steps", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list steps status %d: %s", res.StatusCode, string(data))
	}
	var steps StepsResponse
	if err := json.Unmarshal(data, &steps); err != nil {
		t.Fatalf("unmarshal steps: %v", err)
	}
	if len(steps.Steps) != 12 {
		t.Fatalf("expected 12 steps, got %d", len(steps.Steps))
	}
}

func TestHumanTaskAndAttestationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles", map[string]any{
		"report_id":  "rep-1",
		"period_end": "2024-09-30",
	})
	var started CycleResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal cycle: %v", err)
	}
	cycleID := started.Cycle.ID

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles/"+cycleID+"/tasks", map[string]any{
		"task_type":     "attestation",
		"title":         "Q3 CFO attestation",
		"assignee_id":   "cfo-1",
		"required_role": "cfo",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	// creating the task paused the cycle
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles/"+cycleID, nil)
	var got CycleResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal cycle: %v", err)
	}
	if got.Cycle.Status != engine.CyclePaused {
		t.Fatalf("cycle status after task: %s", got.Cycle.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles/"+cycleID+"/attestation", nil)
	var att AttestationResponse
	if err := json.Unmarshal(data, &att); err != nil {
		t.Fatalf("unmarshal attestation: %v", err)
	}
	if att.Complete || att.SubmissionReady {
		t.Fatalf("gate open before approval: %+v", att)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Task.ID+"/complete", map[string]any{
		"decision":  "approved",
		"rationale": "figures verified",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete task status %d: %s", res.StatusCode, string(data))
	}

	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles/"+cycleID+"/attestation", nil)
	if err := json.Unmarshal(data, &att); err != nil {
		t.Fatalf("unmarshal attestation: %v", err)
	}
	if !att.Complete || !att.SubmissionReady {
		t.Fatalf("gate closed after approval: %+v", att)
	}

	// rationale is mandatory
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Task.ID+"/complete", map[string]any{
		"decision":  "approved",
		"rationale": "",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty rationale status %d: %s", res.StatusCode, string(data))
	}
}

func TestChecklistAndAlertsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles", map[string]any{
		"report_id":  "rep-1",
		"period_end": "2024-12-31",
	})
	var started CycleResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal cycle: %v", err)
	}
	cycleID := started.Cycle.ID

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles/"+cycleID+"/checklist", nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate checklist status %d: %s", res.StatusCode, string(data))
	}
	var checklist ChecklistResponse
	if err := json.Unmarshal(data, &checklist); err != nil {
		t.Fatalf("unmarshal checklist: %v", err)
	}
	if len(checklist.Items) != 5 {
		t.Fatalf("expected 5 quarterly items, got %d", len(checklist.Items))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/checklist/"+checklist.Items[0].ID, map[string]any{
		"completed": true,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update item status %d: %s", res.StatusCode, string(data))
	}
	var updated ChecklistItemResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if !updated.Item.Completed || updated.AllDone {
		t.Fatalf("unexpected item state: %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles/"+cycleID+"/alerts", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alerts status %d: %s", res.StatusCode, string(data))
	}

	// unknown cycle maps to not_found
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles/no-such-cycle/alerts", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing cycle status %d: %s", res.StatusCode, string(data))
	}
}
