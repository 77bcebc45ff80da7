package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"regcycle/internal/catalog"
	"regcycle/internal/config"
	"regcycle/internal/db"
	"regcycle/internal/domain"
	"regcycle/internal/engine"
	"regcycle/internal/migrate"
	"regcycle/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("rep-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC) }
	eng.Executor = engine.ExecutorFunc(func(ctx context.Context, work catalog.WorkType, run engine.AgentContext) (engine.AgentResult, error) {
		return engine.AgentResult{Output: map[string]any{"ok": true}, Duration: 25 * time.Millisecond}, nil
	})
	ctx := context.Background()
	rep := domain.Report{
		ID:               "rep-1",
		Name:             "Test Report",
		Frequency:        "quarterly",
		DueDaysAfterEnd:  20,
		BusinessDaysOnly: true,
		CreatedAt:        "2025-01-01T00:00:00Z",
	}
	if err := eng.Repo.InsertReport(ctx, rep); err != nil {
		t.Fatalf("insert report: %v", err)
	}
	if err := eng.Repo.UpsertReportConfig(ctx, "rep-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func startCycle(t *testing.T, env testEnv) domain.CycleInstance {
	t.Helper()
	c, err := env.Engine.StartCycle(env.Ctx, engine.StartCycleOptions{
		ReportID:  "rep-1",
		PeriodEnd: "2024-12-31",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("start cycle: %v", err)
	}
	return c
}

// finishDataGathering runs the data_gathering agents so the data_signoff
// checkpoint becomes reviewable.
func finishDataGathering(t *testing.T, env testEnv, cycleID string) {
	t.Helper()
	for _, work := range []string{"regulatory_intelligence", "data_requirements", "data_mapping"} {
		if _, err := env.Engine.TriggerAgent(env.Ctx, work, cycleID, "agent-1"); err != nil {
			t.Fatalf("run %s: %v", work, err)
		}
	}
}

func TestStartCycleInitializesGraph(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	if c.Status != engine.CycleActive || c.Phase != "data_gathering" {
		t.Fatalf("got status=%s phase=%s", c.Status, c.Phase)
	}
	steps, err := env.Engine.Repo.ListSteps(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	// 7 agent steps plus 5 checkpoint steps
	if len(steps) != 12 {
		t.Fatalf("expected 12 steps, got %d", len(steps))
	}
	for _, s := range steps {
		if s.Status != engine.StepPending {
			t.Fatalf("step %s not pending: %s", s.Name, s.Status)
		}
	}
	cps, err := env.Engine.Repo.ListCheckpoints(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(cps) != 5 {
		t.Fatalf("expected 5 checkpoints, got %d", len(cps))
	}
}

func TestStartCycleTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	startCycle(t, env)
	_, err := env.Engine.StartCycle(env.Ctx, engine.StartCycleOptions{
		ReportID:  "rep-1",
		PeriodEnd: "2024-12-31",
		ActorID:   "tester",
	})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestDependencyGating(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)

	_, err := env.Engine.TriggerAgent(env.Ctx, "data_requirements", c.ID, "agent-1")
	var de engine.DependencyNotSatisfiedError
	if !errors.As(err, &de) {
		t.Fatalf("expected DependencyNotSatisfiedError, got %v", err)
	}
	if de.Dependency != "regulatory_intelligence" {
		t.Fatalf("wrong dependency: %s", de.Dependency)
	}

	step, err := env.Engine.TriggerAgent(env.Ctx, "regulatory_intelligence", c.ID, "agent-1")
	if err != nil {
		t.Fatalf("trigger regulatory_intelligence: %v", err)
	}
	if step.Status != engine.StepCompleted {
		t.Fatalf("step not completed: %s", step.Status)
	}
	if step.DurationMS == nil || *step.DurationMS != 25 {
		t.Fatalf("duration not recorded: %v", step.DurationMS)
	}

	step, err = env.Engine.TriggerAgent(env.Ctx, "data_requirements", c.ID, "agent-1")
	if err != nil || step.Status != engine.StepCompleted {
		t.Fatalf("trigger after dependency completed: %v (status %s)", err, step.Status)
	}
}

func TestTriggerUnknownWorkType(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	_, err := env.Engine.TriggerAgent(env.Ctx, "nonsense", c.ID, "agent-1")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestAgentFailureMarksStepFailed(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	env.Engine.Executor = engine.ExecutorFunc(func(ctx context.Context, work catalog.WorkType, run engine.AgentContext) (engine.AgentResult, error) {
		return engine.AgentResult{}, errors.New("feed unavailable")
	})
	_, err := env.Engine.TriggerAgent(env.Ctx, "regulatory_intelligence", c.ID, "agent-1")
	if err == nil {
		t.Fatalf("expected trigger error")
	}
	step, err := env.Engine.Repo.GetStepByWorkType(env.Ctx, c.ID, "regulatory_intelligence")
	if err != nil {
		t.Fatalf("get step: %v", err)
	}
	if step.Status != engine.StepFailed {
		t.Fatalf("step not failed: %s", step.Status)
	}
	if step.Error == nil || *step.Error != "feed unavailable" {
		t.Fatalf("error not recorded: %v", step.Error)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)

	c, err := env.Engine.PauseCycle(env.Ctx, c.ID, "quarter close delayed", "tester")
	if err != nil || c.Status != engine.CyclePaused {
		t.Fatalf("pause: %v (status %s)", err, c.Status)
	}
	if c.PauseReason == nil || *c.PauseReason != "quarter close delayed" {
		t.Fatalf("pause reason not recorded")
	}

	_, err = env.Engine.PauseCycle(env.Ctx, c.ID, "again", "tester")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("double pause: expected InvalidStateError, got %v", err)
	}

	c, err = env.Engine.ResumeCycle(env.Ctx, c.ID, "tester")
	if err != nil || c.Status != engine.CycleActive {
		t.Fatalf("resume: %v (status %s)", err, c.Status)
	}
	if c.PauseReason != nil {
		t.Fatalf("pause reason not cleared")
	}

	_, err = env.Engine.ResumeCycle(env.Ctx, c.ID, "tester")
	if !errors.As(err, &ise) {
		t.Fatalf("double resume: expected InvalidStateError, got %v", err)
	}
}

func TestHumanTaskPausesCycleAndApprovalResumes(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	finishDataGathering(t, env, c.ID)

	task, err := env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "data_signoff",
		Title:        "Sign off Q4 source data",
		AssigneeID:   "alice",
		RequiredRole: "data_steward",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	c, err = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if err != nil || c.Status != engine.CyclePaused {
		t.Fatalf("cycle not paused while task outstanding: %v (status %s)", err, c.Status)
	}
	step, err := env.Engine.Repo.GetCheckpointStep(env.Ctx, c.ID, "data_signoff")
	if err != nil || step.Status != engine.StepWaitingForHuman {
		t.Fatalf("checkpoint step: %v (status %s)", err, step.Status)
	}

	task, err = env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionApproved, "data verified", "alice")
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if task.Status != engine.TaskCompleted || task.Decision == nil || *task.Decision != engine.DecisionApproved {
		t.Fatalf("task not completed approved: %+v", task)
	}
	c, err = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if err != nil || c.Status != engine.CycleActive {
		t.Fatalf("cycle not resumed after last task: %v (status %s)", err, c.Status)
	}
	step, _ = env.Engine.Repo.GetCheckpointStep(env.Ctx, c.ID, "data_signoff")
	if step.Status != engine.StepCompleted {
		t.Fatalf("checkpoint step not completed: %s", step.Status)
	}
	cp, err := env.Engine.Repo.GetCheckpointByName(env.Ctx, c.ID, "data_signoff")
	if err != nil || cp.Status != engine.CheckpointCompleted {
		t.Fatalf("checkpoint not completed: %v (status %s)", err, cp.Status)
	}
}

func TestCheckpointTaskRequiresPhaseWorkDone(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)

	opts := engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "data_signoff",
		Title:        "Sign off Q4 source data",
		AssigneeID:   "alice",
		RequiredRole: "data_steward",
		ActorID:      "tester",
	}

	// nothing has run: the checkpoint has no work to review
	_, err := env.Engine.CreateHumanTask(env.Ctx, opts)
	var dep engine.DependencyNotSatisfiedError
	if !errors.As(err, &dep) {
		t.Fatalf("expected DependencyNotSatisfiedError, got %v", err)
	}
	if dep.Dependency != "regulatory_intelligence" {
		t.Fatalf("first unmet predecessor: %s", dep.Dependency)
	}
	step, err := env.Engine.Repo.GetCheckpointStep(env.Ctx, c.ID, "data_signoff")
	if err != nil || step.Status != engine.StepPending {
		t.Fatalf("refused create must leave step pending: %v (status %s)", err, step.Status)
	}
	c, _ = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if c.Status != engine.CycleActive {
		t.Fatalf("refused create must not pause the cycle, got %s", c.Status)
	}

	// partial progress is still refused, naming the next unmet predecessor
	if _, err := env.Engine.TriggerAgent(env.Ctx, "regulatory_intelligence", c.ID, "agent-1"); err != nil {
		t.Fatalf("run regulatory_intelligence: %v", err)
	}
	_, err = env.Engine.CreateHumanTask(env.Ctx, opts)
	if !errors.As(err, &dep) || dep.Dependency != "data_requirements" {
		t.Fatalf("expected data_requirements unmet, got %v", err)
	}

	// once the phase's agents are done the checkpoint opens
	for _, work := range []string{"data_requirements", "data_mapping"} {
		if _, err := env.Engine.TriggerAgent(env.Ctx, work, c.ID, "agent-1"); err != nil {
			t.Fatalf("run %s: %v", work, err)
		}
	}
	if _, err := env.Engine.CreateHumanTask(env.Ctx, opts); err != nil {
		t.Fatalf("create after phase work done: %v", err)
	}
	step, _ = env.Engine.Repo.GetCheckpointStep(env.Ctx, c.ID, "data_signoff")
	if step.Status != engine.StepWaitingForHuman {
		t.Fatalf("checkpoint step after create: %s", step.Status)
	}
}

func TestResumeRefusedWhileTaskOutstanding(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	finishDataGathering(t, env, c.ID)
	task, err := env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "data_signoff",
		Title:        "Sign off Q4 source data",
		AssigneeID:   "alice",
		RequiredRole: "data_steward",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err = env.Engine.ResumeCycle(env.Ctx, c.ID, "tester")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError on resume with outstanding task, got %v", err)
	}
	c, _ = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if c.Status != engine.CyclePaused {
		t.Fatalf("cycle must stay paused, got %s", c.Status)
	}

	// approving the last task resumes the cycle
	if _, err := env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionApproved, "data verified", "alice"); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	c, _ = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if c.Status != engine.CycleActive {
		t.Fatalf("cycle not resumed after approval, got %s", c.Status)
	}
}

func TestRejectionFailsStepAndKeepsCyclePaused(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	finishDataGathering(t, env, c.ID)
	task, err := env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "data_signoff",
		Title:        "Sign off Q4 source data",
		AssigneeID:   "alice",
		RequiredRole: "data_steward",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionRejected, "numbers off", "alice"); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	step, _ := env.Engine.Repo.GetCheckpointStep(env.Ctx, c.ID, "data_signoff")
	if step.Status != engine.StepFailed {
		t.Fatalf("step after rejection: %s", step.Status)
	}
	cp, _ := env.Engine.Repo.GetCheckpointByName(env.Ctx, c.ID, "data_signoff")
	if cp.Status != engine.CheckpointSkipped {
		t.Fatalf("checkpoint after rejection: %s", cp.Status)
	}
	c, _ = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if c.Status != engine.CyclePaused {
		t.Fatalf("cycle resumed despite rejection: %s", c.Status)
	}
}

func TestCompleteTaskTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	finishDataGathering(t, env, c.ID)
	task, err := env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "data_signoff",
		Title:        "Sign off",
		AssigneeID:   "alice",
		RequiredRole: "data_steward",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionApproved, "ok", "alice"); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	_, err = env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionApproved, "ok again", "alice")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("second completion: expected InvalidStateError, got %v", err)
	}
}

func TestCompleteTaskRequiresRationale(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CompleteHumanTask(env.Ctx, "whatever", engine.DecisionApproved, "", "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "rationale" {
		t.Fatalf("expected rationale ValidationError, got %v", err)
	}
}

func TestEscalatedTaskStaysOutstanding(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	finishDataGathering(t, env, c.ID)
	task, err := env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "data_signoff",
		Title:        "Sign off",
		AssigneeID:   "alice",
		RequiredRole: "data_steward",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = env.Engine.EscalateTask(env.Ctx, task.ID, 1, "scheduler")
	if err != nil || task.Status != engine.TaskEscalated || task.EscalationLevel != 1 {
		t.Fatalf("escalate: %v (%+v)", err, task)
	}
	c, _ = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if c.Status != engine.CyclePaused {
		t.Fatalf("escalated task should keep cycle paused, got %s", c.Status)
	}
	// escalated tasks can still be completed
	if _, err := env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionApproved, "done late", "alice"); err != nil {
		t.Fatalf("complete escalated: %v", err)
	}
}

func TestAttestationGatesSubmissionPhase(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)

	// walk to the approval phase
	for _, want := range []string{"validation", "review", "approval"} {
		var err error
		c, err = env.Engine.AdvancePhase(env.Ctx, c.ID, "tester")
		if err != nil {
			t.Fatalf("advance to %s: %v", want, err)
		}
		if c.Phase != want {
			t.Fatalf("expected phase %s, got %s", want, c.Phase)
		}
	}

	// gate closed: no attestation yet
	_, err := env.Engine.AdvancePhase(env.Ctx, c.ID, "tester")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected gate InvalidStateError, got %v", err)
	}

	// approved_with_changes completes the checkpoint task but does not attest
	task, err := env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "attestation",
		Title:        "Q4 CFO attestation",
		AssigneeID:   "cfo-1",
		RequiredRole: "cfo",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create attestation task: %v", err)
	}
	if _, err := env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionApprovedWithChanges, "pending adjustments", "cfo-1"); err != nil {
		t.Fatalf("complete with changes: %v", err)
	}
	ready, err := env.Engine.CanTransitionToSubmissionReady(env.Ctx, c.ID)
	if err != nil || ready {
		t.Fatalf("gate should stay closed on approved_with_changes: ready=%v err=%v", ready, err)
	}
	_, err = env.Engine.AdvancePhase(env.Ctx, c.ID, "tester")
	if !errors.As(err, &ise) {
		t.Fatalf("advance should still fail, got %v", err)
	}

	// a fresh attestation approved outright opens the gate
	task, err = env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
		CycleID:      c.ID,
		TaskType:     "attestation",
		Title:        "Q4 CFO attestation (revised)",
		AssigneeID:   "cfo-1",
		RequiredRole: "cfo",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create second attestation task: %v", err)
	}
	if _, err := env.Engine.CompleteHumanTask(env.Ctx, task.ID, engine.DecisionApproved, "figures verified", "cfo-1"); err != nil {
		t.Fatalf("approve attestation: %v", err)
	}
	ready, err = env.Engine.CanTransitionToSubmissionReady(env.Ctx, c.ID)
	if err != nil || !ready {
		t.Fatalf("gate should open: ready=%v err=%v", ready, err)
	}
	c, err = env.Engine.AdvancePhase(env.Ctx, c.ID, "tester")
	if err != nil || c.Phase != "submission" {
		t.Fatalf("advance to submission: %v (phase %s)", err, c.Phase)
	}

	// terminal advance completes the cycle
	c, err = env.Engine.AdvancePhase(env.Ctx, c.ID, "tester")
	if err != nil || c.Status != engine.CycleCompleted {
		t.Fatalf("final advance: %v (status %s)", err, c.Status)
	}
	if c.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
}

func TestCriticalIssueBlocksCycle(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	iss := domain.Issue{
		ID:              "iss-1",
		Title:           "GL feed corrupted",
		Severity:        "critical",
		Status:          "open",
		ImpactedReports: []string{"rep-1"},
		CreatedAt:       "2025-01-15T08:00:00Z",
	}
	if err := env.Engine.Repo.InsertIssue(env.Ctx, iss); err != nil {
		t.Fatalf("insert issue: %v", err)
	}

	_, err := env.Engine.TriggerAgent(env.Ctx, "regulatory_intelligence", c.ID, "agent-1")
	var be engine.BlockedError
	if !errors.As(err, &be) || be.IssueID != "iss-1" {
		t.Fatalf("expected BlockedError for iss-1, got %v", err)
	}
	c, _ = env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if c.Status != engine.CyclePaused {
		t.Fatalf("cycle not auto-paused: %s", c.Status)
	}

	// resume is refused while the block remains
	_, err = env.Engine.ResumeCycle(env.Ctx, c.ID, "tester")
	if !errors.As(err, &be) {
		t.Fatalf("resume should be blocked, got %v", err)
	}

	now := "2025-01-15T10:00:00Z"
	if err := env.Engine.Repo.UpdateIssueStatus(env.Ctx, "iss-1", "resolved", &now); err != nil {
		t.Fatalf("resolve issue: %v", err)
	}
	c, err = env.Engine.ResumeCycle(env.Ctx, c.ID, "tester")
	if err != nil || c.Status != engine.CycleActive {
		t.Fatalf("resume after resolution: %v (status %s)", err, c.Status)
	}
}

func TestNonCriticalIssueDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	iss := domain.Issue{
		ID:              "iss-2",
		Title:           "Minor mapping gap",
		Severity:        "high",
		Status:          "open",
		ImpactedReports: []string{"rep-1"},
		CreatedAt:       "2025-01-15T08:00:00Z",
	}
	if err := env.Engine.Repo.InsertIssue(env.Ctx, iss); err != nil {
		t.Fatalf("insert issue: %v", err)
	}
	step, err := env.Engine.TriggerAgent(env.Ctx, "regulatory_intelligence", c.ID, "agent-1")
	if err != nil || step.Status != engine.StepCompleted {
		t.Fatalf("high-severity issue must not block: %v", err)
	}
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	if _, err := env.Engine.TriggerAgent(env.Ctx, "regulatory_intelligence", c.ID, "agent-1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := env.Engine.PauseCycle(env.Ctx, c.ID, "checking", "tester"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilter{CycleID: c.ID, Limit: 50})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		seen[entry.Action] = true
		if entry.TS == "" || entry.ActorID == "" {
			t.Fatalf("audit entry missing actor or timestamp: %+v", entry)
		}
	}
	for _, action := range []string{"cycle.started", "agent.run_started", "agent.run_completed", "cycle.paused"} {
		if !seen[action] {
			t.Fatalf("missing audit action %s (have %v)", action, seen)
		}
	}
}
