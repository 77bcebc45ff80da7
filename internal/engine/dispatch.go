package engine

import (
	"context"
	"fmt"
	"time"

	"regcycle/internal/audit"
	"regcycle/internal/catalog"
	"regcycle/internal/domain"
)

// AgentContext carries the identifiers an agent needs to do its work.
type AgentContext struct {
	CycleID  string
	ReportID string
	Phase    string
}

// AgentResult reports a successful run.
type AgentResult struct {
	Output   map[string]any
	Duration time.Duration
}

// AgentExecutor performs the content-specific work of one agent invocation.
// The orchestrator only cares about success or failure and duration.
type AgentExecutor interface {
	Execute(ctx context.Context, workType catalog.WorkType, run AgentContext) (AgentResult, error)
}

// ExecutorFunc adapts a function to AgentExecutor.
type ExecutorFunc func(ctx context.Context, workType catalog.WorkType, run AgentContext) (AgentResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, workType catalog.WorkType, run AgentContext) (AgentResult, error) {
	return f(ctx, workType, run)
}

// runKey keys audit entries for agent run transitions.
func runKey(cycleID string, workType catalog.WorkType) string {
	return cycleID + ":" + string(workType)
}

// TriggerAgent dispatches one unit of automated work. It refuses unless the
// cycle is active, every prerequisite work type has completed, and no
// blocking condition exists; a block found here also pauses the cycle.
// Step status is marked in_progress before execution and completed or failed
// after, each transition audited.
func (e *Engine) TriggerAgent(ctx context.Context, workType, cycleID, actorID string) (domain.WorkflowStep, error) {
	if !catalog.ValidWorkType(workType) {
		return domain.WorkflowStep{}, ValidationError{Field: "work_type", Reason: fmt.Sprintf("unknown work type %s", workType)}
	}
	if e.Executor == nil {
		return domain.WorkflowStep{}, ValidationError{Field: "executor", Reason: "no agent executor configured"}
	}
	work := catalog.WorkType(workType)

	unlock := e.lockCycle(cycleID)
	defer unlock()

	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return domain.WorkflowStep{}, err
	}
	if c.Status != CycleActive {
		return domain.WorkflowStep{}, InvalidStateError{Entity: "cycle", ID: cycleID, Status: c.Status, Op: "trigger " + workType}
	}
	for _, dep := range catalog.DependenciesOf(work) {
		depStep, err := e.Repo.GetStepByWorkType(ctx, cycleID, string(dep))
		if err != nil {
			return domain.WorkflowStep{}, err
		}
		if depStep.Status != StepCompleted {
			return domain.WorkflowStep{}, DependencyNotSatisfiedError{
				WorkType:   workType,
				Dependency: string(dep),
				Status:     RunStatus(depStep),
			}
		}
	}
	iss, err := e.HasBlockingCondition(ctx, c.ReportID)
	if err != nil {
		return domain.WorkflowStep{}, err
	}
	if iss != nil {
		if _, err := e.checkAndPauseLocked(ctx, cycleID, actorID); err != nil {
			return domain.WorkflowStep{}, err
		}
		return domain.WorkflowStep{}, BlockedError{IssueID: iss.ID, Title: iss.Title}
	}

	step, err := e.Repo.GetStepByWorkType(ctx, cycleID, workType)
	if err != nil {
		return domain.WorkflowStep{}, err
	}
	started := e.now()
	step, err = e.markStepRunning(ctx, step, started, actorID, work)
	if err != nil {
		return step, err
	}

	result, execErr := e.Executor.Execute(ctx, work, AgentContext{
		CycleID:  cycleID,
		ReportID: c.ReportID,
		Phase:    c.Phase,
	})
	finished := e.now()
	if execErr != nil {
		step, err = e.markStepFailed(ctx, step, finished, execErr, actorID, work)
		if err != nil {
			return step, err
		}
		return step, fmt.Errorf("agent %s failed: %w", workType, execErr)
	}
	duration := result.Duration
	if duration == 0 {
		duration = finished.Sub(started)
	}
	return e.markStepCompleted(ctx, step, finished, duration, actorID, work)
}

func (e *Engine) markStepRunning(ctx context.Context, step domain.WorkflowStep, started time.Time, actorID string, work catalog.WorkType) (domain.WorkflowStep, error) {
	prev := step
	ts := started.UTC().Format(time.RFC3339)
	step.Status = StepInProgress
	step.StartedAt = &ts
	step.Error = nil
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return step, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStepTx(ctx, tx, step); err != nil {
		return step, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorAgent,
		Action:     "agent.run_started",
		EntityKind: "agent_run",
		EntityID:   runKey(step.CycleID, work),
		CycleID:    step.CycleID,
		PrevState:  map[string]any{"status": RunStatus(prev)},
		NewState:   map[string]any{"status": RunStatus(step)},
	}); err != nil {
		return step, err
	}
	return step, tx.Commit()
}

func (e *Engine) markStepCompleted(ctx context.Context, step domain.WorkflowStep, finished time.Time, duration time.Duration, actorID string, work catalog.WorkType) (domain.WorkflowStep, error) {
	prev := step
	ts := finished.UTC().Format(time.RFC3339)
	ms := duration.Milliseconds()
	step.Status = StepCompleted
	step.CompletedAt = &ts
	step.DurationMS = &ms
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return step, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStepTx(ctx, tx, step); err != nil {
		return step, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorAgent,
		Action:     "agent.run_completed",
		EntityKind: "agent_run",
		EntityID:   runKey(step.CycleID, work),
		CycleID:    step.CycleID,
		PrevState:  map[string]any{"status": RunStatus(prev)},
		NewState:   map[string]any{"status": RunStatus(step), "duration_ms": ms},
	}); err != nil {
		return step, err
	}
	return step, tx.Commit()
}

// markStepFailed records the failure state and audits it before the trigger
// error is surfaced, so the audit trail covers attempted work.
func (e *Engine) markStepFailed(ctx context.Context, step domain.WorkflowStep, finished time.Time, execErr error, actorID string, work catalog.WorkType) (domain.WorkflowStep, error) {
	prev := step
	ts := finished.UTC().Format(time.RFC3339)
	msg := execErr.Error()
	step.Status = StepFailed
	step.CompletedAt = &ts
	step.Error = &msg
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return step, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStepTx(ctx, tx, step); err != nil {
		return step, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorAgent,
		Action:     "agent.run_failed",
		EntityKind: "agent_run",
		EntityID:   runKey(step.CycleID, work),
		CycleID:    step.CycleID,
		PrevState:  map[string]any{"status": RunStatus(prev)},
		NewState:   map[string]any{"status": RunStatus(step), "error": msg},
	}); err != nil {
		return step, err
	}
	return step, tx.Commit()
}
