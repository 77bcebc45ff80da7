package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regcycle/internal/audit"
	"regcycle/internal/catalog"
	"regcycle/internal/domain"
)

// Task statuses and decision outcomes.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskEscalated  = "escalated"

	DecisionApproved            = "approved"
	DecisionApprovedWithChanges = "approved_with_changes"
	DecisionRejected            = "rejected"
)

func validDecision(outcome string) bool {
	switch outcome {
	case DecisionApproved, DecisionApprovedWithChanges, DecisionRejected:
		return true
	}
	return false
}

// TaskCreateOptions are parameters for opening a human checkpoint task.
type TaskCreateOptions struct {
	CycleID      string
	TaskType     string
	Title        string
	Description  string
	AssigneeID   string
	RequiredRole string
	DueDate      string
	ActorID      string
}

// CreateHumanTask opens a pending decision request tied to a checkpoint,
// flips the checkpoint step to waiting_for_human, and pauses the cycle while
// the request is outstanding. A checkpoint cannot be put in front of a human
// before the work it reviews exists: every predecessor step must be completed
// first.
func (e *Engine) CreateHumanTask(ctx context.Context, opts TaskCreateOptions) (domain.HumanTask, error) {
	if opts.Title == "" {
		return domain.HumanTask{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.AssigneeID == "" {
		return domain.HumanTask{}, ValidationError{Field: "assignee_id", Reason: "required"}
	}
	if opts.RequiredRole == "" {
		return domain.HumanTask{}, ValidationError{Field: "required_role", Reason: "required"}
	}
	if e.Config != nil && !e.Config.HasRole(opts.RequiredRole) {
		return domain.HumanTask{}, ValidationError{Field: "required_role", Reason: fmt.Sprintf("unknown role %s", opts.RequiredRole)}
	}
	if opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
			return domain.HumanTask{}, ValidationError{Field: "due_date", Reason: "must be RFC3339"}
		}
	}

	unlock := e.lockCycle(opts.CycleID)
	defer unlock()

	c, err := e.Repo.GetCycle(ctx, opts.CycleID)
	if err != nil {
		return domain.HumanTask{}, err
	}
	cp, err := e.Repo.GetCheckpointByName(ctx, opts.CycleID, opts.TaskType)
	if err != nil {
		return domain.HumanTask{}, ValidationError{Field: "task_type", Reason: fmt.Sprintf("no checkpoint %s in cycle", opts.TaskType)}
	}
	step, err := e.Repo.GetCheckpointStep(ctx, opts.CycleID, cp.Name)
	if err != nil {
		return domain.HumanTask{}, err
	}
	for _, depID := range step.DependsOn {
		dep, err := e.Repo.GetStep(ctx, depID)
		if err != nil {
			return domain.HumanTask{}, err
		}
		if dep.Status != StepCompleted {
			return domain.HumanTask{}, DependencyNotSatisfiedError{
				WorkType:   cp.Name,
				Dependency: dep.Name,
				Status:     RunStatus(dep),
			}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	t := domain.HumanTask{
		ID:           uuid.New().String(),
		CycleID:      opts.CycleID,
		TaskType:     opts.TaskType,
		Title:        opts.Title,
		Description:  opts.Description,
		AssigneeID:   opts.AssigneeID,
		RequiredRole: opts.RequiredRole,
		Status:       TaskPending,
		CreatedAt:    now,
	}
	if opts.DueDate != "" {
		t.DueDate = &opts.DueDate
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	prevStep := step
	step.Status = StepWaitingForHuman
	if err := e.Repo.UpdateStepTx(ctx, tx, step); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    opts.ActorID,
		ActorKind:  audit.ActorHuman,
		Action:     "task.created",
		EntityKind: "human_task",
		EntityID:   t.ID,
		CycleID:    t.CycleID,
		NewState:   taskSnapshot(t),
	}); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    opts.ActorID,
		ActorKind:  audit.ActorSystem,
		Action:     "step.waiting_for_human",
		EntityKind: "workflow_step",
		EntityID:   step.ID,
		CycleID:    t.CycleID,
		PrevState:  map[string]any{"status": prevStep.Status},
		NewState:   map[string]any{"status": step.Status},
	}); err != nil {
		return t, err
	}
	if c.Status == CycleActive {
		reason := fmt.Sprintf("awaiting human task: %s", t.Title)
		if _, err := e.pauseTx(ctx, tx, c, reason, opts.ActorID, audit.ActorSystem); err != nil {
			return t, err
		}
	}
	return t, tx.Commit()
}

// CompleteHumanTask records the decision for an outstanding task, updates the
// checkpoint and its step, and resumes the cycle when this was the last
// outstanding task and nothing blocks the report. Rationale is mandatory.
func (e *Engine) CompleteHumanTask(ctx context.Context, taskID, outcome, rationale, actorID string) (domain.HumanTask, error) {
	if !validDecision(outcome) {
		return domain.HumanTask{}, ValidationError{Field: "decision", Reason: fmt.Sprintf("unknown outcome %s", outcome)}
	}
	if rationale == "" {
		return domain.HumanTask{}, ValidationError{Field: "rationale", Reason: "required"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}

	unlock := e.lockCycle(t.CycleID)
	defer unlock()

	// Re-read under the lock; a concurrent completion may have landed.
	t, err = e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status == TaskCompleted {
		return t, InvalidStateError{Entity: "task", ID: taskID, Status: t.Status, Op: "complete"}
	}
	c, err := e.Repo.GetCycle(ctx, t.CycleID)
	if err != nil {
		return t, err
	}
	step, err := e.Repo.GetCheckpointStep(ctx, t.CycleID, t.TaskType)
	if err != nil {
		return t, err
	}
	cp, err := e.Repo.GetCheckpointByName(ctx, t.CycleID, t.TaskType)
	if err != nil {
		return t, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	prevTask := t
	now := e.now().UTC().Format(time.RFC3339)
	t.Status = TaskCompleted
	t.Decision = &outcome
	t.Rationale = &rationale
	t.CompletedAt = &now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorHuman,
		Action:     "task.completed",
		EntityKind: "human_task",
		EntityID:   t.ID,
		CycleID:    t.CycleID,
		PrevState:  taskSnapshot(prevTask),
		NewState:   taskSnapshot(t),
		Rationale:  rationale,
	}); err != nil {
		return t, err
	}

	prevStep := step
	if outcome == DecisionRejected {
		step.Status = StepFailed
	} else {
		step.Status = StepCompleted
		completed := now
		step.CompletedAt = &completed
	}
	if err := e.Repo.UpdateStepTx(ctx, tx, step); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorSystem,
		Action:     "step.decided",
		EntityKind: "workflow_step",
		EntityID:   step.ID,
		CycleID:    t.CycleID,
		PrevState:  map[string]any{"status": prevStep.Status},
		NewState:   map[string]any{"status": step.Status, "decision": outcome},
	}); err != nil {
		return t, err
	}

	prevCp := cp
	if outcome == DecisionRejected {
		cp.Status = CheckpointSkipped
	} else {
		if !containsString(cp.CompletedApprovals, t.RequiredRole) {
			cp.CompletedApprovals = append(cp.CompletedApprovals, t.RequiredRole)
		}
		if approvalsSatisfied(cp) {
			cp.Status = CheckpointCompleted
		}
	}
	if err := e.Repo.UpdateCheckpointTx(ctx, tx, cp); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorSystem,
		Action:     "checkpoint.updated",
		EntityKind: "checkpoint",
		EntityID:   cp.ID,
		CycleID:    t.CycleID,
		PrevState:  map[string]any{"status": prevCp.Status, "completed_approvals": prevCp.CompletedApprovals},
		NewState:   map[string]any{"status": cp.Status, "completed_approvals": cp.CompletedApprovals},
	}); err != nil {
		return t, err
	}

	if outcome != DecisionRejected {
		if err := e.maybeResumeTx(ctx, tx, c, t.ID, actorID); err != nil {
			return t, err
		}
	}
	return t, tx.Commit()
}

// maybeResumeTx resumes a paused cycle when no other outstanding task remains
// and no blocking condition exists. The outstanding-task count is taken inside
// the cycle lock and transaction, so a task created concurrently is observed.
func (e *Engine) maybeResumeTx(ctx context.Context, tx *sql.Tx, c domain.CycleInstance, completedTaskID, actorID string) error {
	outstanding, err := e.Repo.CountOutstandingTasksTx(ctx, tx, c.ID, completedTaskID)
	if err != nil {
		return err
	}
	if outstanding > 0 || c.Status != CyclePaused {
		return nil
	}
	iss, err := e.HasBlockingCondition(ctx, c.ReportID)
	if err != nil {
		return err
	}
	if iss != nil {
		return nil
	}
	_, err = e.resumeTx(ctx, tx, c, actorID, audit.ActorSystem)
	return err
}

// EscalateTask marks an outstanding task escalated at the given level. Levels
// are caller-supplied; monotonicity is the scheduling caller's concern.
func (e *Engine) EscalateTask(ctx context.Context, taskID string, level int, actorID string) (domain.HumanTask, error) {
	if level < 1 {
		return domain.HumanTask{}, ValidationError{Field: "level", Reason: "must be at least 1"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}

	unlock := e.lockCycle(t.CycleID)
	defer unlock()

	t, err = e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status == TaskCompleted {
		return t, InvalidStateError{Entity: "task", ID: taskID, Status: t.Status, Op: "escalate"}
	}
	prev := t
	t.Status = TaskEscalated
	t.EscalationLevel = level
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorSystem,
		Action:     "task.escalated",
		EntityKind: "human_task",
		EntityID:   t.ID,
		CycleID:    t.CycleID,
		PrevState:  taskSnapshot(prev),
		NewState:   taskSnapshot(t),
	}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// IsAttestationComplete reports whether the cycle's attestation task was
// completed with an approved decision. Nothing else satisfies the gate:
// approved_with_changes completes the checkpoint but not the attestation.
func (e *Engine) IsAttestationComplete(ctx context.Context, cycleID string) (bool, error) {
	tasks, err := e.Repo.TasksByType(ctx, cycleID, catalog.AttestationCheckpoint)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Status == TaskCompleted && t.Decision != nil && *t.Decision == DecisionApproved {
			return true, nil
		}
	}
	return false, nil
}

// CanTransitionToSubmissionReady is the attestation gate invariant as a query:
// true iff the attestation checkpoint is completed and its task was approved.
func (e *Engine) CanTransitionToSubmissionReady(ctx context.Context, cycleID string) (bool, error) {
	attested, err := e.IsAttestationComplete(ctx, cycleID)
	if err != nil || !attested {
		return false, err
	}
	cp, err := e.Repo.GetCheckpointByName(ctx, cycleID, catalog.AttestationCheckpoint)
	if err != nil {
		return false, err
	}
	return cp.Status == CheckpointCompleted, nil
}

func approvalsSatisfied(cp domain.Checkpoint) bool {
	for _, required := range cp.RequiredApprovals {
		if !containsString(cp.CompletedApprovals, required) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func taskSnapshot(t domain.HumanTask) map[string]any {
	snap := map[string]any{
		"status":           t.Status,
		"task_type":        t.TaskType,
		"escalation_level": t.EscalationLevel,
	}
	if t.Decision != nil {
		snap["decision"] = *t.Decision
	}
	return snap
}
