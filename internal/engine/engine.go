package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"regcycle/internal/audit"
	"regcycle/internal/catalog"
	"regcycle/internal/config"
	"regcycle/internal/domain"
	"regcycle/internal/repo"
)

// Cycle statuses.
const (
	CycleActive    = "active"
	CyclePaused    = "paused"
	CycleCompleted = "completed"
	CycleCancelled = "cancelled"
)

// Engine is the workflow orchestration core: cycle lifecycle, step graph,
// agent dispatch, blocking checks and the human checkpoint gate.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	Config   *config.Config
	Executor AgentExecutor
	Now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockCycle serializes state-changing operations per cycle identity.
// Operations on different cycles proceed in parallel.
func (e *Engine) lockCycle(cycleID string) func() {
	e.mu.Lock()
	l, ok := e.locks[cycleID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[cycleID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// StartCycleOptions are parameters for starting a reporting cycle.
type StartCycleOptions struct {
	ReportID  string
	PeriodEnd string
	ActorID   string
}

// StartCycle creates a cycle with its checkpoints and step graph, sets it
// active in the data_gathering phase, and audits the creation. Cycle identity
// is derived from report and period, so the same period cannot start twice.
func (e *Engine) StartCycle(ctx context.Context, opts StartCycleOptions) (domain.CycleInstance, error) {
	if opts.ReportID == "" {
		return domain.CycleInstance{}, ValidationError{Field: "report_id", Reason: "required"}
	}
	if _, err := time.Parse("2006-01-02", opts.PeriodEnd); err != nil {
		return domain.CycleInstance{}, ValidationError{Field: "period_end", Reason: "must be YYYY-MM-DD"}
	}
	if _, err := e.Repo.GetReport(ctx, opts.ReportID); err != nil {
		return domain.CycleInstance{}, err
	}
	cycleID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ReportID+"|"+opts.PeriodEnd)).String()

	unlock := e.lockCycle(cycleID)
	defer unlock()

	if existing, err := e.Repo.GetCycle(ctx, cycleID); err == nil {
		return existing, InvalidStateError{Entity: "cycle", ID: cycleID, Status: existing.Status, Op: "start again"}
	} else if err != repo.ErrNotFound {
		return domain.CycleInstance{}, err
	}

	c := domain.CycleInstance{
		ID:        cycleID,
		ReportID:  opts.ReportID,
		PeriodEnd: opts.PeriodEnd,
		Status:    CycleActive,
		Phase:     string(catalog.PhaseDataGathering),
		StartedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CycleInstance{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCycleTx(ctx, tx, c); err != nil {
		return domain.CycleInstance{}, err
	}
	for i, step := range BuildSteps(cycleID) {
		if err := e.Repo.InsertStepTx(ctx, tx, step, i); err != nil {
			return domain.CycleInstance{}, err
		}
	}
	for _, phase := range catalog.Phases {
		spec := catalog.CheckpointFor(phase)
		cp := domain.Checkpoint{
			ID:                uuid.NewSHA1(uuid.NameSpaceOID, []byte(cycleID+"|checkpoint|"+spec.Name)).String(),
			CycleID:           cycleID,
			Name:              spec.Name,
			Phase:             string(phase),
			RequiredApprovals: []string{spec.RequiredRole},
			Status:            CheckpointPending,
		}
		if err := e.Repo.InsertCheckpointTx(ctx, tx, cp); err != nil {
			return domain.CycleInstance{}, err
		}
		c.Checkpoints = append(c.Checkpoints, cp)
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    opts.ActorID,
		ActorKind:  audit.ActorHuman,
		Action:     "cycle.started",
		EntityKind: "cycle",
		EntityID:   c.ID,
		CycleID:    c.ID,
		NewState:   c,
	}); err != nil {
		return domain.CycleInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CycleInstance{}, err
	}
	return c, nil
}

// PauseCycle halts an active cycle with a reason.
func (e *Engine) PauseCycle(ctx context.Context, cycleID, reason, actorID string) (domain.CycleInstance, error) {
	if reason == "" {
		return domain.CycleInstance{}, ValidationError{Field: "reason", Reason: "required"}
	}
	unlock := e.lockCycle(cycleID)
	defer unlock()

	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return c, err
	}
	if c.Status != CycleActive {
		return c, InvalidStateError{Entity: "cycle", ID: cycleID, Status: c.Status, Op: "pause"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	c, err = e.pauseTx(ctx, tx, c, reason, actorID, audit.ActorHuman)
	if err != nil {
		return c, err
	}
	return c, tx.Commit()
}

// pauseTx transitions an active cycle to paused inside the caller's tx.
// Callers must hold the cycle lock.
func (e *Engine) pauseTx(ctx context.Context, tx *sql.Tx, c domain.CycleInstance, reason, actorID, actorKind string) (domain.CycleInstance, error) {
	prev := c
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = CyclePaused
	c.PauseReason = &reason
	c.PausedAt = &now
	if err := e.Repo.UpdateCycleTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  actorKind,
		Action:     "cycle.paused",
		EntityKind: "cycle",
		EntityID:   c.ID,
		CycleID:    c.ID,
		PrevState:  cycleSnapshot(prev),
		NewState:   cycleSnapshot(c),
		Rationale:  reason,
	}); err != nil {
		return c, err
	}
	return c, nil
}

// ResumeCycle reactivates a paused cycle unless a blocking condition remains
// or a human task is still outstanding.
func (e *Engine) ResumeCycle(ctx context.Context, cycleID, actorID string) (domain.CycleInstance, error) {
	unlock := e.lockCycle(cycleID)
	defer unlock()

	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return c, err
	}
	if c.Status != CyclePaused {
		return c, InvalidStateError{Entity: "cycle", ID: cycleID, Status: c.Status, Op: "resume"}
	}
	if iss, err := e.HasBlockingCondition(ctx, c.ReportID); err != nil {
		return c, err
	} else if iss != nil {
		return c, BlockedError{IssueID: iss.ID, Title: iss.Title}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	// Counted in the same transaction as the status flip; a task created
	// concurrently cannot slip past.
	outstanding, err := e.Repo.CountOutstandingTasksTx(ctx, tx, c.ID, "")
	if err != nil {
		return c, err
	}
	if outstanding > 0 {
		return c, InvalidStateError{
			Entity: "cycle",
			ID:     cycleID,
			Status: c.Status,
			Op:     fmt.Sprintf("resume (%d outstanding human tasks)", outstanding),
		}
	}
	c, err = e.resumeTx(ctx, tx, c, actorID, audit.ActorHuman)
	if err != nil {
		return c, err
	}
	return c, tx.Commit()
}

func (e *Engine) resumeTx(ctx context.Context, tx *sql.Tx, c domain.CycleInstance, actorID, actorKind string) (domain.CycleInstance, error) {
	prev := c
	c.Status = CycleActive
	c.PauseReason = nil
	c.PausedAt = nil
	if err := e.Repo.UpdateCycleTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  actorKind,
		Action:     "cycle.resumed",
		EntityKind: "cycle",
		EntityID:   c.ID,
		CycleID:    c.ID,
		PrevState:  cycleSnapshot(prev),
		NewState:   cycleSnapshot(c),
	}); err != nil {
		return c, err
	}
	return c, nil
}

// AdvancePhase moves an active cycle to the next phase in fixed order. The
// step into submission requires the attestation gate to be satisfied. At the
// terminal phase the cycle is marked completed instead.
func (e *Engine) AdvancePhase(ctx context.Context, cycleID, actorID string) (domain.CycleInstance, error) {
	unlock := e.lockCycle(cycleID)
	defer unlock()

	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return c, err
	}
	if c.Status != CycleActive {
		return c, InvalidStateError{Entity: "cycle", ID: cycleID, Status: c.Status, Op: "advance phase"}
	}
	prev := c
	now := e.now().UTC().Format(time.RFC3339)
	next, ok := catalog.NextPhase(catalog.Phase(c.Phase))
	if !ok {
		c.Status = CycleCompleted
		c.CompletedAt = &now
	} else {
		if next == catalog.PhaseSubmission {
			ready, err := e.CanTransitionToSubmissionReady(ctx, cycleID)
			if err != nil {
				return c, err
			}
			if !ready {
				return c, InvalidStateError{Entity: "cycle", ID: cycleID, Status: "attestation pending", Op: "advance to submission"}
			}
		}
		c.Phase = string(next)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCycleTx(ctx, tx, c); err != nil {
		return c, err
	}
	action := "cycle.phase_advanced"
	if c.Status == CycleCompleted {
		action = "cycle.completed"
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorHuman,
		Action:     action,
		EntityKind: "cycle",
		EntityID:   c.ID,
		CycleID:    c.ID,
		PrevState:  cycleSnapshot(prev),
		NewState:   cycleSnapshot(c),
	}); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

// CancelCycle terminally cancels a cycle that has not completed.
func (e *Engine) CancelCycle(ctx context.Context, cycleID, reason, actorID string) (domain.CycleInstance, error) {
	unlock := e.lockCycle(cycleID)
	defer unlock()

	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return c, err
	}
	if c.Status == CycleCompleted || c.Status == CycleCancelled {
		return c, InvalidStateError{Entity: "cycle", ID: cycleID, Status: c.Status, Op: "cancel"}
	}
	prev := c
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = CycleCancelled
	c.CompletedAt = &now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCycleTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorHuman,
		Action:     "cycle.cancelled",
		EntityKind: "cycle",
		EntityID:   c.ID,
		CycleID:    c.ID,
		PrevState:  cycleSnapshot(prev),
		NewState:   cycleSnapshot(c),
		Rationale:  reason,
	}); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

// cycleSnapshot trims a cycle to its audited fields.
func cycleSnapshot(c domain.CycleInstance) map[string]any {
	snap := map[string]any{
		"status": c.Status,
		"phase":  c.Phase,
	}
	if c.PauseReason != nil {
		snap["pause_reason"] = *c.PauseReason
	}
	return snap
}
