package repo

import (
	"context"
	"database/sql"

	"regcycle/internal/domain"
)

func (r Repo) InsertCycleTx(ctx context.Context, tx *sql.Tx, c domain.CycleInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cycles(id,report_id,period_end,status,phase,pause_reason,started_at,paused_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ReportID, c.PeriodEnd, c.Status, c.Phase, c.PauseReason, c.StartedAt, c.PausedAt, c.CompletedAt)
	return err
}

func (r Repo) GetCycle(ctx context.Context, id string) (domain.CycleInstance, error) {
	var c domain.CycleInstance
	var pauseReason, pausedAt, completedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,report_id,period_end,status,phase,pause_reason,started_at,paused_at,completed_at FROM cycles WHERE id=?`, id).
		Scan(&c.ID, &c.ReportID, &c.PeriodEnd, &c.Status, &c.Phase, &pauseReason, &c.StartedAt, &pausedAt, &completedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.PauseReason = strPtr(pauseReason)
	c.PausedAt = strPtr(pausedAt)
	c.CompletedAt = strPtr(completedAt)
	return c, nil
}

// UpdateCycleTx writes every mutable cycle field.
func (r Repo) UpdateCycleTx(ctx context.Context, tx *sql.Tx, c domain.CycleInstance) error {
	res, err := tx.ExecContext(ctx, `UPDATE cycles SET status=?, phase=?, pause_reason=?, paused_at=?, completed_at=? WHERE id=?`,
		c.Status, c.Phase, c.PauseReason, c.PausedAt, c.CompletedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListCycles(ctx context.Context, reportID string) ([]domain.CycleInstance, error) {
	query := `SELECT id,report_id,period_end,status,phase,pause_reason,started_at,paused_at,completed_at FROM cycles`
	var args []any
	if reportID != "" {
		query += ` WHERE report_id=?`
		args = append(args, reportID)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CycleInstance
	for rows.Next() {
		var c domain.CycleInstance
		var pauseReason, pausedAt, completedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.ReportID, &c.PeriodEnd, &c.Status, &c.Phase, &pauseReason, &c.StartedAt, &pausedAt, &completedAt); err != nil {
			return nil, err
		}
		c.PauseReason = strPtr(pauseReason)
		c.PausedAt = strPtr(pausedAt)
		c.CompletedAt = strPtr(completedAt)
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertStepTx(ctx context.Context, tx *sql.Tx, s domain.WorkflowStep, position int) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_steps(id,cycle_id,name,phase,work_type,is_checkpoint,required_role,depends_on_json,status,position) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.CycleID, s.Name, s.Phase, s.WorkType, boolInt(s.IsCheckpoint), s.RequiredRole, marshalStrings(s.DependsOn), s.Status, position)
	return err
}

const stepColumns = `id,cycle_id,name,phase,work_type,is_checkpoint,required_role,depends_on_json,status,error,started_at,completed_at,duration_ms`

func scanStep(scan func(dest ...any) error) (domain.WorkflowStep, error) {
	var s domain.WorkflowStep
	var workType, requiredRole, dependsOn, stepErr, startedAt, completedAt sql.NullString
	var isCheckpoint int
	var durationMS sql.NullInt64
	err := scan(&s.ID, &s.CycleID, &s.Name, &s.Phase, &workType, &isCheckpoint, &requiredRole, &dependsOn, &s.Status, &stepErr, &startedAt, &completedAt, &durationMS)
	if err != nil {
		return s, err
	}
	s.WorkType = strPtr(workType)
	s.IsCheckpoint = isCheckpoint != 0
	s.RequiredRole = strPtr(requiredRole)
	s.DependsOn = unmarshalStrings(dependsOn)
	s.Error = strPtr(stepErr)
	s.StartedAt = strPtr(startedAt)
	s.CompletedAt = strPtr(completedAt)
	s.DurationMS = int64Ptr(durationMS)
	return s, nil
}

func (r Repo) GetStep(ctx context.Context, id string) (domain.WorkflowStep, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE id=?`, id)
	s, err := scanStep(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// GetStepByWorkType resolves the agent step for a work type within one cycle.
func (r Repo) GetStepByWorkType(ctx context.Context, cycleID, workType string) (domain.WorkflowStep, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE cycle_id=? AND work_type=?`, cycleID, workType)
	s, err := scanStep(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// GetCheckpointStep resolves the checkpoint step by name within one cycle.
func (r Repo) GetCheckpointStep(ctx context.Context, cycleID, name string) (domain.WorkflowStep, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE cycle_id=? AND is_checkpoint=1 AND name=?`, cycleID, name)
	s, err := scanStep(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSteps(ctx context.Context, cycleID string) ([]domain.WorkflowStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE cycle_id=? ORDER BY position`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateStepTx(ctx context.Context, tx *sql.Tx, s domain.WorkflowStep) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflow_steps SET status=?, error=?, started_at=?, completed_at=?, duration_ms=? WHERE id=?`,
		s.Status, s.Error, s.StartedAt, s.CompletedAt, s.DurationMS, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertCheckpointTx(ctx context.Context, tx *sql.Tx, cp domain.Checkpoint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checkpoints(id,cycle_id,name,phase,required_approvals_json,completed_approvals_json,status) VALUES (?,?,?,?,?,?,?)`,
		cp.ID, cp.CycleID, cp.Name, cp.Phase, marshalStrings(cp.RequiredApprovals), marshalStrings(cp.CompletedApprovals), cp.Status)
	return err
}

func scanCheckpoint(scan func(dest ...any) error) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var required, completed sql.NullString
	err := scan(&cp.ID, &cp.CycleID, &cp.Name, &cp.Phase, &required, &completed, &cp.Status)
	if err != nil {
		return cp, err
	}
	cp.RequiredApprovals = unmarshalStrings(required)
	cp.CompletedApprovals = unmarshalStrings(completed)
	return cp, nil
}

func (r Repo) GetCheckpointByName(ctx context.Context, cycleID, name string) (domain.Checkpoint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,cycle_id,name,phase,required_approvals_json,completed_approvals_json,status FROM checkpoints WHERE cycle_id=? AND name=?`, cycleID, name)
	cp, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return cp, ErrNotFound
	}
	return cp, err
}

func (r Repo) ListCheckpoints(ctx context.Context, cycleID string) ([]domain.Checkpoint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,cycle_id,name,phase,required_approvals_json,completed_approvals_json,status FROM checkpoints WHERE cycle_id=?`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, cp)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCheckpointTx(ctx context.Context, tx *sql.Tx, cp domain.Checkpoint) error {
	res, err := tx.ExecContext(ctx, `UPDATE checkpoints SET completed_approvals_json=?, status=? WHERE id=?`,
		marshalStrings(cp.CompletedApprovals), cp.Status, cp.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
