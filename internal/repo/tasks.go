package repo

import (
	"context"
	"database/sql"

	"regcycle/internal/domain"
)

const taskColumns = `id,cycle_id,task_type,title,description,assignee_id,required_role,due_date,status,decision,rationale,escalation_level,created_at,completed_at`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.HumanTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO human_tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CycleID, t.TaskType, t.Title, nullable(t.Description), t.AssigneeID, t.RequiredRole, t.DueDate, t.Status, t.Decision, t.Rationale, t.EscalationLevel, t.CreatedAt, t.CompletedAt)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.HumanTask, error) {
	var t domain.HumanTask
	var description, dueDate, decision, rationale, completedAt sql.NullString
	err := scan(&t.ID, &t.CycleID, &t.TaskType, &t.Title, &description, &t.AssigneeID, &t.RequiredRole, &dueDate, &t.Status, &decision, &rationale, &t.EscalationLevel, &t.CreatedAt, &completedAt)
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	t.DueDate = strPtr(dueDate)
	t.Decision = strPtr(decision)
	t.Rationale = strPtr(rationale)
	t.CompletedAt = strPtr(completedAt)
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.HumanTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM human_tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, cycleID string) ([]domain.HumanTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM human_tasks WHERE cycle_id=? ORDER BY created_at, id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HumanTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TasksByType returns the cycle's tasks of one type, newest first.
func (r Repo) TasksByType(ctx context.Context, cycleID, taskType string) ([]domain.HumanTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM human_tasks WHERE cycle_id=? AND task_type=? ORDER BY created_at DESC, id DESC`, cycleID, taskType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HumanTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountOutstandingTasksTx counts tasks for a cycle that are not completed,
// optionally excluding one id. Read through the tx so the count observes the
// in-flight completion.
func (r Repo) CountOutstandingTasksTx(ctx context.Context, tx *sql.Tx, cycleID, excludeID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM human_tasks WHERE cycle_id=? AND status!='completed' AND id!=?`, cycleID, excludeID).Scan(&n)
	return n, err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.HumanTask) error {
	res, err := tx.ExecContext(ctx, `UPDATE human_tasks SET status=?, decision=?, rationale=?, escalation_level=?, due_date=?, completed_at=? WHERE id=?`,
		t.Status, t.Decision, t.Rationale, t.EscalationLevel, t.DueDate, t.CompletedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertChecklistItemTx(ctx context.Context, tx *sql.Tx, item domain.ChecklistItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(id,cycle_id,description,role,due_date,completed,completed_by,completed_at) VALUES (?,?,?,?,?,?,?,?)`,
		item.ID, item.CycleID, item.Description, item.Role, item.DueDate, boolInt(item.Completed), item.CompletedBy, item.CompletedAt)
	return err
}

func scanChecklistItem(scan func(dest ...any) error) (domain.ChecklistItem, error) {
	var item domain.ChecklistItem
	var completed int
	var completedBy, completedAt sql.NullString
	err := scan(&item.ID, &item.CycleID, &item.Description, &item.Role, &item.DueDate, &completed, &completedBy, &completedAt)
	if err != nil {
		return item, err
	}
	item.Completed = completed != 0
	item.CompletedBy = strPtr(completedBy)
	item.CompletedAt = strPtr(completedAt)
	return item, nil
}

func (r Repo) GetChecklistItem(ctx context.Context, id string) (domain.ChecklistItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,cycle_id,description,role,due_date,completed,completed_by,completed_at FROM checklist_items WHERE id=?`, id)
	item, err := scanChecklistItem(row.Scan)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	return item, err
}

func (r Repo) ListChecklist(ctx context.Context, cycleID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,cycle_id,description,role,due_date,completed,completed_by,completed_at FROM checklist_items WHERE cycle_id=? ORDER BY due_date, id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		item, err := scanChecklistItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) UpdateChecklistItemTx(ctx context.Context, tx *sql.Tx, item domain.ChecklistItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE checklist_items SET completed=?, completed_by=?, completed_at=? WHERE id=?`,
		boolInt(item.Completed), item.CompletedBy, item.CompletedAt, item.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChecklist drops a cycle's generated checklist so it can be rebuilt.
func (r Repo) DeleteChecklistTx(ctx context.Context, tx *sql.Tx, cycleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE cycle_id=?`, cycleID)
	return err
}
