package repo

import (
	"context"
	"database/sql"
	"strings"

	"regcycle/internal/domain"
)

const auditColumns = `id,ts,actor_id,actor_kind,action,entity_kind,entity_id,cycle_id,prev_state,new_state,rationale`

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	CycleID    string
	EntityKind string
	EntityID   string
	Action     string
	Limit      int
}

func scanAuditEntry(scan func(dest ...any) error) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var entityID, cycleID, prevState, rationale sql.NullString
	err := scan(&e.ID, &e.TS, &e.ActorID, &e.ActorKind, &e.Action, &e.EntityKind, &entityID, &cycleID, &prevState, &e.NewState, &rationale)
	if err != nil {
		return e, err
	}
	if entityID.Valid {
		e.EntityID = entityID.String
	}
	if cycleID.Valid {
		e.CycleID = cycleID.String
	}
	e.PrevState = strPtr(prevState)
	e.Rationale = strPtr(rationale)
	return e, nil
}

// ListAuditEntries returns entries newest first.
func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilter) ([]domain.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.CycleID != "" {
		clauses = append(clauses, "cycle_id=?")
		args = append(args, f.CycleID)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	query := `SELECT ` + auditColumns + ` FROM audit_entries`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AuditEntriesAfter returns up to limit entries with id > cursor, oldest
// first. Used by the webhook dispatcher.
func (r Repo) AuditEntriesAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_entries WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditID returns the highest audit entry id, or 0 when empty.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT max(id) FROM audit_entries`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}
