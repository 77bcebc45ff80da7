package repo

import (
	"context"
	"database/sql"

	"regcycle/internal/domain"
)

const issueColumns = `id,title,severity,status,impacted_reports_json,created_at,resolved_at`

func (r Repo) InsertIssue(ctx context.Context, iss domain.Issue) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?)`,
		iss.ID, iss.Title, iss.Severity, iss.Status, marshalStrings(iss.ImpactedReports), iss.CreatedAt, iss.ResolvedAt)
	return err
}

func scanIssue(scan func(dest ...any) error) (domain.Issue, error) {
	var iss domain.Issue
	var impacted, resolvedAt sql.NullString
	err := scan(&iss.ID, &iss.Title, &iss.Severity, &iss.Status, &impacted, &iss.CreatedAt, &resolvedAt)
	if err != nil {
		return iss, err
	}
	iss.ImpactedReports = unmarshalStrings(impacted)
	iss.ResolvedAt = strPtr(resolvedAt)
	return iss, nil
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id)
	iss, err := scanIssue(row.Scan)
	if err == sql.ErrNoRows {
		return iss, ErrNotFound
	}
	return iss, err
}

func (r Repo) ListIssues(ctx context.Context) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		iss, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, iss)
	}
	return res, rows.Err()
}

// UnresolvedCriticalIssues returns critical issues that are neither resolved
// nor closed, oldest first. Callers match impacted reports in memory.
func (r Repo) UnresolvedCriticalIssues(ctx context.Context) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE severity='critical' AND status NOT IN ('resolved','closed') ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		iss, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, iss)
	}
	return res, rows.Err()
}

func (r Repo) UpdateIssueStatus(ctx context.Context, id, status string, resolvedAt *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET status=?, resolved_at=? WHERE id=?`, status, resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
