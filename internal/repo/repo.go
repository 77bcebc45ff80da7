package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"regcycle/internal/config"
	"regcycle/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertReport(ctx context.Context, rep domain.Report) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reports(id,name,frequency,due_days_after_end,business_days_only,created_at) VALUES (?,?,?,?,?,?)`,
		rep.ID, rep.Name, rep.Frequency, rep.DueDaysAfterEnd, boolInt(rep.BusinessDaysOnly), rep.CreatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	var rep domain.Report
	var businessDays int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,frequency,due_days_after_end,business_days_only,created_at FROM reports WHERE id=?`, id).
		Scan(&rep.ID, &rep.Name, &rep.Frequency, &rep.DueDaysAfterEnd, &businessDays, &rep.CreatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	rep.BusinessDaysOnly = businessDays != 0
	return rep, err
}

func (r Repo) ListReports(ctx context.Context) ([]domain.Report, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,frequency,due_days_after_end,business_days_only,created_at FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		var rep domain.Report
		var businessDays int
		if err := rows.Scan(&rep.ID, &rep.Name, &rep.Frequency, &rep.DueDaysAfterEnd, &businessDays, &rep.CreatedAt); err != nil {
			return nil, err
		}
		rep.BusinessDaysOnly = businessDays != 0
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r Repo) UpsertReportConfig(ctx context.Context, reportID string, cfg *config.Config) error {
	return upsertReportConfig(ctx, r.DB, nil, reportID, cfg)
}

func (r Repo) UpsertReportConfigTx(ctx context.Context, tx *sql.Tx, reportID string, cfg *config.Config) error {
	return upsertReportConfig(ctx, nil, tx, reportID, cfg)
}

func upsertReportConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, reportID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Report.ID = reportID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO report_configs(report_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(report_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, reportID, string(payload), now, now)
	return err
}

func (r Repo) GetReportConfig(ctx context.Context, reportID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM report_configs WHERE report_id=?`, reportID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Report.ID == "" {
		cfg.Report.ID = reportID
	}
	return &cfg, cfg.Validate()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalStrings(in []string) any {
	if len(in) == 0 {
		return nil
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func unmarshalStrings(src sql.NullString) []string {
	if !src.Valid || src.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(src.String), &out)
	return out
}

func strPtr(src sql.NullString) *string {
	if !src.Valid {
		return nil
	}
	s := src.String
	return &s
}

func int64Ptr(src sql.NullInt64) *int64 {
	if !src.Valid {
		return nil
	}
	v := src.Int64
	return &v
}
