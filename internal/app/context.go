package app

import (
	"context"
	"errors"
	"fmt"

	"regcycle/internal/config"
	"regcycle/internal/repo"
)

// ResolveReportAndConfig picks the active report and ensures its config
// exists in the DB, seeding the default when missing. It prefers the
// override, then a single registered report.
func ResolveReportAndConfig(ctx context.Context, reportOverride string, r repo.Repo) (string, *config.Config, error) {
	reportID := reportOverride
	if reportID == "" {
		reports, err := r.ListReports(ctx)
		if err != nil {
			return "", nil, err
		}
		switch len(reports) {
		case 0:
			return "", nil, fmt.Errorf("no reports registered; run rc report register")
		case 1:
			reportID = reports[0].ID
		default:
			return "", nil, fmt.Errorf("multiple reports exist; specify --report")
		}
	}
	if _, err := r.GetReport(ctx, reportID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("report %s not registered; run rc report register", reportID)
		}
		return "", nil, err
	}
	cfg, err := r.GetReportConfig(ctx, reportID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(reportID)
		if err := r.UpsertReportConfig(ctx, reportID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed report config: %w", err)
		}
	}
	cfg.Report.ID = reportID
	return reportID, cfg, nil
}
