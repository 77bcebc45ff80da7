package engine

import (
	"context"
	"fmt"

	"regcycle/internal/audit"
	"regcycle/internal/domain"
)

// HasBlockingCondition returns the oldest unresolved critical issue impacting
// the report, or nil when none blocks it.
func (e *Engine) HasBlockingCondition(ctx context.Context, reportID string) (*domain.Issue, error) {
	issues, err := e.Repo.UnresolvedCriticalIssues(ctx)
	if err != nil {
		return nil, err
	}
	for _, iss := range issues {
		for _, rep := range iss.ImpactedReports {
			if rep == reportID {
				found := iss
				return &found, nil
			}
		}
	}
	return nil, nil
}

// CheckAndPause pauses an active cycle when its report is blocked and reports
// whether it did. This is the polling entry point for external schedulers;
// the dispatcher performs the same check before every trigger.
func (e *Engine) CheckAndPause(ctx context.Context, cycleID, actorID string) (bool, error) {
	unlock := e.lockCycle(cycleID)
	defer unlock()
	return e.checkAndPauseLocked(ctx, cycleID, actorID)
}

// checkAndPauseLocked requires the cycle lock to be held.
func (e *Engine) checkAndPauseLocked(ctx context.Context, cycleID, actorID string) (bool, error) {
	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return false, err
	}
	iss, err := e.HasBlockingCondition(ctx, c.ReportID)
	if err != nil {
		return false, err
	}
	if iss == nil || c.Status != CycleActive {
		return false, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	reason := fmt.Sprintf("blocked by critical issue %s: %s", iss.ID, iss.Title)
	if _, err := e.pauseTx(ctx, tx, c, reason, actorID, audit.ActorSystem); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
