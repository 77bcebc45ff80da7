// Package scheduler generates submission checklists from report-frequency
// templates, computes deadlines backward from the regulatory due date, and
// classifies approaching deadlines into escalating alerts. It consumes cycle
// and report metadata but never touches the workflow step graph.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"regcycle/internal/audit"
	"regcycle/internal/config"
	"regcycle/internal/domain"
	"regcycle/internal/engine"
	"regcycle/internal/repo"
)

// Alert levels, most urgent first.
const (
	AlertEscalation = "escalation"
	AlertCritical   = "critical"
	AlertWarning    = "warning"
)

const dateLayout = "2006-01-02"

type Scheduler struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Scheduler {
	return Scheduler{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (s Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SubmissionDeadline walks forward from period end by the report's due-days
// rule. With businessOnly each step lands on the next weekday, so the result
// is the Nth business day after period end.
func SubmissionDeadline(periodEnd time.Time, days int, businessOnly bool) time.Time {
	deadline := periodEnd
	if !businessOnly {
		return deadline.AddDate(0, 0, days)
	}
	for i := 0; i < days; i++ {
		deadline = deadline.AddDate(0, 0, 1)
		for deadline.Weekday() == time.Saturday || deadline.Weekday() == time.Sunday {
			deadline = deadline.AddDate(0, 0, 1)
		}
	}
	return deadline
}

// GenerateChecklist builds the cycle's checklist from the report's frequency
// template, replacing any previously generated one. Item due dates are the
// submission deadline minus each item's offset.
func (s Scheduler) GenerateChecklist(ctx context.Context, cycleID, actorID string) ([]domain.ChecklistItem, error) {
	c, err := s.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	rep, err := s.Repo.GetReport(ctx, c.ReportID)
	if err != nil {
		return nil, err
	}
	if s.Config == nil {
		return nil, engine.ValidationError{Field: "config", Reason: "not loaded"}
	}
	template, ok := s.Config.Checklists[rep.Frequency]
	if !ok || len(template) == 0 {
		return nil, engine.ValidationError{Field: "frequency", Reason: fmt.Sprintf("no checklist template for %s", rep.Frequency)}
	}
	periodEnd, err := time.Parse(dateLayout, c.PeriodEnd)
	if err != nil {
		return nil, engine.ValidationError{Field: "period_end", Reason: "must be YYYY-MM-DD"}
	}
	deadline := SubmissionDeadline(periodEnd, rep.DueDaysAfterEnd, rep.BusinessDaysOnly)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.Repo.DeleteChecklistTx(ctx, tx, cycleID); err != nil {
		return nil, err
	}
	items := make([]domain.ChecklistItem, 0, len(template))
	for _, entry := range template {
		item := domain.ChecklistItem{
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(cycleID+"|checklist|"+entry.Description)).String(),
			CycleID:     cycleID,
			Description: entry.Description,
			Role:        entry.Role,
			DueDate:     deadline.AddDate(0, 0, -entry.OffsetDays).Format(dateLayout),
		}
		if err := s.Repo.InsertChecklistItemTx(ctx, tx, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := s.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorSystem,
		Action:     "checklist.generated",
		EntityKind: "checklist",
		EntityID:   cycleID,
		CycleID:    cycleID,
		NewState: map[string]any{
			"deadline": deadline.Format(dateLayout),
			"items":    len(items),
		},
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateChecklistStatus toggles one item's completion and reports whether the
// whole checklist is now complete.
func (s Scheduler) UpdateChecklistStatus(ctx context.Context, itemID string, completed bool, actorID string) (domain.ChecklistItem, bool, error) {
	item, err := s.Repo.GetChecklistItem(ctx, itemID)
	if err != nil {
		return item, false, err
	}
	prev := item
	item.Completed = completed
	if completed {
		now := s.now().UTC().Format(time.RFC3339)
		item.CompletedBy = &actorID
		item.CompletedAt = &now
	} else {
		item.CompletedBy = nil
		item.CompletedAt = nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return item, false, err
	}
	defer tx.Rollback()
	if err := s.Repo.UpdateChecklistItemTx(ctx, tx, item); err != nil {
		return item, false, err
	}
	if err := s.Audit.Append(ctx, tx, audit.Record{
		ActorID:    actorID,
		ActorKind:  audit.ActorHuman,
		Action:     "checklist.item_updated",
		EntityKind: "checklist_item",
		EntityID:   item.ID,
		CycleID:    item.CycleID,
		PrevState:  map[string]any{"completed": prev.Completed},
		NewState:   map[string]any{"completed": item.Completed},
	}); err != nil {
		return item, false, err
	}
	if err := tx.Commit(); err != nil {
		return item, false, err
	}

	all, err := s.Repo.ListChecklist(ctx, item.CycleID)
	if err != nil {
		return item, false, err
	}
	allDone := len(all) > 0
	for _, other := range all {
		if !other.Completed {
			allDone = false
			break
		}
	}
	if allDone {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return item, false, err
		}
		defer tx.Rollback()
		if err := s.Audit.Append(ctx, tx, audit.Record{
			ActorID:    actorID,
			ActorKind:  audit.ActorSystem,
			Action:     "checklist.completed",
			EntityKind: "checklist",
			EntityID:   item.CycleID,
			CycleID:    item.CycleID,
			NewState:   map[string]any{"items": len(all)},
		}); err != nil {
			return item, false, err
		}
		if err := tx.Commit(); err != nil {
			return item, false, err
		}
	}
	return item, allDone, nil
}

// thresholds reads alert thresholds from config, with the documented defaults
// when no config is loaded.
func (s Scheduler) thresholds() (warning, critical, escalation int) {
	warning, critical, escalation = 7, 3, 1
	if s.Config != nil && s.Config.Alerts.WarningDays > 0 {
		warning = s.Config.Alerts.WarningDays
		critical = s.Config.Alerts.CriticalDays
		escalation = s.Config.Alerts.EscalationDays
	}
	return warning, critical, escalation
}

// classify places a days-remaining count into an alert level, checking the
// most urgent threshold first. Zero or overdue is always escalation. Items
// beyond the warning threshold produce no alert.
func classify(daysRemaining, warning, critical, escalation int) (string, bool) {
	switch {
	case daysRemaining <= 0:
		return AlertEscalation, true
	case daysRemaining <= escalation:
		return AlertEscalation, true
	case daysRemaining <= critical:
		return AlertCritical, true
	case daysRemaining <= warning:
		return AlertWarning, true
	}
	return "", false
}

func daysRemaining(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

// GetDeadlineAlerts evaluates every incomplete checklist item and every
// outstanding human task with a due date for the cycle, sorted most urgent
// first.
func (s Scheduler) GetDeadlineAlerts(ctx context.Context, cycleID string) ([]domain.DeadlineAlert, error) {
	if _, err := s.Repo.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	warning, critical, escalation := s.thresholds()
	now := s.now().UTC()
	var alerts []domain.DeadlineAlert

	items, err := s.Repo.ListChecklist(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Completed {
			continue
		}
		due, err := time.Parse(dateLayout, item.DueDate)
		if err != nil {
			continue
		}
		days := daysRemaining(due, now)
		level, ok := classify(days, warning, critical, escalation)
		if !ok {
			continue
		}
		alerts = append(alerts, domain.DeadlineAlert{
			CycleID:       cycleID,
			ItemKind:      "checklist_item",
			ItemID:        item.ID,
			Description:   item.Description,
			Role:          item.Role,
			DueDate:       item.DueDate,
			DaysRemaining: days,
			Level:         level,
		})
	}

	tasks, err := s.Repo.ListTasks(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status == engine.TaskCompleted || t.DueDate == nil {
			continue
		}
		due, err := time.Parse(time.RFC3339, *t.DueDate)
		if err != nil {
			continue
		}
		days := daysRemaining(due, now)
		level, ok := classify(days, warning, critical, escalation)
		if !ok {
			continue
		}
		alerts = append(alerts, domain.DeadlineAlert{
			CycleID:       cycleID,
			ItemKind:      "human_task",
			ItemID:        t.ID,
			Description:   t.Title,
			Role:          t.RequiredRole,
			DueDate:       *t.DueDate,
			DaysRemaining: days,
			Level:         level,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].DaysRemaining != alerts[j].DaysRemaining {
			return alerts[i].DaysRemaining < alerts[j].DaysRemaining
		}
		return alerts[i].DueDate < alerts[j].DueDate
	})
	return alerts, nil
}
