package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regcycle/internal/catalog"
	"regcycle/internal/config"
	"regcycle/internal/db"
	"regcycle/internal/domain"
	"regcycle/internal/engine"
	"regcycle/internal/migrate"
	"regcycle/internal/scheduler"
)

type testEnv struct {
	Engine    *engine.Engine
	Scheduler scheduler.Scheduler
	Ctx       context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("rep-1")
	eng := engine.New(conn, cfg)
	sch := scheduler.New(conn, cfg)
	clock := func() time.Time { return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC) }
	eng.Now = clock
	sch.Now = clock
	eng.Executor = engine.ExecutorFunc(func(ctx context.Context, work catalog.WorkType, run engine.AgentContext) (engine.AgentResult, error) {
		return engine.AgentResult{}, nil
	})

	ctx := context.Background()
	rep := domain.Report{
		ID:               "rep-1",
		Name:             "Quarterly Capital Report",
		Frequency:        "quarterly",
		DueDaysAfterEnd:  20,
		BusinessDaysOnly: true,
		CreatedAt:        "2025-01-01T00:00:00Z",
	}
	require.NoError(t, eng.Repo.InsertReport(ctx, rep))
	require.NoError(t, eng.Repo.UpsertReportConfig(ctx, "rep-1", cfg))
	return testEnv{Engine: eng, Scheduler: sch, Ctx: ctx}
}

func startCycle(t *testing.T, env testEnv) domain.CycleInstance {
	t.Helper()
	c, err := env.Engine.StartCycle(env.Ctx, engine.StartCycleOptions{
		ReportID:  "rep-1",
		PeriodEnd: "2024-12-31",
		ActorID:   "tester",
	})
	require.NoError(t, err)
	return c
}

func TestSubmissionDeadlineBusinessDays(t *testing.T) {
	periodEnd := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC) // Tuesday
	deadline := scheduler.SubmissionDeadline(periodEnd, 20, true)
	assert.Equal(t, "2025-01-28", deadline.Format("2006-01-02"))
}

func TestSubmissionDeadlineCalendarDays(t *testing.T) {
	periodEnd := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	deadline := scheduler.SubmissionDeadline(periodEnd, 20, false)
	assert.Equal(t, "2025-01-20", deadline.Format("2006-01-02"))
}

func TestSubmissionDeadlineSkipsWeekends(t *testing.T) {
	friday := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	deadline := scheduler.SubmissionDeadline(friday, 1, true)
	assert.Equal(t, time.Monday, deadline.Weekday())
	assert.Equal(t, "2025-01-13", deadline.Format("2006-01-02"))
}

func TestGenerateChecklistFromTemplate(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)

	items, err := env.Scheduler.GenerateChecklist(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	require.Len(t, items, 5)

	// deadline 2025-01-28; due dates are deadline minus each offset
	byDesc := map[string]domain.ChecklistItem{}
	for _, item := range items {
		byDesc[item.Description] = item
	}
	att, ok := byDesc["CFO attestation"]
	require.True(t, ok, "quarterly template must include the CFO attestation item")
	assert.Equal(t, "cfo", att.Role)
	assert.Equal(t, "2025-01-25", att.DueDate)
	submit := byDesc["Submit report"]
	assert.Equal(t, "2025-01-28", submit.DueDate)

	// regeneration replaces, never duplicates
	again, err := env.Scheduler.GenerateChecklist(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	assert.Len(t, again, 5)
	listed, err := env.Scheduler.Repo.ListChecklist(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 5)
}

func TestUpdateChecklistStatusReportsAllDone(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	items, err := env.Scheduler.GenerateChecklist(env.Ctx, c.ID, "tester")
	require.NoError(t, err)

	for i, item := range items {
		updated, allDone, err := env.Scheduler.UpdateChecklistStatus(env.Ctx, item.ID, true, "alice")
		require.NoError(t, err)
		assert.True(t, updated.Completed)
		require.NotNil(t, updated.CompletedBy)
		assert.Equal(t, "alice", *updated.CompletedBy)
		assert.Equal(t, i == len(items)-1, allDone, "all_done only on the last item")
	}

	// unchecking reopens the checklist
	_, allDone, err := env.Scheduler.UpdateChecklistStatus(env.Ctx, items[0].ID, false, "alice")
	require.NoError(t, err)
	assert.False(t, allDone)
	item, err := env.Scheduler.Repo.GetChecklistItem(env.Ctx, items[0].ID)
	require.NoError(t, err)
	assert.False(t, item.Completed)
	assert.Nil(t, item.CompletedBy)
}

func TestDeadlineAlertClassification(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	// run the data_gathering agents so the signoff checkpoint accepts tasks
	for _, work := range []string{"regulatory_intelligence", "data_requirements", "data_mapping"} {
		_, err := env.Engine.TriggerAgent(env.Ctx, work, c.ID, "agent-1")
		require.NoError(t, err)
	}
	// now is fixed at 2025-01-15; seed tasks due 10, 5, 2 and 0 days out
	cases := []struct {
		title string
		due   string
		level string // empty means no alert
	}{
		{"far out", "2025-01-25T09:00:00Z", ""},
		{"warning range", "2025-01-20T09:00:00Z", scheduler.AlertWarning},
		{"critical range", "2025-01-17T09:00:00Z", scheduler.AlertCritical},
		{"due today", "2025-01-15T09:00:00Z", scheduler.AlertEscalation},
	}
	for _, tc := range cases {
		_, err := env.Engine.CreateHumanTask(env.Ctx, engine.TaskCreateOptions{
			CycleID:      c.ID,
			TaskType:     "data_signoff",
			Title:        tc.title,
			AssigneeID:   "alice",
			RequiredRole: "data_steward",
			DueDate:      tc.due,
			ActorID:      "tester",
		})
		require.NoError(t, err)
	}

	alerts, err := env.Scheduler.GetDeadlineAlerts(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 3, "the 10-day task is outside the warning threshold")

	// sorted most urgent first
	assert.Equal(t, scheduler.AlertEscalation, alerts[0].Level)
	assert.Equal(t, "due today", alerts[0].Description)
	assert.Equal(t, scheduler.AlertCritical, alerts[1].Level)
	assert.Equal(t, scheduler.AlertWarning, alerts[2].Level)
	for _, a := range alerts {
		assert.Equal(t, "human_task", a.ItemKind)
		assert.Equal(t, c.ID, a.CycleID)
	}
}

func TestDeadlineAlertsIncludeOverdueChecklist(t *testing.T) {
	env := newTestEnv(t)
	c := startCycle(t, env)
	items, err := env.Scheduler.GenerateChecklist(env.Ctx, c.ID, "tester")
	require.NoError(t, err)

	// move the clock past the submission deadline so every item is overdue
	env.Scheduler.Now = func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	alerts, err := env.Scheduler.GetDeadlineAlerts(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, alerts, len(items))
	for _, a := range alerts {
		assert.Equal(t, scheduler.AlertEscalation, a.Level)
		assert.LessOrEqual(t, a.DaysRemaining, 0)
	}

	// completed items stop alerting
	_, _, err = env.Scheduler.UpdateChecklistStatus(env.Ctx, items[0].ID, true, "alice")
	require.NoError(t, err)
	alerts, err = env.Scheduler.GetDeadlineAlerts(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, alerts, len(items)-1)
}

func TestGenerateChecklistUnknownFrequency(t *testing.T) {
	env := newTestEnv(t)
	rep := domain.Report{
		ID:              "rep-2",
		Name:            "Ad-hoc report",
		Frequency:       "quarterly",
		DueDaysAfterEnd: 5,
		CreatedAt:       "2025-01-01T00:00:00Z",
	}
	require.NoError(t, env.Engine.Repo.InsertReport(env.Ctx, rep))
	c, err := env.Engine.StartCycle(env.Ctx, engine.StartCycleOptions{
		ReportID:  "rep-2",
		PeriodEnd: "2024-12-31",
		ActorID:   "tester",
	})
	require.NoError(t, err)

	env.Scheduler.Config.Checklists = map[string][]config.ChecklistTemplateItem{}
	_, err = env.Scheduler.GenerateChecklist(env.Ctx, c.ID, "tester")
	var ve engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "frequency", ve.Field)
}
