package domain

// Report describes one regulatory report and its submission rule.
// The scheduler derives deadlines from Frequency and the due-date rule.
type Report struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Frequency        string `json:"frequency" enum:"daily,weekly,monthly,quarterly,annual"`
	DueDaysAfterEnd  int    `json:"due_days_after_end"`
	BusinessDaysOnly bool   `json:"business_days_only"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

// CycleInstance is one reporting period for one report.
type CycleInstance struct {
	ID          string       `json:"id"`
	ReportID    string       `json:"report_id"`
	PeriodEnd   string       `json:"period_end" format:"date"`
	Status      string       `json:"status" enum:"active,paused,completed,cancelled"`
	Phase       string       `json:"phase" enum:"data_gathering,validation,review,approval,submission"`
	PauseReason *string      `json:"pause_reason,omitempty"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
	StartedAt   string       `json:"started_at" format:"date-time"`
	PausedAt    *string      `json:"paused_at,omitempty" format:"date-time"`
	CompletedAt *string      `json:"completed_at,omitempty" format:"date-time"`
}

// WorkflowStep is one node in a cycle's execution graph. Agent steps carry a
// WorkType; checkpoint steps carry RequiredRole instead. Step status is the
// single source of truth for agent run state.
type WorkflowStep struct {
	ID           string   `json:"id"`
	CycleID      string   `json:"cycle_id"`
	Name         string   `json:"name"`
	Phase        string   `json:"phase"`
	WorkType     *string  `json:"work_type,omitempty"`
	IsCheckpoint bool     `json:"is_checkpoint"`
	RequiredRole *string  `json:"required_role,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	Status       string   `json:"status" enum:"pending,in_progress,completed,failed,waiting_for_human"`
	Error        *string  `json:"error,omitempty"`
	StartedAt    *string  `json:"started_at,omitempty" format:"date-time"`
	CompletedAt  *string  `json:"completed_at,omitempty" format:"date-time"`
	DurationMS   *int64   `json:"duration_ms,omitempty"`
}

// Checkpoint is a named human-approval gate tied to a phase.
type Checkpoint struct {
	ID                 string   `json:"id"`
	CycleID            string   `json:"cycle_id"`
	Name               string   `json:"name"`
	Phase              string   `json:"phase"`
	RequiredApprovals  []string `json:"required_approvals"`
	CompletedApprovals []string `json:"completed_approvals,omitempty"`
	Status             string   `json:"status" enum:"pending,completed,skipped"`
}

// HumanTask is a concrete assignable approval request tied to a checkpoint.
type HumanTask struct {
	ID              string  `json:"id"`
	CycleID         string  `json:"cycle_id"`
	TaskType        string  `json:"task_type"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	AssigneeID      string  `json:"assignee_id"`
	RequiredRole    string  `json:"required_role"`
	DueDate         *string `json:"due_date,omitempty" format:"date-time"`
	Status          string  `json:"status" enum:"pending,in_progress,completed,escalated"`
	Decision        *string `json:"decision,omitempty" enum:"approved,approved_with_changes,rejected"`
	Rationale       *string `json:"rationale,omitempty"`
	EscalationLevel int     `json:"escalation_level"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

// ChecklistItem is one deadline-bearing entry generated from a report template.
type ChecklistItem struct {
	ID          string  `json:"id"`
	CycleID     string  `json:"cycle_id"`
	Description string  `json:"description"`
	Role        string  `json:"role"`
	DueDate     string  `json:"due_date" format:"date"`
	Completed   bool    `json:"completed"`
	CompletedBy *string `json:"completed_by,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Issue is an externally managed problem record. A critical, unresolved issue
// impacting a report blocks that report's cycles.
type Issue struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Severity        string   `json:"severity" enum:"low,medium,high,critical"`
	Status          string   `json:"status" enum:"open,investigating,resolved,closed"`
	ImpactedReports []string `json:"impacted_reports,omitempty"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	ResolvedAt      *string  `json:"resolved_at,omitempty" format:"date-time"`
}

// AuditEntry is one append-only record of a state mutation.
type AuditEntry struct {
	ID         int64   `json:"id"`
	TS         string  `json:"ts" format:"date-time"`
	ActorID    string  `json:"actor_id"`
	ActorKind  string  `json:"actor_kind" enum:"human,agent,system"`
	Action     string  `json:"action"`
	EntityKind string  `json:"entity_kind"`
	EntityID   string  `json:"entity_id,omitempty"`
	CycleID    string  `json:"cycle_id,omitempty"`
	PrevState  *string `json:"prev_state,omitempty"`
	NewState   string  `json:"new_state"`
	Rationale  *string `json:"rationale,omitempty"`
}

// DeadlineAlert classifies an approaching or overdue deadline.
type DeadlineAlert struct {
	CycleID       string `json:"cycle_id"`
	ItemKind      string `json:"item_kind" enum:"checklist_item,human_task"`
	ItemID        string `json:"item_id"`
	Description   string `json:"description"`
	Role          string `json:"role,omitempty"`
	DueDate       string `json:"due_date"`
	DaysRemaining int    `json:"days_remaining"`
	Level         string `json:"level" enum:"warning,critical,escalation"`
}
