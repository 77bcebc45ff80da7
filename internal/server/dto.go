package server

import "regcycle/internal/domain"

// Request payloads

type RegisterReportRequest struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Frequency        string `json:"frequency" enum:"daily,weekly,monthly,quarterly,annual"`
	DueDaysAfterEnd  int    `json:"due_days_after_end"`
	BusinessDaysOnly bool   `json:"business_days_only,omitempty"`
}

type StartCycleRequest struct {
	ReportID  string `json:"report_id"`
	PeriodEnd string `json:"period_end" format:"date"`
}

type PauseCycleRequest struct {
	Reason string `json:"reason"`
}

type CreateTaskRequest struct {
	TaskType     string  `json:"task_type"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	AssigneeID   string  `json:"assignee_id"`
	RequiredRole string  `json:"required_role"`
	DueDate      *string `json:"due_date,omitempty" format:"date-time"`
}

type CompleteTaskRequest struct {
	Decision  string `json:"decision" enum:"approved,approved_with_changes,rejected"`
	Rationale string `json:"rationale"`
}

type EscalateTaskRequest struct {
	Level int `json:"level"`
}

type UpdateChecklistItemRequest struct {
	Completed bool `json:"completed"`
}

type OpenIssueRequest struct {
	ID              *string  `json:"id,omitempty"`
	Title           string   `json:"title"`
	Severity        string   `json:"severity" enum:"low,medium,high,critical"`
	ImpactedReports []string `json:"impacted_reports,omitempty"`
}

type UpdateIssueRequest struct {
	Status string `json:"status" enum:"open,investigating,resolved,closed"`
}

// Response payloads reuse the domain records directly; the engine already
// shapes them for JSON.

type CycleResponse struct {
	Cycle domain.CycleInstance `json:"cycle"`
}

type StepsResponse struct {
	Steps []domain.WorkflowStep `json:"steps"`
}

type TaskResponse struct {
	Task domain.HumanTask `json:"task"`
}

type ChecklistResponse struct {
	Items []domain.ChecklistItem `json:"items"`
}

type ChecklistItemResponse struct {
	Item    domain.ChecklistItem `json:"item"`
	AllDone bool                 `json:"all_done"`
}

type AlertsResponse struct {
	Alerts []domain.DeadlineAlert `json:"alerts"`
}

type AttestationResponse struct {
	CycleID         string `json:"cycle_id"`
	Complete        bool   `json:"complete"`
	SubmissionReady bool   `json:"submission_ready"`
}
