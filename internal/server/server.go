package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"regcycle/internal/domain"
	"regcycle/internal/engine"
	"regcycle/internal/repo"
	"regcycle/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    *engine.Engine
	Scheduler scheduler.Scheduler
	BasePath  string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"dependency_not_satisfied"`
	Message string         `json:"message" example:"work type data_requirements requires regulatory_intelligence to be completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// actorHeader identifies the calling actor on every mutating operation.
type actorHeader struct {
	ActorID string `header:"X-Actor-Id"`
}

func (a actorHeader) actor() string {
	if a.ActorID == "" {
		return "api-user"
	}
	return a.ActorID
}

// New returns an HTTP handler exposing the regcycle API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Regcycle API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerReports(group, cfg.Engine)
	registerCycles(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerChecklist(group, cfg.Scheduler)
	registerIssues(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's typed failures onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"entity": ise.Entity, "status": ise.Status})
	}
	var de engine.DependencyNotSatisfiedError
	if errors.As(err, &de) {
		return newAPIError(http.StatusConflict, "dependency_not_satisfied", err.Error(), map[string]any{"work_type": de.WorkType, "dependency": de.Dependency})
	}
	var be engine.BlockedError
	if errors.As(err, &be) {
		return newAPIError(http.StatusConflict, "blocked", err.Error(), map[string]any{"issue_id": be.IssueID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Regcycle API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerReports(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Register report",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		actorHeader
		Body RegisterReportRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "id is required", nil)
		}
		rep := domain.Report{
			ID:               input.Body.ID,
			Name:             input.Body.Name,
			Frequency:        input.Body.Frequency,
			DueDaysAfterEnd:  input.Body.DueDaysAfterEnd,
			BusinessDaysOnly: input.Body.BusinessDaysOnly,
			CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertReport(ctx, rep); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Report `json:"body"`
	}, error) {
		items, err := e.Repo.ListReports(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Report `json:"body"`
		}{Body: items}, nil
	})
}

func registerCycles(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-cycle",
		Method:        http.MethodPost,
		Path:          "/cycles",
		Summary:       "Start reporting cycle",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		actorHeader
		Body StartCycleRequest `json:"body"`
	}) (*struct {
		Body CycleResponse `json:"body"`
	}, error) {
		c, err := e.StartCycle(ctx, engine.StartCycleOptions{
			ReportID:  input.Body.ReportID,
			PeriodEnd: input.Body.PeriodEnd,
			ActorID:   input.actor(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CycleResponse `json:"body"`
		}{Body: CycleResponse{Cycle: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cycle",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}",
		Summary:     "Get cycle",
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body CycleResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCycle(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		c.Checkpoints, err = e.Repo.ListCheckpoints(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CycleResponse `json:"body"`
		}{Body: CycleResponse{Cycle: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cycle-steps",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/steps",
		Summary:     "List workflow steps",
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body StepsResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCycle(ctx, input.CycleID); err != nil {
			return nil, handleError(err)
		}
		steps, err := e.Repo.ListSteps(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StepsResponse `json:"body"`
		}{Body: StepsResponse{Steps: steps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-cycle",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/pause",
		Summary:     "Pause cycle",
	}, func(ctx context.Context, input *struct {
		actorHeader
		CycleID string            `path:"cycle_id"`
		Body    PauseCycleRequest `json:"body"`
	}) (*struct {
		Body CycleResponse `json:"body"`
	}, error) {
		c, err := e.PauseCycle(ctx, input.CycleID, input.Body.Reason, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CycleResponse `json:"body"`
		}{Body: CycleResponse{Cycle: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-cycle",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/resume",
		Summary:     "Resume cycle",
	}, func(ctx context.Context, input *struct {
		actorHeader
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body CycleResponse `json:"body"`
	}, error) {
		c, err := e.ResumeCycle(ctx, input.CycleID, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CycleResponse `json:"body"`
		}{Body: CycleResponse{Cycle: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-cycle-phase",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/advance",
		Summary:     "Advance to next phase",
	}, func(ctx context.Context, input *struct {
		actorHeader
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body CycleResponse `json:"body"`
	}, error) {
		c, err := e.AdvancePhase(ctx, input.CycleID, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CycleResponse `json:"body"`
		}{Body: CycleResponse{Cycle: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-attestation-status",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/attestation",
		Summary:     "Attestation gate status",
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body AttestationResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCycle(ctx, input.CycleID); err != nil {
			return nil, handleError(err)
		}
		complete, err := e.IsAttestationComplete(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		ready, err := e.CanTransitionToSubmissionReady(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttestationResponse `json:"body"`
		}{Body: AttestationResponse{CycleID: input.CycleID, Complete: complete, SubmissionReady: ready}}, nil
	})
}

func registerAgents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "trigger-agent",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/agents/{work_type}",
		Summary:     "Trigger automated work",
	}, func(ctx context.Context, input *struct {
		actorHeader
		CycleID  string `path:"cycle_id"`
		WorkType string `path:"work_type"`
	}) (*struct {
		Body domain.WorkflowStep `json:"body"`
	}, error) {
		step, err := e.TriggerAgent(ctx, input.WorkType, input.CycleID, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowStep `json:"body"`
		}{Body: step}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-human-task",
		Method:        http.MethodPost,
		Path:          "/cycles/{cycle_id}/tasks",
		Summary:       "Create human task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		actorHeader
		CycleID string            `path:"cycle_id"`
		Body    CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		opts := engine.TaskCreateOptions{
			CycleID:      input.CycleID,
			TaskType:     input.Body.TaskType,
			Title:        input.Body.Title,
			AssigneeID:   input.Body.AssigneeID,
			RequiredRole: input.Body.RequiredRole,
			ActorID:      input.actor(),
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		t, err := e.CreateHumanTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-human-tasks",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/tasks",
		Summary:     "List human tasks",
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body []domain.HumanTask `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCycle(ctx, input.CycleID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.HumanTask `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-human-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Record task decision",
	}, func(ctx context.Context, input *struct {
		actorHeader
		TaskID string              `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.CompleteHumanTask(ctx, input.TaskID, input.Body.Decision, input.Body.Rationale, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-human-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/escalate",
		Summary:     "Escalate task",
	}, func(ctx context.Context, input *struct {
		actorHeader
		TaskID string              `path:"task_id"`
		Body   EscalateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.EscalateTask(ctx, input.TaskID, input.Body.Level, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})
}

func registerChecklist(api huma.API, s scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-checklist",
		Method:        http.MethodPost,
		Path:          "/cycles/{cycle_id}/checklist",
		Summary:       "Generate submission checklist",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		actorHeader
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		items, err := s.GenerateChecklist(ctx, input.CycleID, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: ChecklistResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checklist",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/checklist",
		Summary:     "List checklist items",
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		items, err := s.Repo.ListChecklist(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: ChecklistResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist-item",
		Method:      http.MethodPatch,
		Path:        "/checklist/{item_id}",
		Summary:     "Update checklist item",
	}, func(ctx context.Context, input *struct {
		actorHeader
		ItemID string                     `path:"item_id"`
		Body   UpdateChecklistItemRequest `json:"body"`
	}) (*struct {
		Body ChecklistItemResponse `json:"body"`
	}, error) {
		item, allDone, err := s.UpdateChecklistStatus(ctx, input.ItemID, input.Body.Completed, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistItemResponse `json:"body"`
		}{Body: ChecklistItemResponse{Item: item, AllDone: allDone}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deadline-alerts",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/alerts",
		Summary:     "Deadline alerts",
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body AlertsResponse `json:"body"`
	}, error) {
		alerts, err := s.GetDeadlineAlerts(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertsResponse `json:"body"`
		}{Body: AlertsResponse{Alerts: alerts}}, nil
	})
}

func registerIssues(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Open issue",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		actorHeader
		Body OpenIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "title is required", nil)
		}
		iss := domain.Issue{
			Title:           input.Body.Title,
			Severity:        input.Body.Severity,
			Status:          "open",
			ImpactedReports: input.Body.ImpactedReports,
			CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		}
		if input.Body.ID != nil && *input.Body.ID != "" {
			iss.ID = *input.Body.ID
		} else {
			iss.ID = uuid.New().String()
		}
		if err := e.Repo.InsertIssue(ctx, iss); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: iss}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Issue `json:"body"`
	}, error) {
		items, err := e.Repo.ListIssues(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Issue `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Update issue status",
	}, func(ctx context.Context, input *struct {
		actorHeader
		IssueID string             `path:"issue_id"`
		Body    UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		var resolvedAt *string
		if input.Body.Status == "resolved" || input.Body.Status == "closed" {
			now := time.Now().UTC().Format(time.RFC3339)
			resolvedAt = &now
		}
		if err := e.Repo.UpdateIssueStatus(ctx, input.IssueID, input.Body.Status, resolvedAt); err != nil {
			return nil, handleError(err)
		}
		iss, err := e.Repo.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: iss}, nil
	})
}

func registerAudit(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-entries",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Query audit trail",
	}, func(ctx context.Context, input *struct {
		CycleID    string `query:"cycle_id"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Action     string `query:"action"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		entries, err := e.Repo.ListAuditEntries(ctx, repo.AuditFilter{
			CycleID:    input.CycleID,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Action:     input.Action,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: entries}, nil
	})
}
