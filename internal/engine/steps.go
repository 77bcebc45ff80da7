package engine

import (
	"github.com/google/uuid"

	"regcycle/internal/catalog"
	"regcycle/internal/domain"
)

// Step and checkpoint statuses.
const (
	StepPending         = "pending"
	StepInProgress      = "in_progress"
	StepCompleted       = "completed"
	StepFailed          = "failed"
	StepWaitingForHuman = "waiting_for_human"

	CheckpointPending   = "pending"
	CheckpointCompleted = "completed"
	CheckpointSkipped   = "skipped"
)

// stepID derives a stable step identity from cycle id and step name, so the
// same cycle always resolves catalog edges to the same ids.
func stepID(cycleID, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(cycleID+"|step|"+name)).String()
}

// BuildSteps expands the dependency catalog into a cycle's ordered step list.
// Phase by phase it emits one step per assigned work type, with predecessors
// resolved from the catalog's type-level edges, then one checkpoint step whose
// predecessors are every agent step of that phase. The list is built once at
// cycle start and never regenerated.
func BuildSteps(cycleID string) []domain.WorkflowStep {
	var steps []domain.WorkflowStep
	for _, phase := range catalog.Phases {
		var phaseStepIDs []string
		for _, work := range catalog.AgentsFor(phase) {
			var deps []string
			for _, dep := range catalog.DependenciesOf(work) {
				deps = append(deps, stepID(cycleID, string(dep)))
			}
			workType := string(work)
			steps = append(steps, domain.WorkflowStep{
				ID:        stepID(cycleID, workType),
				CycleID:   cycleID,
				Name:      workType,
				Phase:     string(phase),
				WorkType:  &workType,
				DependsOn: deps,
				Status:    StepPending,
			})
			phaseStepIDs = append(phaseStepIDs, stepID(cycleID, workType))
		}
		cp := catalog.CheckpointFor(phase)
		role := cp.RequiredRole
		steps = append(steps, domain.WorkflowStep{
			ID:           stepID(cycleID, cp.Name),
			CycleID:      cycleID,
			Name:         cp.Name,
			Phase:        string(phase),
			IsCheckpoint: true,
			RequiredRole: &role,
			DependsOn:    phaseStepIDs,
			Status:       StepPending,
		})
	}
	return steps
}

// RunStatus is the agent-run view of a workflow step's status.
func RunStatus(s domain.WorkflowStep) string {
	if s.Status == StepInProgress {
		return "running"
	}
	return s.Status
}
