package engine_test

import (
	"testing"

	"regcycle/internal/domain"
	"regcycle/internal/engine"
)

func stepsByName(steps []domain.WorkflowStep) map[string]domain.WorkflowStep {
	m := make(map[string]domain.WorkflowStep, len(steps))
	for _, s := range steps {
		m[s.Name] = s
	}
	return m
}

func TestBuildStepsShape(t *testing.T) {
	steps := engine.BuildSteps("cycle-1")
	if len(steps) != 12 {
		t.Fatalf("expected 12 steps, got %d", len(steps))
	}
	byName := stepsByName(steps)

	// type-level edges resolve to the cycle's own step ids
	dataReq := byName["data_requirements"]
	regIntel := byName["regulatory_intelligence"]
	if len(dataReq.DependsOn) != 1 || dataReq.DependsOn[0] != regIntel.ID {
		t.Fatalf("data_requirements deps: %v", dataReq.DependsOn)
	}
	assembly := byName["report_assembly"]
	if len(assembly.DependsOn) != 2 {
		t.Fatalf("report_assembly should depend on quality_rules and reconciliation, got %v", assembly.DependsOn)
	}

	// each checkpoint step waits on its phase's agent steps
	signoff := byName["data_signoff"]
	if !signoff.IsCheckpoint {
		t.Fatalf("data_signoff not a checkpoint step")
	}
	if len(signoff.DependsOn) != 3 {
		t.Fatalf("data_signoff should depend on 3 agent steps, got %d", len(signoff.DependsOn))
	}
	attestation := byName["attestation"]
	if !attestation.IsCheckpoint || attestation.Phase != "approval" {
		t.Fatalf("attestation step misplaced: %+v", attestation)
	}
	if len(attestation.DependsOn) != 0 {
		t.Fatalf("approval phase has no agent steps, got deps %v", attestation.DependsOn)
	}
	if attestation.RequiredRole == nil || *attestation.RequiredRole != "cfo" {
		t.Fatalf("attestation role: %v", attestation.RequiredRole)
	}
}

func TestBuildStepsDeterministic(t *testing.T) {
	a := engine.BuildSteps("cycle-1")
	b := engine.BuildSteps("cycle-1")
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("step ids not stable: %s vs %s", a[i].ID, b[i].ID)
		}
	}
	other := engine.BuildSteps("cycle-2")
	if a[0].ID == other[0].ID {
		t.Fatalf("step ids should differ across cycles")
	}
}

func TestRunStatusMapping(t *testing.T) {
	s := domain.WorkflowStep{Status: engine.StepInProgress}
	if engine.RunStatus(s) != "running" {
		t.Fatalf("in_progress should map to running")
	}
	s.Status = engine.StepCompleted
	if engine.RunStatus(s) != "completed" {
		t.Fatalf("completed should pass through")
	}
}
