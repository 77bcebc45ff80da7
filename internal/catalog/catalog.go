// Package catalog holds the static dependency catalog: the closed set of
// workflow phases, automated work types with their prerequisite edges, and
// the human checkpoint belonging to each phase. Pure data; the engine's step
// graph builder expands it per cycle.
package catalog

import "fmt"

// Phase is one of the five fixed workflow stages, totally ordered.
type Phase string

const (
	PhaseDataGathering Phase = "data_gathering"
	PhaseValidation    Phase = "validation"
	PhaseReview        Phase = "review"
	PhaseApproval      Phase = "approval"
	PhaseSubmission    Phase = "submission"
)

// Phases lists every phase in workflow order.
var Phases = []Phase{
	PhaseDataGathering,
	PhaseValidation,
	PhaseReview,
	PhaseApproval,
	PhaseSubmission,
}

// WorkType is a category of automated agent work.
type WorkType string

const (
	WorkRegulatoryIntelligence WorkType = "regulatory_intelligence"
	WorkDataRequirements       WorkType = "data_requirements"
	WorkDataMapping            WorkType = "data_mapping"
	WorkQualityRules           WorkType = "quality_rules"
	WorkReconciliation         WorkType = "reconciliation"
	WorkReportAssembly         WorkType = "report_assembly"
	WorkSubmissionPackage      WorkType = "submission_package"
)

// WorkTypes lists every work type in catalog order.
var WorkTypes = []WorkType{
	WorkRegulatoryIntelligence,
	WorkDataRequirements,
	WorkDataMapping,
	WorkQualityRules,
	WorkReconciliation,
	WorkReportAssembly,
	WorkSubmissionPackage,
}

// dependsOn declares type-level prerequisites between work types. Edges are
// resolved to concrete step ids within one cycle by the step graph builder.
var dependsOn = map[WorkType][]WorkType{
	WorkRegulatoryIntelligence: nil,
	WorkDataRequirements:       {WorkRegulatoryIntelligence},
	WorkDataMapping:            {WorkDataRequirements},
	WorkQualityRules:           {WorkDataMapping},
	WorkReconciliation:         {WorkDataMapping},
	WorkReportAssembly:         {WorkQualityRules, WorkReconciliation},
	WorkSubmissionPackage:      {WorkReportAssembly},
}

// phaseAgents assigns each work type to exactly one phase. The approval phase
// carries no automated work, only the attestation checkpoint.
var phaseAgents = map[Phase][]WorkType{
	PhaseDataGathering: {WorkRegulatoryIntelligence, WorkDataRequirements, WorkDataMapping},
	PhaseValidation:    {WorkQualityRules, WorkReconciliation},
	PhaseReview:        {WorkReportAssembly},
	PhaseApproval:      nil,
	PhaseSubmission:    {WorkSubmissionPackage},
}

// CheckpointSpec names the human gate closing a phase.
type CheckpointSpec struct {
	Name         string
	RequiredRole string
}

// AttestationCheckpoint is the checkpoint whose approved decision is required
// before the cycle may become submission-ready.
const AttestationCheckpoint = "attestation"

var phaseCheckpoints = map[Phase]CheckpointSpec{
	PhaseDataGathering: {Name: "data_signoff", RequiredRole: "data_steward"},
	PhaseValidation:    {Name: "validation_review", RequiredRole: "controller"},
	PhaseReview:        {Name: "management_review", RequiredRole: "report_owner"},
	PhaseApproval:      {Name: AttestationCheckpoint, RequiredRole: "cfo"},
	PhaseSubmission:    {Name: "submission_confirmation", RequiredRole: "report_owner"},
}

// ValidPhase reports whether s names a known phase.
func ValidPhase(s string) bool {
	for _, p := range Phases {
		if string(p) == s {
			return true
		}
	}
	return false
}

// ValidWorkType reports whether s names a known work type.
func ValidWorkType(s string) bool {
	_, ok := dependsOn[WorkType(s)]
	return ok
}

// DependenciesOf returns the declared prerequisites of a work type.
func DependenciesOf(w WorkType) []WorkType {
	return dependsOn[w]
}

// AgentsFor returns the work types assigned to a phase, in catalog order.
func AgentsFor(p Phase) []WorkType {
	return phaseAgents[p]
}

// CheckpointFor returns the checkpoint closing a phase.
func CheckpointFor(p Phase) CheckpointSpec {
	return phaseCheckpoints[p]
}

// PhaseOf returns the phase a work type belongs to.
func PhaseOf(w WorkType) (Phase, error) {
	for _, p := range Phases {
		for _, a := range phaseAgents[p] {
			if a == w {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("work type %s not assigned to a phase", w)
}

// NextPhase returns the phase following p, or false when p is terminal.
func NextPhase(p Phase) (Phase, bool) {
	for i, cur := range Phases {
		if cur == p {
			if i+1 < len(Phases) {
				return Phases[i+1], true
			}
			return "", false
		}
	}
	return "", false
}
