package engine

import "fmt"

// InvalidStateError reports an operation against an entity whose lifecycle
// state does not permit it.
type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Op     string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s; cannot %s", e.Entity, e.ID, e.Status, e.Op)
}

// DependencyNotSatisfiedError reports a step started before one of its
// predecessors completed.
type DependencyNotSatisfiedError struct {
	WorkType   string
	Dependency string
	Status     string
}

func (e DependencyNotSatisfiedError) Error() string {
	return fmt.Sprintf("%s requires %s to be completed (currently %s)", e.WorkType, e.Dependency, e.Status)
}

// BlockedError reports an unresolved critical issue halting the cycle.
type BlockedError struct {
	IssueID string
	Title   string
}

func (e BlockedError) Error() string {
	return fmt.Sprintf("blocked by critical issue %s: %s", e.IssueID, e.Title)
}

// ValidationError reports malformed input, rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
