package domain

import "time"

// WorkflowStatus is the coarse lifecycle status of a workflow instance.
type WorkflowStatus string

const (
	StatusPending    WorkflowStatus = "pending"
	StatusInProgress WorkflowStatus = "in_progress"
	StatusSuspended  WorkflowStatus = "suspended"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
	StatusCancelled  WorkflowStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MetadataKeyChildren holds the ids of child workflows for cascading cancellation.
const MetadataKeyChildren = "childWorkflowIds"

// Workflow is one instance of the procurement process being orchestrated.
// All mutation goes through the phase machine; readers get copies.
type Workflow struct {
	ID              string         `json:"id"`
	ProcessName     string         `json:"processName"`
	BusinessKey     string         `json:"businessKey"`
	CurrentPhase    string         `json:"currentPhase"`
	Status          WorkflowStatus `json:"status"`
	CanTransitionTo []string       `json:"canTransitionTo"`
	BlockedReasons  []string       `json:"blockedReasons,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	History         []TransitionRecord `json:"history,omitempty"`
	Created         time.Time      `json:"created"`
	Modified        time.Time      `json:"modified"`
}

// ChildIDs extracts the child workflow id list from metadata. The list may
// have been round-tripped through JSON, so both []string and []any forms are
// accepted.
func (w *Workflow) ChildIDs() []string {
	raw, ok := w.Metadata[MetadataKeyChildren]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
