package domain

import "time"

// TransitionKind classifies what triggered a phase transition.
type TransitionKind string

const (
	TransitionAutomatic  TransitionKind = "automatic"
	TransitionManual     TransitionKind = "manual"
	TransitionRetry      TransitionKind = "retry"
	TransitionRollback   TransitionKind = "rollback"
	TransitionEscalation TransitionKind = "escalation"
)

// TransitionRecord is an append-only audit entry for one workflow mutation.
// Records are never updated or deleted; together they form the workflow's
// replayable history.
type TransitionRecord struct {
	ID              int64          `json:"id,omitempty"`
	WorkflowID      string         `json:"workflowId"`
	FromPhase       string         `json:"fromPhase,omitempty"` // empty on the creation record
	ToPhase         string         `json:"toPhase"`
	FromStatus      WorkflowStatus `json:"fromStatus,omitempty"`
	ToStatus        WorkflowStatus `json:"toStatus"`
	Kind            TransitionKind `json:"kind"`
	TriggeredBy     string         `json:"triggeredBy"`
	Reason          string         `json:"reason,omitempty"`
	DurationSeconds float64        `json:"durationSeconds"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	DateTime        time.Time      `json:"dateTime"`
}
