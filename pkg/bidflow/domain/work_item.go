package domain

import "time"

// WorkItemStatus is the lifecycle status of one schedulable unit of work.
type WorkItemStatus string

const (
	ItemPending   WorkItemStatus = "pending"
	ItemAssigned  WorkItemStatus = "assigned"
	ItemRunning   WorkItemStatus = "running"
	ItemCompleted WorkItemStatus = "completed"
	ItemFailed    WorkItemStatus = "failed"
	ItemDeadLettered WorkItemStatus = "dlq"
)

// WorkItem is one schedulable unit of work within a phase. SequenceID is the
// stable identifier used for dependency matching; it is declared before the
// item is persisted and is independent of the storage id.
type WorkItem struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflowId"`
	Phase       string         `json:"phase"`
	TaskType    string         `json:"taskType"`
	SequenceID  string         `json:"sequenceId"`
	DependsOn   []string       `json:"dependsOn,omitempty"` // sequence ids
	AssignedTo  string         `json:"assignedTo,omitempty"`
	Priority    int            `json:"priority"`
	Deadline    time.Time      `json:"deadline,omitempty"`
	Blocking    bool           `json:"blocking"`
	Status      WorkItemStatus `json:"status"`
	RetryCount  int            `json:"retryCount"`
	CanRetry    bool           `json:"canRetry"`
	NextRetryAt time.Time      `json:"nextRetryAt,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Created     time.Time      `json:"created"`
	Modified    time.Time      `json:"modified"`
}

// Terminal reports whether the item can change state again. A failed item
// flagged for retry is not terminal; the sweep will re-release it.
func (i *WorkItem) Terminal() bool {
	switch i.Status {
	case ItemCompleted, ItemDeadLettered:
		return true
	case ItemFailed:
		return !i.CanRetry
	}
	return false
}

// WorkItemSpec declares one item of a sequence before submission.
type WorkItemSpec struct {
	SequenceID      string         `json:"sequenceId" yaml:"sequenceId"`
	TaskType        string         `json:"taskType" yaml:"taskType"`
	DependsOn       []string       `json:"dependsOn,omitempty" yaml:"dependsOn"`
	Priority        int            `json:"priority" yaml:"priority"`
	Blocking        bool           `json:"blocking" yaml:"blocking"`
	DeadlineMinutes int            `json:"deadlineMinutes,omitempty" yaml:"deadlineMinutes"`
	Inputs          map[string]any `json:"inputs,omitempty" yaml:"inputs"`
}

// WorkItemSequence is the declarative dependency graph of work items for one
// phase of one workflow. The graph must be acyclic; Submit rejects cycles.
type WorkItemSequence struct {
	WorkflowID string         `json:"workflowId"`
	Phase      string         `json:"phase"`
	Items      []WorkItemSpec `json:"items"`
}
