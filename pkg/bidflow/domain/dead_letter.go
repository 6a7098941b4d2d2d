package domain

import "time"

// DeadLetterEntry quarantines a work item that exhausted its retries or
// failed in a way worth a human look. The original item keeps its history;
// the entry only adds the failure context an operator needs for triage.
type DeadLetterEntry struct {
	ID             string         `json:"id"`
	WorkItemID     string         `json:"workItemId"`
	WorkflowID     string         `json:"workflowId"`
	TaskType       string         `json:"taskType"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"lastError"`
	FailureHistory []string       `json:"failureHistory,omitempty"`
	Recoverable    bool           `json:"recoverable"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	DateTime       time.Time      `json:"dateTime"`
}
