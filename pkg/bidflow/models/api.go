package models

import (
	"time"

	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// CreateWorkflowRequest is the payload for creating a workflow.
type CreateWorkflowRequest struct {
	WorkflowID   string         `json:"workflowId,omitempty"` // optional; generated when empty
	BusinessKey  string         `json:"businessKey"`
	InitialPhase string         `json:"initialPhase,omitempty"` // defaults to the process initial phase
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type CreateWorkflowResponse struct {
	ID           string `json:"id"`
	CurrentPhase string `json:"currentPhase"`
}

// TransitionRequest asks the phase machine to move a workflow.
type TransitionRequest struct {
	ToPhase     string         `json:"toPhase"`
	TriggeredBy string         `json:"triggeredBy"`
	Reason      string         `json:"reason,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// TransitionResponse reports the structured outcome; rejections are normal
// results here, not HTTP errors, since callers routinely probe readiness.
type TransitionResponse struct {
	Outcome        string   `json:"outcome"`
	CurrentPhase   string   `json:"currentPhase"`
	BlockedReasons []string `json:"blockedReasons,omitempty"`
}

type PauseResumeRequest struct {
	TriggeredBy string `json:"triggeredBy"`
	Reason      string `json:"reason,omitempty"`
}

type CancelRequest struct {
	TriggeredBy string `json:"triggeredBy"`
	Reason      string `json:"reason"`
	Cascading   bool   `json:"cascading"`
}

// ReportCompletedRequest is the executor's completion callback for an item.
type ReportCompletedRequest struct {
	Result map[string]any `json:"result,omitempty"`
}

// ReportFailedRequest is the executor's failure callback for an item.
type ReportFailedRequest struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message,omitempty"`
}

type ReportResponse struct {
	OK bool `json:"ok"`
}

// RegisterExecutorRequest registers a task executor with the capability
// registry.
type RegisterExecutorRequest struct {
	Name         string   `json:"name"`
	Group        string   `json:"group,omitempty"`
	Capabilities []string `json:"capabilities"`
}

type RegisterExecutorResponse struct {
	ID string `json:"id"`
}

// WorkflowApiResponse is the API view of a workflow instance.
type WorkflowApiResponse struct {
	ID              string                    `json:"id"`
	ProcessName     string                    `json:"processName"`
	BusinessKey     string                    `json:"businessKey"`
	CurrentPhase    string                    `json:"currentPhase"`
	Status          domain.WorkflowStatus     `json:"status"`
	CanTransitionTo []string                  `json:"canTransitionTo"`
	BlockedReasons  []string                  `json:"blockedReasons,omitempty"`
	Metadata        map[string]any            `json:"metadata,omitempty"`
	History         []domain.TransitionRecord `json:"history,omitempty"`
	Created         time.Time                 `json:"created"`
	Modified        time.Time                 `json:"modified"`
}

// MapWorkflow converts the domain entity to its API view.
func MapWorkflow(wf *domain.Workflow, withHistory bool) WorkflowApiResponse {
	resp := WorkflowApiResponse{
		ID:              wf.ID,
		ProcessName:     wf.ProcessName,
		BusinessKey:     wf.BusinessKey,
		CurrentPhase:    wf.CurrentPhase,
		Status:          wf.Status,
		CanTransitionTo: wf.CanTransitionTo,
		BlockedReasons:  wf.BlockedReasons,
		Metadata:        wf.Metadata,
		Created:         wf.Created,
		Modified:        wf.Modified,
	}
	if withHistory {
		resp.History = wf.History
	}
	return resp
}
