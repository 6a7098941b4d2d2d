package notify

import (
	"log/slog"

	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// LogNotifier is the default event sink when no NATS url is configured.
type LogNotifier struct{}

func (LogNotifier) WorkflowCreated(wf *domain.Workflow) {
	slog.Info("Workflow created",
		"workflow_id", wf.ID, "process_name", wf.ProcessName, "business_key", wf.BusinessKey, "phase", wf.CurrentPhase)
}

func (LogNotifier) PhaseTransitioned(wf *domain.Workflow, rec *domain.TransitionRecord) {
	slog.Info("Workflow transitioned",
		"workflow_id", wf.ID, "from_phase", rec.FromPhase, "to_phase", rec.ToPhase, "kind", rec.Kind, "status", wf.Status)
}

func (LogNotifier) WorkflowCancelled(wf *domain.Workflow, reason string) {
	slog.Info("Workflow cancelled", "workflow_id", wf.ID, "reason", reason)
}

func (LogNotifier) ItemDeadLettered(entry *domain.DeadLetterEntry) {
	slog.Warn("Work item dead lettered",
		"workflow_id", entry.WorkflowID, "work_item_id", entry.WorkItemID, "task_type", entry.TaskType, "attempts", entry.Attempts)
}
