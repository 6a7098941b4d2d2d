package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

const (
	subjectWorkflowCreated   = "bidflow.events.workflow.created"
	subjectPhaseTransitioned = "bidflow.events.workflow.transitioned"
	subjectWorkflowCancelled = "bidflow.events.workflow.cancelled"
	subjectItemDeadLettered  = "bidflow.events.item.deadlettered"
)

// NatsNotifier publishes orchestration events to NATS. Publishing is
// fire-and-forget: a failed publish is logged and never propagates.
type NatsNotifier struct {
	conn *nats.Conn
}

func NewNatsNotifier(url string) (*NatsNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("bidflow"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NatsNotifier{conn: conn}, nil
}

func (n *NatsNotifier) Close() {
	n.conn.Drain()
}

func (n *NatsNotifier) WorkflowCreated(wf *domain.Workflow) {
	n.publish(subjectWorkflowCreated, map[string]any{
		"workflowId":  wf.ID,
		"processName": wf.ProcessName,
		"businessKey": wf.BusinessKey,
		"phase":       wf.CurrentPhase,
	})
}

func (n *NatsNotifier) PhaseTransitioned(wf *domain.Workflow, rec *domain.TransitionRecord) {
	n.publish(subjectPhaseTransitioned, map[string]any{
		"workflowId": wf.ID,
		"fromPhase":  rec.FromPhase,
		"toPhase":    rec.ToPhase,
		"kind":       rec.Kind,
		"status":     wf.Status,
	})
}

func (n *NatsNotifier) WorkflowCancelled(wf *domain.Workflow, reason string) {
	n.publish(subjectWorkflowCancelled, map[string]any{
		"workflowId": wf.ID,
		"reason":     reason,
	})
}

func (n *NatsNotifier) ItemDeadLettered(entry *domain.DeadLetterEntry) {
	n.publish(subjectItemDeadLettered, map[string]any{
		"workflowId": entry.WorkflowID,
		"workItemId": entry.WorkItemID,
		"taskType":   entry.TaskType,
		"attempts":   entry.Attempts,
		"lastError":  entry.LastError,
	})
}

func (n *NatsNotifier) publish(subject string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode event", "subject", subject, "error", err)
		return
	}
	if err := n.conn.Publish(subject, data); err != nil {
		slog.Error("Failed to publish event", "subject", subject, "error", err)
	}
}
