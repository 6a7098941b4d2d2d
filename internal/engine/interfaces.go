package engine

import (
	"context"
	"time"

	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// Persistence is the durable collaborator behind the in-memory core. Writes
// are advisory: a failed write is logged and must not block the in-memory
// transition from completing. The SQL implementation lives in
// internal/repository.
type Persistence interface {
	SaveWorkflow(wf *domain.Workflow) error
	CreateWorkItem(item *domain.WorkItem) error
	UpdateWorkItem(item *domain.WorkItem) error
	GetWorkItemsByWorkflow(workflowID string) ([]domain.WorkItem, error)
	CreateTransitionRecord(rec *domain.TransitionRecord) error
	CreateDeadLetterEntry(entry *domain.DeadLetterEntry) error
}

// Notifier is the fire-and-forget audit/event sink. Delivery failures must
// not affect orchestration correctness, so implementations log and move on.
type Notifier interface {
	WorkflowCreated(wf *domain.Workflow)
	PhaseTransitioned(wf *domain.Workflow, rec *domain.TransitionRecord)
	WorkflowCancelled(wf *domain.Workflow, reason string)
	ItemDeadLettered(entry *domain.DeadLetterEntry)
}

// CapabilityRegistry hands out executor identities for released items.
// Acquire returns ErrNoCapacityAvailable when no live executor carries the
// required tags; the item stays pending and the sweep retries.
type CapabilityRegistry interface {
	Acquire(capabilities []string) (string, error)
	Release(executorID string)
}

// Assignment is the opaque handoff tuple for one released item.
type Assignment struct {
	Item       *domain.WorkItem
	ExecutorID string
	TaskType   string
	Inputs     map[string]any
	Deadline   time.Time
}

// Dispatcher delivers an assignment to its executor. The transport is out of
// scope here; the default implementation just logs the handoff.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Assignment) error
}

// Hook is a side-effecting phase entry/exit action. Hooks run synchronously
// but isolated: an error or panic is logged and never corrupts the
// transition's applied state.
type Hook func(ctx context.Context, wf *domain.Workflow) error
