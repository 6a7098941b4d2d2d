package engine

import (
	"context"
	"log/slog"
)

// DispatchWorker drains the scheduler's assignment queue and hands each
// assignment to the dispatcher. Dispatch failures are reported back to the
// scheduler as ordinary work item failures so the retry subsystem decides
// what happens next.
func DispatchWorker(ctx context.Context, id int, scheduler *Scheduler, dispatcher Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatch worker stopping", "worker_id", id)
			return
		case assignment := <-scheduler.Queue():
			slog.Info("Worker dispatching work item",
				"worker_id", id, "work_item_id", assignment.Item.ID, "task_type", assignment.TaskType, "executor_id", assignment.ExecutorID)
			if err := dispatcher.Dispatch(ctx, assignment); err != nil {
				slog.Error("Dispatch failed", "worker_id", id, "work_item_id", assignment.Item.ID, "error", err)
				if rerr := scheduler.OnItemFailed(ctx, assignment.Item.ID, "DISPATCH_FAILED", err.Error()); rerr != nil {
					slog.Error("Failed to report dispatch failure", "work_item_id", assignment.Item.ID, "error", rerr)
				}
			}
		}
	}
}

// LogDispatcher is the default dispatcher: it only records the handoff.
// Real deployments wire a transport (HTTP callback, message bus) in its
// place; executors then drive progress through the reporting API.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(ctx context.Context, a Assignment) error {
	slog.InfoContext(ctx, "Assignment ready for pickup",
		"work_item_id", a.Item.ID, "workflow_id", a.Item.WorkflowID, "task_type", a.TaskType, "executor_id", a.ExecutorID)
	return nil
}
