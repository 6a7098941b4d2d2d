package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/procurehq/bidflow/internal/metrics"
	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// Scheduler converts declarative work-item sequences into a live execution
// order: it releases items the instant their dependencies are satisfied,
// propagates completion and failure, and asks the phase machine to advance
// once a phase's items have all resolved.
type Scheduler struct {
	store       *Store
	phases      *PhaseMachine
	retry       *RetryEngine
	registry    CapabilityRegistry
	persistence Persistence
	clock       core.Clock
	queue       chan Assignment
}

func NewScheduler(store *Store, phases *PhaseMachine, retry *RetryEngine, registry CapabilityRegistry, persistence Persistence, clock core.Clock, queueSize int) *Scheduler {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Scheduler{
		store:       store,
		phases:      phases,
		retry:       retry,
		registry:    registry,
		persistence: persistence,
		clock:       clock,
		queue:       make(chan Assignment, queueSize),
	}
}

// Queue exposes the bounded assignment handoff consumed by dispatch workers.
func (s *Scheduler) Queue() <-chan Assignment { return s.queue }

// Submit persists every item of the sequence and immediately releases the
// roots. A sequence with a dependency cycle or a dangling dependency is
// rejected before any item is created: silently hanging is not acceptable.
func (s *Scheduler) Submit(ctx context.Context, seq domain.WorkItemSequence) error {
	entry, ok := s.store.get(seq.WorkflowID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, seq.WorkflowID)
	}
	if err := validateSequence(seq.Items); err != nil {
		return err
	}

	now := s.clock.Now()
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, spec := range seq.Items {
		if _, dup := entry.items[seqKey(seq.Phase, spec.SequenceID)]; dup {
			return fmt.Errorf("sequence id %s already submitted for phase %s", spec.SequenceID, seq.Phase)
		}
	}

	created := make([]*domain.WorkItem, 0, len(seq.Items))
	for _, spec := range seq.Items {
		item := &domain.WorkItem{
			ID:         uuid.NewString(),
			WorkflowID: seq.WorkflowID,
			Phase:      seq.Phase,
			TaskType:   spec.TaskType,
			SequenceID: spec.SequenceID,
			DependsOn:  append([]string(nil), spec.DependsOn...),
			Priority:   spec.Priority,
			Blocking:   spec.Blocking,
			Status:     domain.ItemPending,
			Metadata:   map[string]any{},
			Created:    now,
			Modified:   now,
		}
		if len(spec.Inputs) > 0 {
			item.Metadata["inputs"] = spec.Inputs
		}
		if spec.DeadlineMinutes > 0 {
			item.Deadline = now.Add(time.Duration(spec.DeadlineMinutes) * time.Minute)
		}
		entry.items[seqKey(seq.Phase, spec.SequenceID)] = item
		entry.itemsByID[item.ID] = item
		s.store.registerItem(item.ID, seq.WorkflowID)
		if err := s.persistence.CreateWorkItem(item); err != nil {
			slog.Error("Failed to persist work item", "work_item_id", item.ID, "error", err)
		}
		created = append(created, item)
	}
	slog.InfoContext(ctx, "Submitted work item sequence",
		"workflow_id", seq.WorkflowID, "phase", seq.Phase, "items", len(created))

	for _, item := range created {
		if len(item.DependsOn) == 0 {
			s.releaseLocked(ctx, entry, item)
		}
	}
	return nil
}

// StartItem records that an executor began working an assignment. Safe to
// repeat; reports for terminal items are discarded.
func (s *Scheduler) StartItem(ctx context.Context, itemID string) error {
	entry, ok := s.store.entryForItem(itemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkItemNotFound, itemID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	item, ok := entry.itemsByID[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkItemNotFound, itemID)
	}
	if item.Terminal() || item.Status == domain.ItemRunning {
		return nil
	}
	item.Status = domain.ItemRunning
	item.Modified = s.clock.Now()
	if err := s.persistence.UpdateWorkItem(item); err != nil {
		slog.Error("Failed to persist work item", "work_item_id", item.ID, "error", err)
	}
	return nil
}

// OnItemCompleted marks the item completed, releases every dependent whose
// dependencies are now all satisfied (exactly once, even under concurrent
// completions), and attempts the phase's automatic transition once all of
// the phase's items have resolved. Repeat reports are safe no-ops; reports
// for cancelled workflows are accepted and discarded.
func (s *Scheduler) OnItemCompleted(ctx context.Context, itemID string, result map[string]any) error {
	entry, ok := s.store.entryForItem(itemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkItemNotFound, itemID)
	}
	entry.mu.Lock()
	item, ok := entry.itemsByID[itemID]
	if !ok {
		entry.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkItemNotFound, itemID)
	}
	if item.Terminal() {
		entry.mu.Unlock()
		return nil
	}
	now := s.clock.Now()
	item.Status = domain.ItemCompleted
	item.CanRetry = false
	item.Modified = now
	if len(result) > 0 {
		item.Metadata["result"] = result
	}
	s.registry.Release(item.AssignedTo)
	if err := s.persistence.UpdateWorkItem(item); err != nil {
		slog.Error("Failed to persist work item", "work_item_id", item.ID, "error", err)
	}
	metrics.ItemsCompletedTotal.Inc()

	if entry.wf.Status.Terminal() {
		entry.mu.Unlock()
		slog.InfoContext(ctx, "Discarded completion for terminal workflow",
			"workflow_id", item.WorkflowID, "work_item_id", itemID)
		return nil
	}

	// completion results feed the workflow context used by edge conditions
	for k, v := range result {
		entry.wf.Metadata[k] = v
	}
	s.releaseReadyLocked(ctx, entry, item.Phase)
	done, completedCount, total := s.phaseProgressLocked(entry, item.Phase)
	entry.wf.Metadata["phaseProgress"] = fmt.Sprintf("%d/%d", completedCount, total)
	workflowID := item.WorkflowID
	entry.mu.Unlock()

	slog.InfoContext(ctx, "Work item completed",
		"workflow_id", workflowID, "work_item_id", itemID, "phase_progress", fmt.Sprintf("%d/%d", completedCount, total))

	if done {
		if _, err := s.phases.TryAutoTransition(ctx, workflowID, nil); err != nil {
			slog.Error("Automatic transition attempt failed", "workflow_id", workflowID, "error", err)
		}
	}
	return nil
}

// OnItemFailed defers to the retry subsystem for a disposition and applies
// it. Blocking non-retryable failures escalate: critical categories force
// the workflow to failed, anything else only blocks it for an operator.
func (s *Scheduler) OnItemFailed(ctx context.Context, itemID, errorCode, message string) error {
	entry, ok := s.store.entryForItem(itemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkItemNotFound, itemID)
	}
	entry.mu.Lock()
	item, ok := entry.itemsByID[itemID]
	if !ok {
		entry.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkItemNotFound, itemID)
	}
	if item.Terminal() {
		entry.mu.Unlock()
		return nil
	}
	now := s.clock.Now()
	item.RetryCount++
	item.LastError = fmt.Sprintf("%s: %s", errorCode, message)
	appendFailureHistory(item, item.LastError)
	s.registry.Release(item.AssignedTo)
	item.AssignedTo = ""

	if entry.wf.Status.Terminal() {
		item.Status = domain.ItemFailed
		item.CanRetry = false
		item.Modified = now
		if err := s.persistence.UpdateWorkItem(item); err != nil {
			slog.Error("Failed to persist work item", "work_item_id", item.ID, "error", err)
		}
		entry.mu.Unlock()
		slog.InfoContext(ctx, "Discarded failure for terminal workflow",
			"workflow_id", item.WorkflowID, "work_item_id", itemID)
		return nil
	}

	decision := s.retry.ShouldRetry(item.TaskType, errorCode, item.RetryCount)
	var dlqItem *domain.WorkItem
	switch decision.Disposition {
	case DispositionRetry:
		item.Status = domain.ItemFailed
		item.CanRetry = true
		item.NextRetryAt = decision.NextRetryAt
		metrics.ItemsRetriedTotal.Inc()
	case DispositionDLQ:
		item.Status = domain.ItemDeadLettered
		item.CanRetry = false
		dlqItem = snapshotItem(item)
		metrics.ItemsDeadLetteredTotal.Inc()
	default:
		item.Status = domain.ItemFailed
		item.CanRetry = false
	}
	item.Modified = now
	if err := s.persistence.UpdateWorkItem(item); err != nil {
		slog.Error("Failed to persist work item", "work_item_id", item.ID, "error", err)
	}

	workflowID := item.WorkflowID
	blocking := item.Blocking
	phase := item.Phase
	var done bool
	if !blocking && decision.Disposition != DispositionRetry {
		done, _, _ = s.phaseProgressLocked(entry, phase)
	}
	entry.mu.Unlock()

	slog.WarnContext(ctx, "Work item failed",
		"workflow_id", workflowID, "work_item_id", itemID, "error_code", errorCode,
		"disposition", decision.Disposition, "reason", decision.Reason)

	if dlqItem != nil {
		dlqEntry := s.retry.MoveToDeadLetterQueue(dlqItem, dlqItem.LastError, !permanentCodes[errorCode], map[string]any{"errorCode": errorCode})
		entry.mu.Lock()
		entry.dlqEntries = append(entry.dlqEntries, dlqEntry)
		entry.mu.Unlock()
	}

	if decision.Disposition != DispositionRetry && blocking {
		if IsCriticalFailure(errorCode) {
			if err := s.phases.ForceFail(ctx, workflowID, "scheduler", fmt.Sprintf("blocking item %s failed: %s", item.SequenceID, item.LastError)); err != nil {
				slog.Error("Failed to escalate workflow failure", "workflow_id", workflowID, "error", err)
			}
		} else {
			if err := s.phases.SetBlocked(workflowID, fmt.Sprintf("blocking item %s failed: %s", item.SequenceID, item.LastError)); err != nil {
				slog.Error("Failed to block workflow", "workflow_id", workflowID, "error", err)
			}
		}
	}
	if done {
		if _, err := s.phases.TryAutoTransition(ctx, workflowID, nil); err != nil {
			slog.Error("Automatic transition attempt failed", "workflow_id", workflowID, "error", err)
		}
	}
	return nil
}

// ReleaseDueRetries resets retry-flagged items whose backoff has elapsed and
// re-releases anything pending with satisfied dependencies (covering items
// skipped earlier for lack of executor capacity). Called from the sweep.
func (s *Scheduler) ReleaseDueRetries(ctx context.Context) {
	now := s.clock.Now()
	s.store.forEach(func(entry *workflowEntry) {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if entry.wf.Status.Terminal() || entry.wf.Status == domain.StatusSuspended {
			return
		}
		phases := map[string]bool{}
		for _, item := range entry.itemsByID {
			if item.Status == domain.ItemFailed && item.CanRetry && !item.NextRetryAt.After(now) {
				item.Status = domain.ItemPending
				item.CanRetry = false
				item.NextRetryAt = time.Time{}
				item.Modified = now
				slog.InfoContext(ctx, "Re-queued work item for retry",
					"workflow_id", item.WorkflowID, "work_item_id", item.ID, "attempt", item.RetryCount+1)
			}
			phases[item.Phase] = true
		}
		for phase := range phases {
			s.releaseReadyLocked(ctx, entry, phase)
		}
	})
}

// ItemsByWorkflow returns snapshots of a workflow's items, submission order
// approximated by creation time then sequence id.
func (s *Scheduler) ItemsByWorkflow(workflowID string) ([]domain.WorkItem, error) {
	entry, ok := s.store.get(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]domain.WorkItem, 0, len(entry.itemsByID))
	for _, item := range entry.itemsByID {
		out = append(out, *snapshotItem(item))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].SequenceID < out[j].SequenceID
	})
	return out, nil
}

// DeadLetters returns the quarantined entries for one workflow.
func (s *Scheduler) DeadLetters(workflowID string) ([]domain.DeadLetterEntry, error) {
	entry, ok := s.store.get(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]domain.DeadLetterEntry, 0, len(entry.dlqEntries))
	for _, e := range entry.dlqEntries {
		out = append(out, *e)
	}
	return out, nil
}

// releaseLocked hands one pending item to an executor. The release decision
// shares the critical section with the dependency-satisfaction check, which
// is what makes release exactly-once under concurrent completions. Returns
// false when the item stays pending (no capacity, full queue, or terminal
// workflow).
func (s *Scheduler) releaseLocked(ctx context.Context, entry *workflowEntry, item *domain.WorkItem) bool {
	if item.Status != domain.ItemPending {
		return false
	}
	if entry.wf.Status.Terminal() || entry.wf.Status == domain.StatusSuspended {
		return false
	}
	executorID, err := s.registry.Acquire(s.phases.CapabilitiesFor(item.Phase))
	if err != nil {
		slog.Debug("No executor capacity, item stays pending",
			"workflow_id", item.WorkflowID, "work_item_id", item.ID, "task_type", item.TaskType)
		return false
	}
	item.AssignedTo = executorID
	item.Status = domain.ItemAssigned
	item.Modified = s.clock.Now()

	assignment := Assignment{
		Item:       snapshotItem(item),
		ExecutorID: executorID,
		TaskType:   item.TaskType,
		Deadline:   item.Deadline,
	}
	if inputs, ok := item.Metadata["inputs"].(map[string]any); ok {
		assignment.Inputs = inputs
	}
	select {
	case s.queue <- assignment:
	default:
		// handoff is fire-and-forget and must never block the caller: back
		// out and let the sweep retry once the queue drains
		s.registry.Release(executorID)
		item.AssignedTo = ""
		item.Status = domain.ItemPending
		slog.Warn("Dispatch queue full, item stays pending", "work_item_id", item.ID)
		return false
	}
	if err := s.persistence.UpdateWorkItem(item); err != nil {
		slog.Error("Failed to persist work item", "work_item_id", item.ID, "error", err)
	}
	metrics.ItemsReleasedTotal.Inc()
	slog.InfoContext(ctx, "Released work item",
		"workflow_id", item.WorkflowID, "work_item_id", item.ID, "task_type", item.TaskType, "executor_id", executorID)
	return true
}

// releaseReadyLocked releases every pending item of the phase whose
// dependencies have all completed.
func (s *Scheduler) releaseReadyLocked(ctx context.Context, entry *workflowEntry, phase string) {
	ready := make([]*domain.WorkItem, 0)
	for _, item := range entry.itemsByID {
		if item.Phase != phase || item.Status != domain.ItemPending {
			continue
		}
		if s.depsSatisfiedLocked(entry, item) {
			ready = append(ready, item)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].SequenceID < ready[j].SequenceID
	})
	for _, item := range ready {
		s.releaseLocked(ctx, entry, item)
	}
}

func (s *Scheduler) depsSatisfiedLocked(entry *workflowEntry, item *domain.WorkItem) bool {
	for _, dep := range item.DependsOn {
		depItem, ok := entry.items[seqKey(item.Phase, dep)]
		if !ok || depItem.Status != domain.ItemCompleted {
			return false
		}
	}
	return true
}

// phaseProgressLocked reports whether every item tagged with the phase is
// either completed or failed-non-blocking, plus the completed/total counts.
func (s *Scheduler) phaseProgressLocked(entry *workflowEntry, phase string) (done bool, completed, total int) {
	done = true
	for _, item := range entry.itemsByID {
		if item.Phase != phase {
			continue
		}
		total++
		switch item.Status {
		case domain.ItemCompleted:
			completed++
		case domain.ItemFailed, domain.ItemDeadLettered:
			if item.Blocking || item.CanRetry {
				done = false
			}
		default:
			done = false
		}
	}
	if total == 0 {
		done = false
	}
	return done, completed, total
}

func appendFailureHistory(item *domain.WorkItem, failure string) {
	history, _ := item.Metadata["failureHistory"].([]string)
	item.Metadata["failureHistory"] = append(history, failure)
}

func seqKey(phase, sequenceID string) string {
	return phase + "/" + sequenceID
}

// validateSequence rejects duplicate ids, dangling dependencies, and cycles
// (Kahn's algorithm) before anything is persisted.
func validateSequence(items []domain.WorkItemSpec) error {
	ids := make(map[string]bool, len(items))
	for _, it := range items {
		if it.SequenceID == "" {
			return fmt.Errorf("work item of type %s has no sequence id", it.TaskType)
		}
		if ids[it.SequenceID] {
			return fmt.Errorf("duplicate sequence id %s", it.SequenceID)
		}
		ids[it.SequenceID] = true
	}
	indegree := make(map[string]int, len(items))
	dependents := make(map[string][]string)
	for _, it := range items {
		for _, dep := range it.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, it.SequenceID, dep)
			}
			indegree[it.SequenceID]++
			dependents[dep] = append(dependents[dep], it.SequenceID)
		}
	}
	queue := make([]string, 0, len(items))
	for _, it := range items {
		if indegree[it.SequenceID] == 0 {
			queue = append(queue, it.SequenceID)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed != len(items) {
		return fmt.Errorf("%w: %d of %d items unreachable", ErrCycleDetected, len(items)-processed, len(items))
	}
	return nil
}
