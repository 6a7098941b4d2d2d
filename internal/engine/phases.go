package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/procurehq/bidflow/internal/metrics"
	"github.com/procurehq/bidflow/internal/process"
	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// TransitionOutcome classifies the structured result of a transition
// attempt. Rejections are expected runtime outcomes, not errors; callers
// routinely probe "can I transition yet".
type TransitionOutcome string

const (
	OutcomeApplied           TransitionOutcome = "applied"
	OutcomeInvalidTransition TransitionOutcome = "invalid_transition"
	OutcomeConditionsNotMet  TransitionOutcome = "conditions_not_met"
	// OutcomeSuperseded means a concurrent transition won between condition
	// evaluation and apply; the caller's view was stale.
	OutcomeSuperseded TransitionOutcome = "superseded"
)

// TransitionResult is the structured outcome of a transition attempt.
// Workflow is a snapshot of post-attempt state.
type TransitionResult struct {
	Outcome        TransitionOutcome
	BlockedReasons []string
	Record         *domain.TransitionRecord
	Workflow       *domain.Workflow
}

type compiledEdge struct {
	def  process.TransitionDefinition
	cond Condition
}

// PhaseMachine enforces that a workflow occupies exactly one declared phase,
// moves only along declared edges whose conditions hold, and runs
// entry/exit hooks exactly once per applied transition.
type PhaseMachine struct {
	processName string
	initial     string
	phases      map[string]*process.PhaseDefinition
	edges       map[string]map[string]*compiledEdge
	edgeOrder   map[string][]string // declaration order of targets per source phase
	sequences   map[string][]domain.WorkItemSpec

	store       *Store
	hooks       map[string]Hook
	persistence Persistence
	notifier    Notifier
	clock       core.Clock
}

// NewPhaseMachine compiles the process definition. Malformed conditions or
// dangling edge references fail here, at startup, rather than at transition
// time.
func NewPhaseMachine(def *process.Definition, store *Store, persistence Persistence, notifier Notifier, clock core.Clock) (*PhaseMachine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	pm := &PhaseMachine{
		processName: def.Name,
		initial:     def.InitialPhase,
		phases:      make(map[string]*process.PhaseDefinition),
		edges:       make(map[string]map[string]*compiledEdge),
		edgeOrder:   make(map[string][]string),
		sequences:   def.Sequences,
		store:       store,
		hooks:       make(map[string]Hook),
		persistence: persistence,
		notifier:    notifier,
		clock:       clock,
	}
	for i := range def.Phases {
		p := &def.Phases[i]
		pm.phases[p.Name] = p
	}
	for _, t := range def.Transitions {
		cond, err := CompileCondition(t.Conditions)
		if err != nil {
			return nil, fmt.Errorf("transition %s -> %s: %w", t.From, t.To, err)
		}
		if pm.edges[t.From] == nil {
			pm.edges[t.From] = make(map[string]*compiledEdge)
		}
		if _, dup := pm.edges[t.From][t.To]; dup {
			return nil, fmt.Errorf("transition %s -> %s declared twice", t.From, t.To)
		}
		pm.edges[t.From][t.To] = &compiledEdge{def: t, cond: cond}
		pm.edgeOrder[t.From] = append(pm.edgeOrder[t.From], t.To)
	}
	return pm, nil
}

// RegisterHook binds a named entry/exit hook. Call before taking traffic.
func (pm *PhaseMachine) RegisterHook(name string, hook Hook) {
	pm.hooks[name] = hook
}

// InitialPhase returns the process's declared starting phase.
func (pm *PhaseMachine) InitialPhase() string { return pm.initial }

// SequenceFor returns the declarative item specs seeded when the given phase
// is entered.
func (pm *PhaseMachine) SequenceFor(phase string) []domain.WorkItemSpec {
	return pm.sequences[phase]
}

// CapabilitiesFor returns the executor capability tags required in a phase.
func (pm *PhaseMachine) CapabilitiesFor(phase string) []string {
	if def, ok := pm.phases[phase]; ok {
		return def.RequiredCapabilities
	}
	return nil
}

func (pm *PhaseMachine) phaseDefinition(phase string) (*process.PhaseDefinition, bool) {
	def, ok := pm.phases[phase]
	return def, ok
}

// Create seeds a new workflow at initialPhase with status pending and
// records the initial transition (fromPhase empty).
func (pm *PhaseMachine) Create(ctx context.Context, workflowID, businessKey, initialPhase string, metadata map[string]any) (*domain.Workflow, error) {
	if initialPhase == "" {
		initialPhase = pm.initial
	}
	def, ok := pm.phases[initialPhase]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, initialPhase)
	}
	if workflowID == "" {
		workflowID = uuid.NewString()
	}
	now := pm.clock.Now()
	wf := &domain.Workflow{
		ID:              workflowID,
		ProcessName:     pm.processName,
		BusinessKey:     businessKey,
		CurrentPhase:    initialPhase,
		Status:          domain.StatusPending,
		CanTransitionTo: append([]string(nil), def.AllowedTransitions...),
		Metadata:        copyMap(metadata),
		Created:         now,
		Modified:        now,
	}
	if wf.Metadata == nil {
		wf.Metadata = make(map[string]any)
	}
	rec := domain.TransitionRecord{
		WorkflowID:  workflowID,
		ToPhase:     initialPhase,
		ToStatus:    domain.StatusPending,
		Kind:        domain.TransitionAutomatic,
		TriggeredBy: "system",
		Reason:      "workflow created",
		Metadata:    copyMap(wf.Metadata),
		DateTime:    now,
	}
	wf.History = append(wf.History, rec)

	entry, created := pm.store.create(wf)
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, workflowID)
	}
	pm.persist(wf, &rec)
	metrics.WorkflowsActive.Inc()

	entry.mu.Lock()
	snapshot := snapshotWorkflow(entry.wf)
	entry.mu.Unlock()
	pm.runHooks(ctx, def.EntryHooks, snapshot)
	pm.notifier.WorkflowCreated(snapshot)
	return snapshot, nil
}

// Get returns a snapshot of the workflow's current state.
func (pm *PhaseMachine) Get(workflowID string) (*domain.Workflow, error) {
	entry, ok := pm.store.get(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshotWorkflow(entry.wf), nil
}

// FindActive returns snapshots of every non-terminal workflow, newest first,
// optionally filtered by business key.
func (pm *PhaseMachine) FindActive(businessKey string) []*domain.Workflow {
	var out []*domain.Workflow
	pm.store.forEach(func(entry *workflowEntry) {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		wf := entry.wf
		if wf.Status.Terminal() {
			return
		}
		if businessKey != "" && wf.BusinessKey != businessKey {
			return
		}
		out = append(out, snapshotWorkflow(wf))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out
}

// Transition attempts to move a workflow along a declared edge. Rejections
// (undeclared target, unmet conditions) come back as structured results and
// leave the phase untouched; configuration faults come back as errors.
func (pm *PhaseMachine) Transition(ctx context.Context, workflowID, toPhase, triggeredBy string, kind domain.TransitionKind, reason string, extra map[string]any) (*TransitionResult, error) {
	entry, ok := pm.store.get(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	entry.mu.Lock()
	wf := entry.wf
	if !contains(wf.CanTransitionTo, toPhase) {
		res := &TransitionResult{
			Outcome:        OutcomeInvalidTransition,
			BlockedReasons: []string{fmt.Sprintf("phase %s is not reachable from %s", toPhase, wf.CurrentPhase)},
			Workflow:       snapshotWorkflow(wf),
		}
		entry.mu.Unlock()
		metrics.TransitionRejectionsTotal.WithLabelValues(string(OutcomeInvalidTransition)).Inc()
		return res, nil
	}
	edge := pm.edge(wf.CurrentPhase, toPhase)
	if edge == nil {
		entry.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoTransitionDefinition, wf.CurrentPhase, toPhase)
	}
	merged := mergeContext(wf.Metadata, extra)
	if pass, reasons := edge.cond.Eval(merged); !pass {
		// idempotent and side-effect free on the phase itself
		wf.BlockedReasons = reasons
		res := &TransitionResult{
			Outcome:        OutcomeConditionsNotMet,
			BlockedReasons: reasons,
			Workflow:       snapshotWorkflow(wf),
		}
		entry.mu.Unlock()
		metrics.TransitionRejectionsTotal.WithLabelValues(string(OutcomeConditionsNotMet)).Inc()
		return res, nil
	}
	fromPhase, fromStatus := wf.CurrentPhase, wf.Status
	exiting := snapshotWorkflow(wf)
	entry.mu.Unlock()

	// exit hooks are metrics/cleanup, not correctness: best effort
	if def := pm.phases[fromPhase]; def != nil {
		pm.runHooks(ctx, def.ExitHooks, exiting)
	}

	rec, applyOutcome, err := pm.apply(entry, fromPhase, fromStatus, toPhase, triggeredBy, kind, reason, extra)
	if err != nil {
		return nil, err
	}
	if applyOutcome == OutcomeSuperseded {
		entry.mu.Lock()
		res := &TransitionResult{Outcome: OutcomeSuperseded, Workflow: snapshotWorkflow(entry.wf)}
		entry.mu.Unlock()
		metrics.TransitionRejectionsTotal.WithLabelValues(string(OutcomeSuperseded)).Inc()
		return res, nil
	}

	entry.mu.Lock()
	entered := snapshotWorkflow(entry.wf)
	entry.mu.Unlock()

	if def := pm.phases[toPhase]; def != nil {
		pm.runHooks(ctx, def.EntryHooks, entered)
	}
	pm.runHooks(ctx, edge.def.Hooks, entered)
	pm.notifier.PhaseTransitioned(entered, rec)
	metrics.TransitionsTotal.WithLabelValues(string(kind), toPhase).Inc()
	if entered.Status.Terminal() {
		metrics.WorkflowsActive.Dec()
	}
	slog.InfoContext(ctx, "Transitioned workflow phase",
		"workflow_id", workflowID, "from", fromPhase, "to", toPhase, "kind", kind, "triggered_by", triggeredBy)
	return &TransitionResult{Outcome: OutcomeApplied, Record: rec, Workflow: entered}, nil
}

// apply performs the guarded mutation. A panic inside the apply stage rolls
// the phase back to its pre-transition value, forces status failed and
// restricts the workflow to cancellation only: a failed transition must not
// leave an ambiguous phase behind.
func (pm *PhaseMachine) apply(entry *workflowEntry, fromPhase string, fromStatus domain.WorkflowStatus, toPhase, triggeredBy string, kind domain.TransitionKind, reason string, extra map[string]any) (rec *domain.TransitionRecord, outcome TransitionOutcome, err error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	wf := entry.wf
	if wf.CurrentPhase != fromPhase || wf.Status != fromStatus {
		return nil, OutcomeSuperseded, nil
	}

	prevBlocked := wf.BlockedReasons
	prevMeta := copyMap(wf.Metadata)
	defer func() {
		if r := recover(); r != nil {
			wf.CurrentPhase = fromPhase
			wf.Status = domain.StatusFailed
			wf.CanTransitionTo = []string{process.PhaseCancelled}
			wf.BlockedReasons = prevBlocked
			wf.Metadata = prevMeta
			slog.Error("Transition apply failed, rolled back phase",
				"workflow_id", wf.ID, "from", fromPhase, "to", toPhase, "panic", r)
			rec = nil
			outcome = ""
			err = fmt.Errorf("transition %s -> %s aborted: %v", fromPhase, toPhase, r)
		}
	}()

	targetDef, ok := pm.phases[toPhase]
	if !ok {
		panic(fmt.Sprintf("target phase %s has no definition", toPhase))
	}
	now := pm.clock.Now()
	var duration float64
	if n := len(wf.History); n > 0 {
		duration = now.Sub(wf.History[n-1].DateTime).Seconds()
	}
	wf.CurrentPhase = toPhase
	wf.Status = statusForPhase(toPhase)
	wf.CanTransitionTo = append([]string(nil), targetDef.AllowedTransitions...)
	wf.BlockedReasons = nil
	for k, v := range extra {
		wf.Metadata[k] = v
	}
	wf.Modified = now

	record := domain.TransitionRecord{
		WorkflowID:      wf.ID,
		FromPhase:       fromPhase,
		ToPhase:         toPhase,
		FromStatus:      fromStatus,
		ToStatus:        wf.Status,
		Kind:            kind,
		TriggeredBy:     triggeredBy,
		Reason:          reason,
		DurationSeconds: duration,
		Metadata:        copyMap(wf.Metadata),
		DateTime:        now,
	}
	wf.History = append(wf.History, record)
	pm.persist(wf, &record)
	return &record, OutcomeApplied, nil
}

// TryAutoTransition evaluates the automatic edges leaving the current phase
// in declaration order and applies the first whose conditions hold. Called
// by the scheduler once a phase's items have all resolved.
func (pm *PhaseMachine) TryAutoTransition(ctx context.Context, workflowID string, extra map[string]any) (*TransitionResult, error) {
	entry, ok := pm.store.get(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	wf := entry.wf
	if wf.Status.Terminal() || wf.Status == domain.StatusSuspended {
		res := &TransitionResult{Outcome: OutcomeInvalidTransition, Workflow: snapshotWorkflow(wf)}
		entry.mu.Unlock()
		return res, nil
	}
	merged := mergeContext(wf.Metadata, extra)
	var target string
	var blocked []string
	for _, to := range pm.edgeOrder[wf.CurrentPhase] {
		edge := pm.edges[wf.CurrentPhase][to]
		if !edge.def.Automatic || !contains(wf.CanTransitionTo, to) {
			continue
		}
		if pass, reasons := edge.cond.Eval(merged); pass {
			target = to
			break
		} else {
			blocked = append(blocked, reasons...)
		}
	}
	if target == "" {
		wf.BlockedReasons = blocked
		res := &TransitionResult{
			Outcome:        OutcomeConditionsNotMet,
			BlockedReasons: blocked,
			Workflow:       snapshotWorkflow(wf),
		}
		entry.mu.Unlock()
		return res, nil
	}
	entry.mu.Unlock()
	return pm.Transition(ctx, workflowID, target, "scheduler", domain.TransitionAutomatic, "all phase work items resolved", extra)
}

// Pause suspends an in-progress workflow. Only the status changes; the
// current phase is untouched.
func (pm *PhaseMachine) Pause(ctx context.Context, workflowID, triggeredBy, reason string) error {
	return pm.setStatus(ctx, workflowID, triggeredBy, reason, domain.StatusInProgress, domain.StatusSuspended)
}

// Resume returns a suspended workflow to in-progress.
func (pm *PhaseMachine) Resume(ctx context.Context, workflowID, triggeredBy, reason string) error {
	return pm.setStatus(ctx, workflowID, triggeredBy, reason, domain.StatusSuspended, domain.StatusInProgress)
}

func (pm *PhaseMachine) setStatus(ctx context.Context, workflowID, triggeredBy, reason string, from, to domain.WorkflowStatus) error {
	entry, ok := pm.store.get(workflowID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	wf := entry.wf
	if wf.Status != from {
		return fmt.Errorf("%w: %s is %s, not %s", ErrInvalidStatus, workflowID, wf.Status, from)
	}
	now := pm.clock.Now()
	rec := domain.TransitionRecord{
		WorkflowID:  wf.ID,
		FromPhase:   wf.CurrentPhase,
		ToPhase:     wf.CurrentPhase,
		FromStatus:  from,
		ToStatus:    to,
		Kind:        domain.TransitionManual,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		DateTime:    now,
	}
	wf.Status = to
	wf.Modified = now
	wf.History = append(wf.History, rec)
	pm.persist(wf, &rec)
	slog.InfoContext(ctx, "Changed workflow status", "workflow_id", workflowID, "from", from, "to", to, "triggered_by", triggeredBy)
	return nil
}

// Cancel moves a workflow to the cancelled phase and, when cascading,
// recursively cancels its children. Re-cancelling through the cascade is an
// idempotent no-op; cancelling an already terminal workflow at the top
// level is ErrAlreadyTerminal.
func (pm *PhaseMachine) Cancel(ctx context.Context, workflowID, triggeredBy, reason string, cascading bool) error {
	return pm.cancel(ctx, workflowID, triggeredBy, reason, cascading, map[string]bool{})
}

func (pm *PhaseMachine) cancel(ctx context.Context, workflowID, triggeredBy, reason string, cascading bool, visited map[string]bool) error {
	if visited[workflowID] {
		return nil
	}
	visited[workflowID] = true

	entry, ok := pm.store.get(workflowID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	wf := entry.wf
	if wf.Status == domain.StatusCancelled || wf.Status == domain.StatusCompleted {
		entry.mu.Unlock()
		if len(visited) > 1 {
			return nil // mid-cascade: already terminal children are fine
		}
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, workflowID, wf.Status)
	}
	now := pm.clock.Now()
	var duration float64
	if n := len(wf.History); n > 0 {
		duration = now.Sub(wf.History[n-1].DateTime).Seconds()
	}
	rec := domain.TransitionRecord{
		WorkflowID:      wf.ID,
		FromPhase:       wf.CurrentPhase,
		ToPhase:         process.PhaseCancelled,
		FromStatus:      wf.Status,
		ToStatus:        domain.StatusCancelled,
		Kind:            domain.TransitionManual,
		TriggeredBy:     triggeredBy,
		Reason:          reason,
		DurationSeconds: duration,
		DateTime:        now,
	}
	wf.CurrentPhase = process.PhaseCancelled
	wf.Status = domain.StatusCancelled
	wf.CanTransitionTo = nil
	wf.Modified = now
	wf.History = append(wf.History, rec)
	pm.persist(wf, &rec)
	children := wf.ChildIDs()
	snapshot := snapshotWorkflow(wf)
	entry.mu.Unlock()

	metrics.WorkflowsActive.Dec()
	pm.notifier.WorkflowCancelled(snapshot, reason)
	slog.InfoContext(ctx, "Cancelled workflow", "workflow_id", workflowID, "cascading", cascading, "children", len(children))

	if cascading {
		for _, child := range children {
			if err := pm.cancel(ctx, child, triggeredBy, "cascaded from "+workflowID, true, visited); err != nil {
				slog.Error("Failed to cancel child workflow", "workflow_id", child, "error", err)
			}
		}
	}
	return nil
}

// ForceFail escalates a workflow straight to failed, bypassing edge
// conditions. Used for the critical failure categories that cannot be left
// to operator recovery.
func (pm *PhaseMachine) ForceFail(ctx context.Context, workflowID, triggeredBy, reason string) error {
	entry, ok := pm.store.get(workflowID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	wf := entry.wf
	if wf.Status.Terminal() {
		entry.mu.Unlock()
		return nil
	}
	now := pm.clock.Now()
	var duration float64
	if n := len(wf.History); n > 0 {
		duration = now.Sub(wf.History[n-1].DateTime).Seconds()
	}
	toPhase := wf.CurrentPhase
	canTransition := []string{process.PhaseCancelled}
	if failedDef, ok := pm.phases[process.PhaseFailed]; ok {
		toPhase = process.PhaseFailed
		canTransition = append([]string(nil), failedDef.AllowedTransitions...)
	}
	rec := domain.TransitionRecord{
		WorkflowID:      wf.ID,
		FromPhase:       wf.CurrentPhase,
		ToPhase:         toPhase,
		FromStatus:      wf.Status,
		ToStatus:        domain.StatusFailed,
		Kind:            domain.TransitionEscalation,
		TriggeredBy:     triggeredBy,
		Reason:          reason,
		DurationSeconds: duration,
		DateTime:        now,
	}
	wf.CurrentPhase = toPhase
	wf.Status = domain.StatusFailed
	wf.CanTransitionTo = canTransition
	wf.BlockedReasons = append(wf.BlockedReasons, reason)
	wf.Modified = now
	wf.History = append(wf.History, rec)
	pm.persist(wf, &rec)
	snapshot := snapshotWorkflow(wf)
	entry.mu.Unlock()

	metrics.WorkflowsActive.Dec()
	metrics.TransitionsTotal.WithLabelValues(string(domain.TransitionEscalation), toPhase).Inc()
	pm.notifier.PhaseTransitioned(snapshot, &rec)
	slog.WarnContext(ctx, "Force failed workflow", "workflow_id", workflowID, "reason", reason)
	return nil
}

// SetBlocked appends a blocked reason without changing phase or status.
func (pm *PhaseMachine) SetBlocked(workflowID, reason string) error {
	entry, ok := pm.store.get(workflowID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	wf := entry.wf
	if !contains(wf.BlockedReasons, reason) {
		wf.BlockedReasons = append(wf.BlockedReasons, reason)
	}
	wf.Modified = pm.clock.Now()
	if err := pm.persistence.SaveWorkflow(wf); err != nil {
		slog.Error("Failed to persist workflow", "workflow_id", wf.ID, "error", err)
	}
	return nil
}

func (pm *PhaseMachine) edge(from, to string) *compiledEdge {
	if m, ok := pm.edges[from]; ok {
		return m[to]
	}
	return nil
}

// persist writes the audit record and workflow snapshot. Persistence is
// advisory here: failures are logged and never block the in-memory state.
func (pm *PhaseMachine) persist(wf *domain.Workflow, rec *domain.TransitionRecord) {
	if err := pm.persistence.CreateTransitionRecord(rec); err != nil {
		slog.Error("Failed to persist transition record", "workflow_id", wf.ID, "error", err)
	}
	if err := pm.persistence.SaveWorkflow(wf); err != nil {
		slog.Error("Failed to persist workflow", "workflow_id", wf.ID, "error", err)
	}
}

func (pm *PhaseMachine) runHooks(ctx context.Context, names []string, wf *domain.Workflow) {
	for _, name := range names {
		hook, ok := pm.hooks[name]
		if !ok {
			slog.Warn("Hook not registered", "hook", name, "workflow_id", wf.ID)
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Hook panicked", "hook", name, "workflow_id", wf.ID, "panic", r)
				}
			}()
			if err := hook(ctx, wf); err != nil {
				slog.Error("Hook failed", "hook", name, "workflow_id", wf.ID, "error", err)
			}
		}()
	}
}

func statusForPhase(phase string) domain.WorkflowStatus {
	switch phase {
	case process.PhaseCompleted:
		return domain.StatusCompleted
	case process.PhaseFailed:
		return domain.StatusFailed
	case process.PhaseCancelled:
		return domain.StatusCancelled
	}
	return domain.StatusInProgress
}

func mergeContext(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
