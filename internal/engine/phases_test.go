package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/procurehq/bidflow/internal/process"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

func TestCreateWorkflowSeedsInitialState(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()

	wf, err := eng.phases.Create(ctx, "wf-1", "RFP-2025-001", "", map[string]any{"agency": "GSA"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if wf.CurrentPhase != process.PhaseDiscovery {
		t.Errorf("expected initial phase discovery, got %s", wf.CurrentPhase)
	}
	if wf.Status != domain.StatusPending {
		t.Errorf("expected status pending, got %s", wf.Status)
	}
	if len(wf.CanTransitionTo) != 3 {
		t.Errorf("expected 3 allowed transitions, got %v", wf.CanTransitionTo)
	}
	if len(wf.History) != 1 {
		t.Fatalf("expected one creation record, got %d", len(wf.History))
	}
	rec := wf.History[0]
	if rec.FromPhase != "" || rec.ToPhase != process.PhaseDiscovery || rec.TriggeredBy != "system" {
		t.Errorf("unexpected creation record: %+v", rec)
	}
	if len(eng.notifier.Created) != 1 {
		t.Errorf("expected one created notification, got %d", len(eng.notifier.Created))
	}
}

func TestCreateWorkflowRejectsDuplicateAndUnknownPhase(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()

	if _, err := eng.phases.Create(ctx, "wf-1", "RFP-1", "", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := eng.phases.Create(ctx, "wf-1", "RFP-1", "", nil); !errors.Is(err, ErrWorkflowExists) {
		t.Errorf("expected ErrWorkflowExists, got %v", err)
	}
	if _, err := eng.phases.Create(ctx, "wf-2", "RFP-2", "negotiation", nil); !errors.Is(err, ErrUnknownPhase) {
		t.Errorf("expected ErrUnknownPhase, got %v", err)
	}
}

func TestCreateRunsEntryHooks(t *testing.T) {
	eng := newTestEngine(5)
	def := testDefinition()
	def.Phases[0].EntryHooks = []string{"seed"}
	phases, err := NewPhaseMachine(def, eng.store, &MockPersistence{}, eng.notifier, eng.clock)
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	var hooked string
	phases.RegisterHook("seed", func(ctx context.Context, wf *domain.Workflow) error {
		hooked = wf.CurrentPhase
		return nil
	})

	if _, err := phases.Create(context.Background(), "wf-1", "RFP-1", "", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if hooked != process.PhaseDiscovery {
		t.Errorf("entry hook did not run for discovery, got %q", hooked)
	}
}

func TestTransitionInvalidTargetIsStructuredRejection(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()
	mustCreate(t, eng, "wf-1")

	res, err := eng.phases.Transition(ctx, "wf-1", process.PhaseCompleted, "api", domain.TransitionManual, "skip ahead", nil)
	if err != nil {
		t.Fatalf("transition errored: %v", err)
	}
	if res.Outcome != OutcomeInvalidTransition {
		t.Errorf("expected invalid_transition, got %s", res.Outcome)
	}
	wf, _ := eng.phases.Get("wf-1")
	if wf.CurrentPhase != process.PhaseDiscovery {
		t.Errorf("phase moved on rejected transition: %s", wf.CurrentPhase)
	}
}

func TestTransitionWithoutEdgeDefinitionFails(t *testing.T) {
	eng := newTestEngine(5)
	def := testDefinition()
	// analysis allows completed but drop the edge definition for it
	var kept []process.TransitionDefinition
	for _, tr := range def.Transitions {
		if tr.From == process.PhaseAnalysis && tr.To == process.PhaseCompleted {
			continue
		}
		kept = append(kept, tr)
	}
	def.Transitions = kept
	phases, err := NewPhaseMachine(def, NewStore(), &MockPersistence{}, &MockNotifier{}, eng.clock)
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	ctx := context.Background()
	if _, err := phases.Create(ctx, "wf-1", "RFP-1", process.PhaseAnalysis, nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = phases.Transition(ctx, "wf-1", process.PhaseCompleted, "api", domain.TransitionManual, "", nil)
	if !errors.Is(err, ErrNoTransitionDefinition) {
		t.Errorf("expected ErrNoTransitionDefinition, got %v", err)
	}
}

func TestTransitionBlockedUntilConditionsMet(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()
	mustCreate(t, eng, "wf-1")

	// rfpCount is absent, min:1 blocks
	res, err := eng.phases.Transition(ctx, "wf-1", process.PhaseAnalysis, "api", domain.TransitionManual, "", nil)
	if err != nil {
		t.Fatalf("transition errored: %v", err)
	}
	if res.Outcome != OutcomeConditionsNotMet {
		t.Fatalf("expected conditions_not_met, got %s", res.Outcome)
	}
	if len(res.BlockedReasons) == 0 {
		t.Error("expected blocked reasons on rejection")
	}
	wf, _ := eng.phases.Get("wf-1")
	if wf.CurrentPhase != process.PhaseDiscovery || len(wf.History) != 1 {
		t.Errorf("rejected transition mutated state: phase=%s history=%d", wf.CurrentPhase, len(wf.History))
	}

	// same attempt with the count supplied moves the phase
	res, err = eng.phases.Transition(ctx, "wf-1", process.PhaseAnalysis, "api", domain.TransitionManual, "scan done", map[string]any{"rfpCount": 3})
	if err != nil {
		t.Fatalf("transition errored: %v", err)
	}
	if res.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", res.Outcome)
	}
	wf, _ = eng.phases.Get("wf-1")
	if wf.CurrentPhase != process.PhaseAnalysis {
		t.Errorf("expected phase analysis, got %s", wf.CurrentPhase)
	}
	if wf.Status != domain.StatusInProgress {
		t.Errorf("expected status in_progress, got %s", wf.Status)
	}
	if len(wf.History) != 2 {
		t.Errorf("expected 2 history records, got %d", len(wf.History))
	}
	if wf.Metadata["rfpCount"] != 3 {
		t.Errorf("transition context not merged into metadata: %v", wf.Metadata)
	}
}

func TestTransitionToTerminalPhaseSetsTerminalStatus(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()
	mustCreate(t, eng, "wf-1")

	res, err := eng.phases.Transition(ctx, "wf-1", process.PhaseAnalysis, "api", domain.TransitionManual, "", map[string]any{"rfpCount": 2})
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("to analysis: outcome=%v err=%v", res.Outcome, err)
	}
	res, err = eng.phases.Transition(ctx, "wf-1", process.PhaseCompleted, "api", domain.TransitionManual, "", map[string]any{"requirementsParsed": true})
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("to completed: outcome=%v err=%v", res.Outcome, err)
	}
	wf, _ := eng.phases.Get("wf-1")
	if wf.Status != domain.StatusCompleted {
		t.Errorf("expected status completed, got %s", wf.Status)
	}
	if len(wf.CanTransitionTo) != 0 {
		t.Errorf("terminal phase should allow no transitions, got %v", wf.CanTransitionTo)
	}
}

func TestApplySupersededByConcurrentTransition(t *testing.T) {
	eng := newTestEngine(5)
	mustCreate(t, eng, "wf-1")
	entry, _ := eng.store.get("wf-1")

	_, outcome, err := eng.phases.apply(entry, process.PhaseAnalysis, domain.StatusInProgress,
		process.PhaseCompleted, "api", domain.TransitionManual, "", nil)
	if err != nil {
		t.Fatalf("apply errored: %v", err)
	}
	if outcome != OutcomeSuperseded {
		t.Errorf("expected superseded for stale from-state, got %s", outcome)
	}
	wf, _ := eng.phases.Get("wf-1")
	if wf.CurrentPhase != process.PhaseDiscovery {
		t.Errorf("superseded apply mutated phase: %s", wf.CurrentPhase)
	}
}

func TestApplyPanicRollsBack(t *testing.T) {
	eng := newTestEngine(5)
	mustCreate(t, eng, "wf-1")
	entry, _ := eng.store.get("wf-1")

	// force a mid-apply panic by removing the target phase definition
	delete(eng.phases.phases, process.PhaseAnalysis)

	_, _, err := eng.phases.apply(entry, process.PhaseDiscovery, domain.StatusPending,
		process.PhaseAnalysis, "api", domain.TransitionManual, "", nil)
	if err == nil {
		t.Fatal("expected apply to report the aborted transition")
	}
	wf, _ := eng.phases.Get("wf-1")
	if wf.CurrentPhase != process.PhaseDiscovery {
		t.Errorf("rollback did not restore phase: %s", wf.CurrentPhase)
	}
	if wf.Status != domain.StatusFailed {
		t.Errorf("expected status failed after aborted transition, got %s", wf.Status)
	}
	if len(wf.CanTransitionTo) != 1 || wf.CanTransitionTo[0] != process.PhaseCancelled {
		t.Errorf("expected only cancellation after abort, got %v", wf.CanTransitionTo)
	}
}

func TestPauseAndResume(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()
	mustCreate(t, eng, "wf-1")

	if err := eng.phases.Pause(ctx, "wf-1", "operator", "maintenance"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("pause on pending workflow should fail, got %v", err)
	}
	if _, err := eng.phases.Transition(ctx, "wf-1", process.PhaseAnalysis, "api", domain.TransitionManual, "", map[string]any{"rfpCount": 1}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := eng.phases.Pause(ctx, "wf-1", "operator", "maintenance"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	wf, _ := eng.phases.Get("wf-1")
	if wf.Status != domain.StatusSuspended {
		t.Errorf("expected suspended, got %s", wf.Status)
	}
	if err := eng.phases.Resume(ctx, "wf-1", "operator", "done"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	wf, _ = eng.phases.Get("wf-1")
	if wf.Status != domain.StatusInProgress {
		t.Errorf("expected in_progress, got %s", wf.Status)
	}
	if err := eng.phases.Resume(ctx, "wf-1", "operator", "again"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("resume on running workflow should fail, got %v", err)
	}
}

func TestCancelCascadesToChildren(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()

	if _, err := eng.phases.Create(ctx, "child-1", "RFP-1-lot-a", "", nil); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if _, err := eng.phases.Create(ctx, "child-2", "RFP-1-lot-b", "", nil); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if _, err := eng.phases.Create(ctx, "parent", "RFP-1", "", map[string]any{
		domain.MetadataKeyChildren: []string{"child-1", "child-2"},
	}); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	if err := eng.phases.Cancel(ctx, "parent", "operator", "solicitation withdrawn", true); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, id := range []string{"parent", "child-1", "child-2"} {
		wf, _ := eng.phases.Get(id)
		if wf.Status != domain.StatusCancelled {
			t.Errorf("%s: expected cancelled, got %s", id, wf.Status)
		}
	}
	if len(eng.notifier.Cancelled) != 3 {
		t.Errorf("expected 3 cancellation notifications, got %d", len(eng.notifier.Cancelled))
	}
	if err := eng.phases.Cancel(ctx, "parent", "operator", "again", false); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestCancelCascadeTolerantOfTerminalChild(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()

	if _, err := eng.phases.Create(ctx, "child-1", "RFP-1-lot-a", "", nil); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := eng.phases.Cancel(ctx, "child-1", "operator", "duplicate", false); err != nil {
		t.Fatalf("pre-cancel child: %v", err)
	}
	if _, err := eng.phases.Create(ctx, "parent", "RFP-1", "", map[string]any{
		domain.MetadataKeyChildren: []string{"child-1"},
	}); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	if err := eng.phases.Cancel(ctx, "parent", "operator", "withdrawn", true); err != nil {
		t.Errorf("cascade over terminal child should not error, got %v", err)
	}
}

func TestForceFailEscalates(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()
	mustCreate(t, eng, "wf-1")

	if err := eng.phases.ForceFail(ctx, "wf-1", "scheduler", "blocking item failed"); err != nil {
		t.Fatalf("force fail: %v", err)
	}
	wf, _ := eng.phases.Get("wf-1")
	if wf.CurrentPhase != process.PhaseFailed {
		t.Errorf("expected phase failed, got %s", wf.CurrentPhase)
	}
	if wf.Status != domain.StatusFailed {
		t.Errorf("expected status failed, got %s", wf.Status)
	}
	last := wf.History[len(wf.History)-1]
	if last.Kind != domain.TransitionEscalation {
		t.Errorf("expected escalation record, got %s", last.Kind)
	}
	if len(wf.BlockedReasons) == 0 {
		t.Error("expected blocked reasons to record the escalation cause")
	}
	// second escalation on a terminal workflow is a no-op
	if err := eng.phases.ForceFail(ctx, "wf-1", "scheduler", "again"); err != nil {
		t.Errorf("force fail on terminal workflow should be a no-op, got %v", err)
	}
}

func TestSetBlockedRecordsReason(t *testing.T) {
	eng := newTestEngine(5)
	mustCreate(t, eng, "wf-1")

	if err := eng.phases.SetBlocked("wf-1", "phase discovery exceeded timeout of 60 minutes"); err != nil {
		t.Fatalf("set blocked: %v", err)
	}
	wf, _ := eng.phases.Get("wf-1")
	if len(wf.BlockedReasons) != 1 {
		t.Fatalf("expected one blocked reason, got %v", wf.BlockedReasons)
	}
}

func TestTryAutoTransitionFollowsDeclarationOrder(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()
	if _, err := eng.phases.Create(ctx, "wf-1", "RFP-1", "", map[string]any{"rfpCount": 2}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := eng.phases.TryAutoTransition(ctx, "wf-1", nil)
	if err != nil {
		t.Fatalf("auto transition: %v", err)
	}
	if res.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", res.Outcome)
	}
	if res.Workflow.CurrentPhase != process.PhaseAnalysis {
		t.Errorf("expected analysis, got %s", res.Workflow.CurrentPhase)
	}
	if res.Record.Kind != domain.TransitionAutomatic {
		t.Errorf("expected automatic kind, got %s", res.Record.Kind)
	}
}

func TestTryAutoTransitionNoEligibleEdge(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()
	mustCreate(t, eng, "wf-1")

	res, err := eng.phases.TryAutoTransition(ctx, "wf-1", nil)
	if err != nil {
		t.Fatalf("auto transition: %v", err)
	}
	if res.Outcome == OutcomeApplied {
		t.Errorf("auto transition applied with unmet conditions")
	}
}

func TestFindActiveFiltersTerminalAndBusinessKey(t *testing.T) {
	eng := newTestEngine(5)
	ctx := context.Background()

	if _, err := eng.phases.Create(ctx, "wf-1", "RFP-A", "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.phases.Create(ctx, "wf-2", "RFP-B", "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.phases.Cancel(ctx, "wf-2", "operator", "dup", false); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	active := eng.phases.FindActive("")
	if len(active) != 1 || active[0].ID != "wf-1" {
		t.Errorf("expected only wf-1 active, got %v", active)
	}
	if got := eng.phases.FindActive("RFP-A"); len(got) != 1 {
		t.Errorf("business key filter should match wf-1, got %v", got)
	}
	if got := eng.phases.FindActive("RFP-Z"); len(got) != 0 {
		t.Errorf("unmatched business key should return nothing, got %v", got)
	}
}

func mustCreate(t *testing.T, eng *testEngine, id string) {
	t.Helper()
	if _, err := eng.phases.Create(context.Background(), id, "RFP-"+id, "", nil); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}
