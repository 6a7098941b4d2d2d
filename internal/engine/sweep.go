package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// Sweeper is the periodic maintenance loop: it re-queues retry-due items,
// re-releases items that were left pending for lack of capacity, and flags
// workflows stuck past their phase timeout.
type Sweeper struct {
	store     *Store
	scheduler *Scheduler
	phases    *PhaseMachine
	clock     core.Clock
	interval  time.Duration
}

func NewSweeper(store *Store, scheduler *Scheduler, phases *PhaseMachine, clock core.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{store: store, scheduler: scheduler, phases: phases, clock: clock, interval: interval}
}

// Run blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Starting sweep service", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweep service stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass. Exported so tests and operators can
// trigger it directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.scheduler.ReleaseDueRetries(ctx)
	s.flagPhaseTimeouts(ctx)
}

// flagPhaseTimeouts blocks workflows that have sat in a timed phase longer
// than the phase allows. Flagging is once per phase visit: the marker is
// cleared by the next transition because it is keyed to the phase name.
func (s *Sweeper) flagPhaseTimeouts(ctx context.Context) {
	now := s.clock.Now()
	s.store.forEach(func(entry *workflowEntry) {
		entry.mu.Lock()
		wf := entry.wf
		if wf.Status.Terminal() || wf.Status == domain.StatusSuspended {
			entry.mu.Unlock()
			return
		}
		def, ok := s.phases.phaseDefinition(wf.CurrentPhase)
		if !ok || def.TimeoutMinutes <= 0 {
			entry.mu.Unlock()
			return
		}
		enteredAt := wf.Created
		if n := len(wf.History); n > 0 {
			enteredAt = wf.History[n-1].DateTime
		}
		deadline := enteredAt.Add(time.Duration(def.TimeoutMinutes) * time.Minute)
		if now.Before(deadline) {
			entry.mu.Unlock()
			return
		}
		if flagged, _ := wf.Metadata["phaseTimeoutFlagged"].(string); flagged == wf.CurrentPhase {
			entry.mu.Unlock()
			return
		}
		wf.Metadata["phaseTimeoutFlagged"] = wf.CurrentPhase
		workflowID := wf.ID
		phase := wf.CurrentPhase
		entry.mu.Unlock()

		reason := fmt.Sprintf("phase %s exceeded timeout of %d minutes", phase, def.TimeoutMinutes)
		slog.WarnContext(ctx, "Workflow exceeded phase timeout",
			"workflow_id", workflowID, "phase", phase, "timeout_minutes", def.TimeoutMinutes)
		if err := s.phases.SetBlocked(workflowID, reason); err != nil {
			slog.Error("Failed to block timed-out workflow", "workflow_id", workflowID, "error", err)
		}
	})
}
