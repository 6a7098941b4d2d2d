package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// Registry is the in-memory executor capability registry. Executors register
// with a capability tag set, heartbeat to stay eligible, and are handed out
// least-loaded-first at item release time.
type Registry struct {
	mu         sync.Mutex
	executors  map[string]*domain.Executor
	staleAfter time.Duration
	clock      core.Clock
}

func NewRegistry(staleAfter time.Duration, clock core.Clock) *Registry {
	return &Registry{
		executors:  make(map[string]*domain.Executor),
		staleAfter: staleAfter,
		clock:      clock,
	}
}

// Register adds an executor and returns its identity.
func (r *Registry) Register(name, group string, capabilities []string) *domain.Executor {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	exec := &domain.Executor{
		ID:           uuid.NewString(),
		Name:         name,
		Group:        group,
		Capabilities: append([]string(nil), capabilities...),
		Started:      now,
		LastActive:   now,
	}
	r.executors[exec.ID] = exec
	slog.Info("Registered executor", "executor_id", exec.ID, "name", name, "capabilities", capabilities)
	return exec
}

// Heartbeat refreshes an executor's last-active timestamp.
func (r *Registry) Heartbeat(executorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executors[executorID]
	if !ok {
		return ErrExecutorNotFound
	}
	exec.LastActive = r.clock.Now()
	return nil
}

// Acquire picks the least-loaded live executor carrying every required
// capability and charges one active item to it. Returns
// ErrNoCapacityAvailable when none qualifies; the caller leaves the item
// pending for a later tick.
func (r *Registry) Acquire(capabilities []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock.Now().Add(-r.staleAfter)
	var best *domain.Executor
	for _, exec := range r.executors {
		if exec.LastActive.Before(cutoff) {
			continue
		}
		if !exec.HasCapabilities(capabilities) {
			continue
		}
		if best == nil || exec.ActiveItems < best.ActiveItems {
			best = exec
		}
	}
	if best == nil {
		return "", ErrNoCapacityAvailable
	}
	best.ActiveItems++
	return best.ID, nil
}

// Release returns one unit of capacity after an item reports back.
func (r *Registry) Release(executorID string) {
	if executorID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if exec, ok := r.executors[executorID]; ok && exec.ActiveItems > 0 {
		exec.ActiveItems--
	}
}

// List returns a copy of the registered executors, most recently active
// first is not guaranteed; callers sort as needed.
func (r *Registry) List() []*domain.Executor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Executor, 0, len(r.executors))
	for _, exec := range r.executors {
		cp := *exec
		cp.Capabilities = append([]string(nil), exec.Capabilities...)
		out = append(out, &cp)
	}
	return out
}
