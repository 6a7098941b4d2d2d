package engine

import (
	"hash/fnv"
	"sync"

	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

const storeShards = 16

// workflowEntry is the unit of serialization: one mutex guards one
// workflow's phase state and its work items. Unrelated workflows never
// contend.
type workflowEntry struct {
	mu         sync.Mutex
	wf         *domain.Workflow
	items      map[string]*domain.WorkItem // by phase-scoped sequence id
	itemsByID  map[string]*domain.WorkItem // by storage id
	dlqEntries []*domain.DeadLetterEntry
}

type storeShard struct {
	mu      sync.RWMutex
	entries map[string]*workflowEntry
}

// Store is the shared in-memory index of active workflows. Lookup and
// insertion touch only the owning shard; all state mutation happens under
// the entry's own lock.
type Store struct {
	shards    [storeShards]*storeShard
	ownerMu   sync.RWMutex
	itemOwner map[string]string // work item id -> workflow id
}

func NewStore() *Store {
	s := &Store{itemOwner: make(map[string]string)}
	for i := range s.shards {
		s.shards[i] = &storeShard{entries: make(map[string]*workflowEntry)}
	}
	return s
}

func (s *Store) shard(workflowID string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workflowID))
	return s.shards[h.Sum32()%storeShards]
}

// create inserts a new entry; the second return is false when the workflow
// id is already taken.
func (s *Store) create(wf *domain.Workflow) (*workflowEntry, bool) {
	sh := s.shard(wf.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.entries[wf.ID]; exists {
		return nil, false
	}
	e := &workflowEntry{
		wf:        wf,
		items:     make(map[string]*domain.WorkItem),
		itemsByID: make(map[string]*domain.WorkItem),
	}
	sh.entries[wf.ID] = e
	return e, true
}

func (s *Store) get(workflowID string) (*workflowEntry, bool) {
	sh := s.shard(workflowID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[workflowID]
	return e, ok
}

// registerItem records item ownership so completion callbacks can find the
// owning workflow from an item id alone.
func (s *Store) registerItem(itemID, workflowID string) {
	s.ownerMu.Lock()
	s.itemOwner[itemID] = workflowID
	s.ownerMu.Unlock()
}

func (s *Store) entryForItem(itemID string) (*workflowEntry, bool) {
	s.ownerMu.RLock()
	wfID, ok := s.itemOwner[itemID]
	s.ownerMu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.get(wfID)
}

// forEach visits every entry. Used by the sweep; callers must not hold any
// entry lock while iterating.
func (s *Store) forEach(fn func(e *workflowEntry)) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		entries := make([]*workflowEntry, 0, len(sh.entries))
		for _, e := range sh.entries {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()
		for _, e := range entries {
			fn(e)
		}
	}
}

// snapshotWorkflow deep-copies the mutable slices and maps so readers never
// alias live state. Call with the entry lock held.
func snapshotWorkflow(wf *domain.Workflow) *domain.Workflow {
	cp := *wf
	cp.CanTransitionTo = append([]string(nil), wf.CanTransitionTo...)
	cp.BlockedReasons = append([]string(nil), wf.BlockedReasons...)
	cp.Metadata = copyMap(wf.Metadata)
	cp.History = append([]domain.TransitionRecord(nil), wf.History...)
	return &cp
}

func snapshotItem(it *domain.WorkItem) *domain.WorkItem {
	cp := *it
	cp.DependsOn = append([]string(nil), it.DependsOn...)
	cp.Metadata = copyMap(it.Metadata)
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
