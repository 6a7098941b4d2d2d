package engine

import (
	"sync"
	"time"

	"github.com/procurehq/bidflow/internal/process"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
	"github.com/procurehq/bidflow/pkg/bidflow/models"
)

// Shared mocks and fixtures for the engine tests.

type MockPersistence struct {
	SaveWorkflowFunc           func(wf *domain.Workflow) error
	CreateWorkItemFunc         func(item *domain.WorkItem) error
	UpdateWorkItemFunc         func(item *domain.WorkItem) error
	GetWorkItemsFunc           func(workflowID string) ([]domain.WorkItem, error)
	CreateTransitionRecordFunc func(rec *domain.TransitionRecord) error
	CreateDeadLetterEntryFunc  func(entry *domain.DeadLetterEntry) error
}

func (m *MockPersistence) SaveWorkflow(wf *domain.Workflow) error {
	if m.SaveWorkflowFunc != nil {
		return m.SaveWorkflowFunc(wf)
	}
	return nil
}
func (m *MockPersistence) CreateWorkItem(item *domain.WorkItem) error {
	if m.CreateWorkItemFunc != nil {
		return m.CreateWorkItemFunc(item)
	}
	return nil
}
func (m *MockPersistence) UpdateWorkItem(item *domain.WorkItem) error {
	if m.UpdateWorkItemFunc != nil {
		return m.UpdateWorkItemFunc(item)
	}
	return nil
}
func (m *MockPersistence) GetWorkItemsByWorkflow(workflowID string) ([]domain.WorkItem, error) {
	if m.GetWorkItemsFunc != nil {
		return m.GetWorkItemsFunc(workflowID)
	}
	return nil, nil
}
func (m *MockPersistence) CreateTransitionRecord(rec *domain.TransitionRecord) error {
	if m.CreateTransitionRecordFunc != nil {
		return m.CreateTransitionRecordFunc(rec)
	}
	return nil
}
func (m *MockPersistence) CreateDeadLetterEntry(entry *domain.DeadLetterEntry) error {
	if m.CreateDeadLetterEntryFunc != nil {
		return m.CreateDeadLetterEntryFunc(entry)
	}
	return nil
}

type MockNotifier struct {
	mu           sync.Mutex
	Created      []string
	Transitioned []string
	Cancelled    []string
	DeadLettered []string
}

func (m *MockNotifier) WorkflowCreated(wf *domain.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created = append(m.Created, wf.ID)
}
func (m *MockNotifier) PhaseTransitioned(wf *domain.Workflow, rec *domain.TransitionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transitioned = append(m.Transitioned, rec.ToPhase)
}
func (m *MockNotifier) WorkflowCancelled(wf *domain.Workflow, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, wf.ID)
}
func (m *MockNotifier) ItemDeadLettered(entry *domain.DeadLetterEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeadLettered = append(m.DeadLettered, entry.WorkItemID)
}

type timer struct {
	deadline time.Time
	ch       chan time.Time
}

type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t.ch
}

func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Add advances fake time and fires timers whose deadlines have passed.
func (c *FakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var remaining []*timer
	for _, t := range c.timers {
		if !t.deadline.After(now) {
			t.ch <- now
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()
}

// testDefinition is a reduced procurement process: two working phases plus
// the terminal ones.
func testDefinition() *process.Definition {
	return &process.Definition{
		Name:         "test-procurement",
		InitialPhase: process.PhaseDiscovery,
		Phases: []process.PhaseDefinition{
			{
				Name:                 process.PhaseDiscovery,
				AllowedTransitions:   []string{process.PhaseAnalysis, process.PhaseFailed, process.PhaseCancelled},
				TimeoutMinutes:       60,
				RequiredCapabilities: []string{"portal-scan"},
			},
			{
				Name:               process.PhaseAnalysis,
				AllowedTransitions: []string{process.PhaseCompleted, process.PhaseFailed, process.PhaseCancelled},
			},
			{Name: process.PhaseCompleted},
			{Name: process.PhaseFailed, AllowedTransitions: []string{process.PhaseCancelled}},
			{Name: process.PhaseCancelled},
		},
		Transitions: []process.TransitionDefinition{
			{
				From: process.PhaseDiscovery, To: process.PhaseAnalysis, Automatic: true,
				Conditions: map[string]any{"rfpCount": map[string]any{"min": 1}},
			},
			{
				From: process.PhaseAnalysis, To: process.PhaseCompleted, Automatic: true,
				Conditions: map[string]any{"requirementsParsed": true},
			},
			{From: process.PhaseDiscovery, To: process.PhaseFailed},
			{From: process.PhaseAnalysis, To: process.PhaseFailed},
			{From: process.PhaseDiscovery, To: process.PhaseCancelled},
			{From: process.PhaseAnalysis, To: process.PhaseCancelled},
			{From: process.PhaseFailed, To: process.PhaseCancelled},
		},
	}
}

type testEngine struct {
	store     *Store
	clock     *FakeClock
	notifier  *MockNotifier
	phases    *PhaseMachine
	registry  *Registry
	retry     *RetryEngine
	scheduler *Scheduler
}

func newTestEngine(maxAttempts int) *testEngine {
	clock := NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	store := NewStore()
	persistence := &MockPersistence{}
	notifier := &MockNotifier{}
	phases, err := NewPhaseMachine(testDefinition(), store, persistence, notifier, clock)
	if err != nil {
		panic(err)
	}
	registry := NewRegistry(2*time.Minute, clock)
	retry := NewRetryEngine(testPolicy(maxAttempts), persistence, notifier, clock)
	scheduler := NewScheduler(store, phases, retry, registry, persistence, clock, 64)
	return &testEngine{
		store:     store,
		clock:     clock,
		notifier:  notifier,
		phases:    phases,
		registry:  registry,
		retry:     retry,
		scheduler: scheduler,
	}
}

func testPolicy(maxAttempts int) models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 30 * time.Second,
		MaxInterval:     8 * time.Minute,
	}
}
