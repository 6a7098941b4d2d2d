package repository

import (
	"database/sql"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// SQLPersistence bundles the per-table repositories behind the engine's
// persistence interface.
type SQLPersistence struct {
	Workflows   *WorkflowRepository
	WorkItems   *WorkItemRepository
	Transitions *TransitionRecordRepository
	DeadLetters *DeadLetterRepository
}

func NewSQLPersistence(db *sql.DB, clock core.Clock) *SQLPersistence {
	return &SQLPersistence{
		Workflows:   NewWorkflowRepository(db, clock),
		WorkItems:   NewWorkItemRepository(db, clock),
		Transitions: NewTransitionRecordRepository(db, clock),
		DeadLetters: NewDeadLetterRepository(db, clock),
	}
}

func (p *SQLPersistence) SaveWorkflow(wf *domain.Workflow) error {
	return p.Workflows.Save(wf)
}

func (p *SQLPersistence) CreateWorkItem(item *domain.WorkItem) error {
	return p.WorkItems.Save(item)
}

func (p *SQLPersistence) UpdateWorkItem(item *domain.WorkItem) error {
	return p.WorkItems.Update(item)
}

func (p *SQLPersistence) GetWorkItemsByWorkflow(workflowID string) ([]domain.WorkItem, error) {
	return p.WorkItems.FindByWorkflowID(workflowID)
}

func (p *SQLPersistence) CreateTransitionRecord(rec *domain.TransitionRecord) error {
	_, err := p.Transitions.Save(rec)
	return err
}

func (p *SQLPersistence) CreateDeadLetterEntry(entry *domain.DeadLetterEntry) error {
	return p.DeadLetters.Save(entry)
}

// NoopPersistence satisfies the engine's persistence interface for embedded
// and test use, where the in-memory index is the only state.
type NoopPersistence struct{}

func (NoopPersistence) SaveWorkflow(*domain.Workflow) error                    { return nil }
func (NoopPersistence) CreateWorkItem(*domain.WorkItem) error                  { return nil }
func (NoopPersistence) UpdateWorkItem(*domain.WorkItem) error                  { return nil }
func (NoopPersistence) GetWorkItemsByWorkflow(string) ([]domain.WorkItem, error) { return nil, nil }
func (NoopPersistence) CreateTransitionRecord(*domain.TransitionRecord) error  { return nil }
func (NoopPersistence) CreateDeadLetterEntry(*domain.DeadLetterEntry) error    { return nil }
