package repository

import (
	"database/sql"
	"strings"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

type WorkflowRepository struct {
	db    *sql.DB
	clock core.Clock
}

const workflowColumns = ` id, process_name, business_key, current_phase, status,
		can_transition_to, blocked_reasons, metadata, created, modified `

func NewWorkflowRepository(db *sql.DB, clock core.Clock) *WorkflowRepository {
	return &WorkflowRepository{db: db, clock: clock}
}

// Save upserts the workflow row. History is not stored here; transitions
// live in their own table.
func (r *WorkflowRepository) Save(wf *domain.Workflow) error {
	update := `
		UPDATE workflow
		SET current_phase = ` + placeholder(1) + `, status = ` + placeholder(2) + `,
		    can_transition_to = ` + placeholder(3) + `, blocked_reasons = ` + placeholder(4) + `,
		    metadata = ` + placeholder(5) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(6) + `
	`
	res, err := r.db.Exec(update,
		wf.CurrentPhase, string(wf.Status),
		toJSON(wf.CanTransitionTo), toJSON(wf.BlockedReasons),
		toJSON(wf.Metadata), wf.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	vals := []interface{}{
		wf.ID, wf.ProcessName, wf.BusinessKey, wf.CurrentPhase, string(wf.Status),
		toJSON(wf.CanTransitionTo), toJSON(wf.BlockedReasons), toJSON(wf.Metadata),
		formatDateInDatabase(wf.Created), formatDateInDatabase(wf.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	insert := `INSERT INTO workflow (` + workflowColumns + `) VALUES (` + strings.Join(pps, ", ") + `)`
	_, err = r.db.Exec(insert, vals...)
	return err
}

func (r *WorkflowRepository) FindByID(id string) (*domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow WHERE id = ` + placeholder(1) + `
	`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *WorkflowRepository) FindByBusinessKey(key string) (*domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow WHERE business_key = ` + placeholder(1) + `
		ORDER BY created DESC LIMIT 1
	`
	return r.scanOne(r.db.QueryRow(query, key))
}

func (r *WorkflowRepository) FindActive(limit int) ([]domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow
		WHERE status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY modified DESC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanOne(row *sql.Row) (*domain.Workflow, error) {
	return r.scanRow(row)
}

func (r *WorkflowRepository) scanRow(row rowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	var status, canTransition, blocked, metadata string
	err := row.Scan(
		&wf.ID,
		&wf.ProcessName,
		&wf.BusinessKey,
		&wf.CurrentPhase,
		&status,
		&canTransition,
		&blocked,
		&metadata,
		&wf.Created,
		&wf.Modified,
	)
	if err != nil {
		return nil, err
	}
	wf.Status = domain.WorkflowStatus(status)
	wf.CanTransitionTo = fromJSON[[]string](canTransition)
	wf.BlockedReasons = fromJSON[[]string](blocked)
	wf.Metadata = fromJSON[map[string]any](metadata)
	return &wf, nil
}
