package repository

import (
	"database/sql"
	"strings"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

type DeadLetterRepository struct {
	db    *sql.DB
	clock core.Clock
}

const deadLetterColumns = ` id, work_item_id, workflow_id, task_type, attempts, last_error,
		failure_history, recoverable, metadata, date_time `

func NewDeadLetterRepository(db *sql.DB, clock core.Clock) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, clock: clock}
}

func (r *DeadLetterRepository) Save(entry *domain.DeadLetterEntry) error {
	vals := []interface{}{
		entry.ID, entry.WorkItemID, entry.WorkflowID, entry.TaskType, entry.Attempts, entry.LastError,
		toJSON(entry.FailureHistory), entry.Recoverable, toJSON(entry.Metadata),
		formatDateInDatabase(entry.DateTime),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO dead_letter (` + deadLetterColumns + `) VALUES (` + strings.Join(pps, ", ") + `)`
	_, err := r.db.Exec(query, vals...)
	return err
}

func (r *DeadLetterRepository) FindByWorkflowID(workflowID string) ([]domain.DeadLetterEntry, error) {
	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letter
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY date_time ASC
	`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.DeadLetterEntry
	for rows.Next() {
		var entry domain.DeadLetterEntry
		var failureHistory, metadata string
		err := rows.Scan(
			&entry.ID,
			&entry.WorkItemID,
			&entry.WorkflowID,
			&entry.TaskType,
			&entry.Attempts,
			&entry.LastError,
			&failureHistory,
			&entry.Recoverable,
			&metadata,
			&entry.DateTime,
		)
		if err != nil {
			return nil, err
		}
		entry.FailureHistory = fromJSON[[]string](failureHistory)
		entry.Metadata = fromJSON[map[string]any](metadata)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
