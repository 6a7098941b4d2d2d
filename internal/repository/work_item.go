package repository

import (
	"database/sql"
	"strings"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

type WorkItemRepository struct {
	db    *sql.DB
	clock core.Clock
}

const workItemColumns = ` id, workflow_id, phase, task_type, sequence_id, depends_on,
		assigned_to, priority, deadline, blocking, status, retry_count,
		can_retry, next_retry_at, last_error, metadata, created, modified `

func NewWorkItemRepository(db *sql.DB, clock core.Clock) *WorkItemRepository {
	return &WorkItemRepository{db: db, clock: clock}
}

func (r *WorkItemRepository) Save(item *domain.WorkItem) error {
	vals := []interface{}{
		item.ID, item.WorkflowID, item.Phase, item.TaskType, item.SequenceID,
		toJSON(item.DependsOn), item.AssignedTo, item.Priority,
		formatDateInDatabaseNull(item.Deadline), item.Blocking, string(item.Status),
		item.RetryCount, item.CanRetry, formatDateInDatabaseNull(item.NextRetryAt),
		item.LastError, toJSON(item.Metadata),
		formatDateInDatabase(item.Created), formatDateInDatabase(item.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO work_item (` + workItemColumns + `) VALUES (` + strings.Join(pps, ", ") + `)`
	_, err := r.db.Exec(query, vals...)
	return err
}

func (r *WorkItemRepository) Update(item *domain.WorkItem) error {
	query := `
		UPDATE work_item
		SET assigned_to = ` + placeholder(1) + `, status = ` + placeholder(2) + `,
		    retry_count = ` + placeholder(3) + `, can_retry = ` + placeholder(4) + `,
		    next_retry_at = ` + placeholder(5) + `, last_error = ` + placeholder(6) + `,
		    metadata = ` + placeholder(7) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(8) + `
	`
	_, err := r.db.Exec(query,
		item.AssignedTo, string(item.Status), item.RetryCount, item.CanRetry,
		formatDateInDatabaseNull(item.NextRetryAt), item.LastError,
		toJSON(item.Metadata), item.ID)
	return err
}

func (r *WorkItemRepository) FindByWorkflowID(workflowID string) ([]domain.WorkItem, error) {
	query := `
		SELECT ` + workItemColumns + `
		FROM work_item
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY created ASC, sequence_id ASC
	`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		var item domain.WorkItem
		var dependsOn, status, metadata string
		var deadline, nextRetryAt sql.NullTime
		err := rows.Scan(
			&item.ID,
			&item.WorkflowID,
			&item.Phase,
			&item.TaskType,
			&item.SequenceID,
			&dependsOn,
			&item.AssignedTo,
			&item.Priority,
			&deadline,
			&item.Blocking,
			&status,
			&item.RetryCount,
			&item.CanRetry,
			&nextRetryAt,
			&item.LastError,
			&metadata,
			&item.Created,
			&item.Modified,
		)
		if err != nil {
			return nil, err
		}
		item.Status = domain.WorkItemStatus(status)
		item.DependsOn = fromJSON[[]string](dependsOn)
		item.Metadata = fromJSON[map[string]any](metadata)
		if deadline.Valid {
			item.Deadline = deadline.Time
		}
		if nextRetryAt.Valid {
			item.NextRetryAt = nextRetryAt.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
