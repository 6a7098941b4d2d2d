package repository

import (
	"database/sql"
	"strings"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

type TransitionRecordRepository struct {
	db    *sql.DB
	clock core.Clock
}

const transitionColumns = ` id, workflow_id, from_phase, to_phase, from_status, to_status,
		kind, triggered_by, reason, duration_seconds, metadata, date_time `

func NewTransitionRecordRepository(db *sql.DB, clock core.Clock) *TransitionRecordRepository {
	return &TransitionRecordRepository{db: db, clock: clock}
}

func (r *TransitionRecordRepository) Save(rec *domain.TransitionRecord) (int64, error) {
	vals := []interface{}{
		rec.WorkflowID, rec.FromPhase, rec.ToPhase, string(rec.FromStatus), string(rec.ToStatus),
		string(rec.Kind), rec.TriggeredBy, rec.Reason, rec.DurationSeconds,
		toJSON(rec.Metadata), formatDateInDatabase(rec.DateTime),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO phase_transition (
		workflow_id, from_phase, to_phase, from_status, to_status,
		kind, triggered_by, reason, duration_seconds, metadata, date_time
	) VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&rec.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			rec.ID, err = res.LastInsertId()
		}
	}
	return rec.ID, err
}

func (r *TransitionRecordRepository) FindByWorkflowID(workflowID string) ([]domain.TransitionRecord, error) {
	query := `
		SELECT ` + transitionColumns + `
		FROM phase_transition
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransitionRecord
	for rows.Next() {
		var rec domain.TransitionRecord
		var fromStatus, toStatus, kind, metadata string
		err := rows.Scan(
			&rec.ID,
			&rec.WorkflowID,
			&rec.FromPhase,
			&rec.ToPhase,
			&fromStatus,
			&toStatus,
			&kind,
			&rec.TriggeredBy,
			&rec.Reason,
			&rec.DurationSeconds,
			&metadata,
			&rec.DateTime,
		)
		if err != nil {
			return nil, err
		}
		rec.FromStatus = domain.WorkflowStatus(fromStatus)
		rec.ToStatus = domain.WorkflowStatus(toStatus)
		rec.Kind = domain.TransitionKind(kind)
		rec.Metadata = fromJSON[map[string]any](metadata)
		records = append(records, rec)
	}
	return records, rows.Err()
}
