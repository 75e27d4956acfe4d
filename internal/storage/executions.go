package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

const executionColumns = `execution_id, schedule_id, application_id, rule_id, from_stage_id, to_stage_id,
	status, failure_reason, evaluation_results, executed_at, executed_by`

func insertExecution(ctx context.Context, tx *sql.Tx, e *model.Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	detail := []byte(e.Detail)
	if len(detail) == 0 {
		detail = []byte("{}")
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO advancement_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID,
		e.ScheduleID,
		e.ApplicationID,
		nullable(e.RuleID),
		e.FromStageID,
		nullable(e.ToStageID),
		string(e.Status),
		nullable(e.FailureReason),
		detail,
		e.ExecutedAt,
		string(e.Actor),
	)

	return errors.NewPersistenceError(err, "inserting execution")
}

// CommitDecision writes the audit record, advances the schedule watermark and
// marks the folded feedback as processed in one transaction. The watermark
// never moves backwards.
func (s *Store) CommitDecision(ctx context.Context, d *model.Decision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertExecution(ctx, tx, &d.Execution); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE interview_schedules
			SET last_evaluated_at = GREATEST(last_evaluated_at, $2)
			WHERE schedule_id = $1`,
			d.Execution.ScheduleID, d.EvaluatedAt,
		); err != nil {
			return errors.NewPersistenceError(err, "advancing watermark")
		}

		for _, id := range d.FeedbackIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE feedback_submissions SET processed_at = $2 WHERE feedback_id = $1 AND processed_at IS NULL`,
				id, d.EvaluatedAt,
			); err != nil {
				return errors.NewPersistenceError(err, "marking feedback processed")
			}
		}

		return nil
	})
}

// AppendExecution writes an audit record that is not tied to an evaluation.
func (s *Store) AppendExecution(ctx context.Context, e *model.Execution) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertExecution(ctx, tx, e)
	})
}

func scanExecution(row scanner) (*model.Execution, error) {
	var (
		e                    model.Execution
		rule, target, reason sql.NullString
		status, actor        string
		detail               []byte
	)

	if err := row.Scan(
		&e.ID, &e.ScheduleID, &e.ApplicationID, &rule, &e.FromStageID, &target,
		&status, &reason, &detail, &e.ExecutedAt, &actor,
	); err != nil {
		return nil, err
	}

	e.RuleID = fromNull(rule)
	e.ToStageID = fromNull(target)
	e.FailureReason = fromNull(reason)
	e.Status = model.ExecutionStatus(status)
	e.Actor = model.Actor(actor)
	e.Detail = detail

	return &e, nil
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]model.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying executions")
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, errors.NewPersistenceError(err, "scanning execution")
		}
		out = append(out, *e)
	}

	return out, errors.NewPersistenceError(rows.Err(), "iterating executions")
}

func (s *Store) ListExecutions(ctx context.Context, scheduleID string) ([]model.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM advancement_executions WHERE schedule_id = $1 ORDER BY executed_at`,
		scheduleID,
	)
}

// Stats summarizes executions since the given time.
func (s *Store) Stats(ctx context.Context, since, staleCutoff time.Time) (*model.Stats, error) {
	stats := &model.Stats{Since: since, ByStatus: map[model.ExecutionStatus]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM advancement_executions
		WHERE executed_at >= $1
		GROUP BY status`,
		since,
	)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "counting executions")
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, errors.NewPersistenceError(err, "scanning execution count")
		}
		stats.ByStatus[model.ExecutionStatus(status)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError(err, "iterating execution counts")
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM interview_schedules
		WHERE status IN ($1, $2)
		  AND (last_evaluated_at IS NULL OR updated_at > last_evaluated_at)
		  AND updated_at > $3`,
		string(model.StatusWaitingOnFeedback), string(model.StatusComplete), staleCutoff,
	).Scan(&stats.PendingEvaluations); err != nil {
		return nil, errors.NewPersistenceError(err, "counting pending evaluations")
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM advancement_rules WHERE is_active`,
	).Scan(&stats.ActiveRules); err != nil {
		return nil, errors.NewPersistenceError(err, "counting active rules")
	}

	stats.RecentFailures, err = s.queryExecutions(ctx, `
		SELECT `+executionColumns+`
		FROM advancement_executions
		WHERE status = $1 AND executed_at >= $2
		ORDER BY executed_at DESC
		LIMIT 10`,
		string(model.ExecutionFailed), since,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
