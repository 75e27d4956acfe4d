package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

const scheduleColumns = `schedule_id, application_id, candidate_id, job_id, interview_plan_id,
	interview_stage_id, status, source_updated_at, updated_at, last_evaluated_at, created_at`

func scanSchedule(row scanner) (*model.Schedule, error) {
	var (
		s                    model.Schedule
		candidate, job, plan sql.NullString
		status               string
		lastEvaluated        sql.NullTime
	)

	err := row.Scan(
		&s.ID,
		&s.ApplicationID,
		&candidate,
		&job,
		&plan,
		&s.StageID,
		&status,
		&s.SourceUpdatedAt,
		&s.UpdatedAt,
		&lastEvaluated,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.CandidateID = candidate.String
	s.JobID = fromNull(job)
	s.PlanID = fromNull(plan)
	s.Status = model.ScheduleStatus(status)
	s.LastEvaluatedAt = fromNullTime(lastEvaluated)

	return &s, nil
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying schedules")
	}
	defer rows.Close()

	var out []*model.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.NewPersistenceError(err, "scanning schedule")
		}
		out = append(out, sched)
	}

	return out, errors.NewPersistenceError(rows.Err(), "iterating schedules")
}

// GetSchedule returns a NotFound error when the schedule does not exist.
func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM interview_schedules WHERE schedule_id = $1`, id)

	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("schedule %s", id)
	}
	if err != nil {
		return nil, errors.NewPersistenceError(err, "reading schedule")
	}

	return sched, nil
}

// ReplaceSchedule upserts the schedule and replaces its events and
// assignments in one transaction. Deliveries older than the stored one are
// ignored and reported as not applied. The local change marker only moves
// when the delivery is newer, so redelivering the same event changes nothing.
func (s *Store) ReplaceSchedule(ctx context.Context, sched *model.Schedule, events []model.Event, now time.Time) (bool, error) {
	applied := false

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO interview_schedules (
				schedule_id, application_id, candidate_id, job_id, interview_plan_id,
				interview_stage_id, status, source_updated_at, updated_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (schedule_id) DO UPDATE SET
				application_id = EXCLUDED.application_id,
				candidate_id = EXCLUDED.candidate_id,
				job_id = COALESCE(EXCLUDED.job_id, interview_schedules.job_id),
				interview_plan_id = COALESCE(EXCLUDED.interview_plan_id, interview_schedules.interview_plan_id),
				interview_stage_id = EXCLUDED.interview_stage_id,
				status = EXCLUDED.status,
				updated_at = CASE
					WHEN interview_schedules.source_updated_at < EXCLUDED.source_updated_at THEN EXCLUDED.updated_at
					ELSE interview_schedules.updated_at
				END,
				source_updated_at = EXCLUDED.source_updated_at
			WHERE interview_schedules.source_updated_at <= EXCLUDED.source_updated_at`,
			sched.ID,
			sched.ApplicationID,
			sched.CandidateID,
			nullable(sched.JobID),
			nullable(sched.PlanID),
			sched.StageID,
			string(sched.Status),
			sched.SourceUpdatedAt,
			now,
		)
		if err != nil {
			return errors.NewPersistenceError(err, "upserting schedule")
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return errors.NewPersistenceError(err, "reading upsert result")
		}
		if affected == 0 {
			return nil
		}
		applied = true

		if _, err := tx.ExecContext(ctx, `DELETE FROM interview_events WHERE schedule_id = $1`, sched.ID); err != nil {
			return errors.NewPersistenceError(err, "deleting events")
		}

		for _, ev := range events {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO interview_events (schedule_id, event_id, interview_id) VALUES ($1, $2, $3)`,
				sched.ID, ev.ID, ev.InterviewID,
			); err != nil {
				return errors.NewPersistenceError(err, "inserting event")
			}

			for _, interviewer := range ev.Interviewers {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO interview_assignments (schedule_id, event_id, interviewer_id) VALUES ($1, $2, $3)
					ON CONFLICT DO NOTHING`,
					sched.ID, ev.ID, interviewer,
				); err != nil {
					return errors.NewPersistenceError(err, "inserting assignment")
				}
			}
		}

		return nil
	})

	return applied, err
}

// DeleteSchedule removes the schedule with its events and assignments unless
// a newer delivery has been stored since sourceUpdatedAt.
func (s *Store) DeleteSchedule(ctx context.Context, id string, sourceUpdatedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM interview_schedules WHERE schedule_id = $1 AND source_updated_at <= $2`,
		id, sourceUpdatedAt,
	)
	if err != nil {
		return false, errors.NewPersistenceError(err, "deleting schedule")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewPersistenceError(err, "reading delete result")
	}

	return affected > 0, nil
}

// ListEvaluable returns schedules waiting for a decision: feedback-bearing
// statuses, changed since their last evaluation and not older than cutoff.
func (s *Store) ListEvaluable(ctx context.Context, cutoff time.Time) ([]*model.Schedule, error) {
	return s.querySchedules(ctx, `
		SELECT `+scheduleColumns+`
		FROM interview_schedules
		WHERE status IN ($1, $2)
		  AND (last_evaluated_at IS NULL OR updated_at > last_evaluated_at)
		  AND updated_at > $3
		ORDER BY updated_at ASC`,
		string(model.StatusWaitingOnFeedback), string(model.StatusComplete), cutoff,
	)
}

func (s *Store) ListSchedulesByApplication(ctx context.Context, applicationID string) ([]*model.Schedule, error) {
	return s.querySchedules(ctx, `
		SELECT `+scheduleColumns+`
		FROM interview_schedules
		WHERE application_id = $1
		ORDER BY updated_at ASC`,
		applicationID,
	)
}

// ListUnresolved returns recently changed schedules still missing plan or job.
func (s *Store) ListUnresolved(ctx context.Context, cutoff time.Time, limit int) ([]*model.Schedule, error) {
	return s.querySchedules(ctx, `
		SELECT `+scheduleColumns+`
		FROM interview_schedules
		WHERE (interview_plan_id IS NULL OR job_id IS NULL)
		  AND updated_at > $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		cutoff, limit,
	)
}

// SetScheduleMetadata fills plan and job. Nil values keep what is stored.
func (s *Store) SetScheduleMetadata(ctx context.Context, id string, planID, jobID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE interview_schedules
		SET interview_plan_id = COALESCE($2, interview_plan_id),
		    job_id = COALESCE($3, job_id)
		WHERE schedule_id = $1`,
		id, nullable(planID), nullable(jobID),
	)
	return errors.NewPersistenceError(err, "updating schedule metadata")
}

func (s *Store) ListEvents(ctx context.Context, scheduleID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.event_id, e.interview_id, a.interviewer_id
		FROM interview_events e
		LEFT JOIN interview_assignments a ON a.schedule_id = e.schedule_id AND a.event_id = e.event_id
		WHERE e.schedule_id = $1
		ORDER BY e.event_id, a.interviewer_id`,
		scheduleID,
	)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			eventID, interviewID string
			interviewer          sql.NullString
		)
		if err := rows.Scan(&eventID, &interviewID, &interviewer); err != nil {
			return nil, errors.NewPersistenceError(err, "scanning event")
		}

		if n := len(events); n == 0 || events[n-1].ID != eventID {
			events = append(events, model.Event{ID: eventID, InterviewID: interviewID})
		}
		if interviewer.Valid {
			last := &events[len(events)-1]
			last.Interviewers = append(last.Interviewers, interviewer.String)
		}
	}

	return events, errors.NewPersistenceError(rows.Err(), "iterating events")
}

// ListActiveApplicationIDs returns applications with a feedback-bearing schedule changed after cutoff.
func (s *Store) ListActiveApplicationIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT application_id
		FROM interview_schedules
		WHERE status IN ($1, $2) AND updated_at > $3
		ORDER BY application_id`,
		string(model.StatusWaitingOnFeedback), string(model.StatusComplete), cutoff,
	)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying active applications")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewPersistenceError(err, "scanning application id")
		}
		ids = append(ids, id)
	}

	return ids, errors.NewPersistenceError(rows.Err(), "iterating applications")
}
