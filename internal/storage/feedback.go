package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

// EventExists reports whether any stored schedule has the event.
func (s *Store) EventExists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM interview_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, errors.NewPersistenceError(err, "checking event")
	}
	return exists, nil
}

// StoreFeedback inserts the batch, skipping known ids, and bumps the change
// marker of the application's schedules when anything was new. Both happen
// in one transaction so a failed touch is retried with the inserts. It
// returns the number of new rows.
func (s *Store) StoreFeedback(ctx context.Context, applicationID string, batch []model.Feedback, now time.Time) (int, error) {
	var inserted int

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		for _, fb := range batch {
			ok, err := insertFeedback(ctx, tx, fb)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		if inserted == 0 {
			return nil
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE interview_schedules SET updated_at = $2 WHERE application_id = $1`,
			applicationID, now,
		)
		return errors.NewPersistenceError(err, "touching application schedules")
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

func insertFeedback(ctx context.Context, tx *sql.Tx, fb model.Feedback) (bool, error) {
	values, err := json.Marshal(fb.Values)
	if err != nil {
		return false, errors.Wrapf(err, "encoding values of feedback %s", fb.ID)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO feedback_submissions (
			feedback_id, application_id, event_id, interviewer_id, interview_id,
			submitted_at, submitted_values
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (feedback_id) DO NOTHING`,
		fb.ID, fb.ApplicationID, fb.EventID, fb.InterviewerID, fb.InterviewID, fb.SubmittedAt, values,
	)
	if err != nil {
		return false, errors.NewPersistenceError(err, "inserting feedback")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewPersistenceError(err, "reading insert result")
	}

	return affected == 1, nil
}

// ListFeedbackForSchedule returns submissions for any event of the schedule.
func (s *Store) ListFeedbackForSchedule(ctx context.Context, scheduleID string) ([]model.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.feedback_id, f.application_id, f.event_id, f.interviewer_id, f.interview_id,
		       f.submitted_at, f.submitted_values, f.processed_at
		FROM feedback_submissions f
		JOIN interview_events e ON e.event_id = f.event_id
		WHERE e.schedule_id = $1
		ORDER BY f.submitted_at, f.feedback_id`,
		scheduleID,
	)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying feedback")
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var (
			fb        model.Feedback
			raw       []byte
			processed sql.NullTime
		)
		if err := rows.Scan(
			&fb.ID, &fb.ApplicationID, &fb.EventID, &fb.InterviewerID, &fb.InterviewID,
			&fb.SubmittedAt, &raw, &processed,
		); err != nil {
			return nil, errors.NewPersistenceError(err, "scanning feedback")
		}

		if err := json.Unmarshal(raw, &fb.Values); err != nil {
			return nil, errors.Wrapf(err, "decoding values of feedback %s", fb.ID)
		}
		fb.ProcessedAt = fromNullTime(processed)

		out = append(out, fb)
	}

	return out, errors.NewPersistenceError(rows.Err(), "iterating feedback")
}
