package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

const ruleColumns = `rule_id, job_id, interview_plan_id, interview_stage_id, target_stage_id, is_active, created_at`

// ListActiveRules returns active rules of a plan stage with requirements and actions.
func (s *Store) ListActiveRules(ctx context.Context, planID, stageID string) ([]model.Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM advancement_rules
		WHERE is_active AND interview_plan_id = $1 AND interview_stage_id = $2
		ORDER BY created_at DESC`,
		planID, stageID,
	)
}

// ListRules returns every rule, inactive ones included when all is set.
func (s *Store) ListRules(ctx context.Context, all bool) ([]model.Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM advancement_rules
		WHERE is_active OR $1
		ORDER BY created_at DESC`,
		all,
	)
}

func (s *Store) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM advancement_rules WHERE rule_id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, errors.NewNotFoundError("rule %s", id)
	}
	return &rules[0], nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying rules")
	}

	var out []model.Rule
	for rows.Next() {
		var (
			r           model.Rule
			job, target sql.NullString
		)
		if err := rows.Scan(&r.ID, &job, &r.PlanID, &r.StageID, &target, &r.Active, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, errors.NewPersistenceError(err, "scanning rule")
		}
		r.JobID = fromNull(job)
		r.TargetStageID = fromNull(target)
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError(err, "iterating rules")
	}

	for i := range out {
		if out[i].Requirements, err = s.listRequirements(ctx, out[i].ID); err != nil {
			return nil, err
		}
		if out[i].Actions, err = s.listActions(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (s *Store) listRequirements(ctx context.Context, ruleID string) ([]model.Requirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT requirement_id, interview_id, score_field_path, operator, threshold_value, is_required
		FROM advancement_rule_requirements
		WHERE rule_id = $1
		ORDER BY created_at, requirement_id`,
		ruleID,
	)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying requirements")
	}
	defer rows.Close()

	var out []model.Requirement
	for rows.Next() {
		var r model.Requirement
		if err := rows.Scan(&r.ID, &r.InterviewID, &r.FieldPath, &r.Operator, &r.Threshold, &r.Required); err != nil {
			return nil, errors.NewPersistenceError(err, "scanning requirement")
		}
		out = append(out, r)
	}

	return out, errors.NewPersistenceError(rows.Err(), "iterating requirements")
}

func (s *Store) listActions(ctx context.Context, ruleID string) ([]model.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, action_type, execution_order
		FROM advancement_rule_actions
		WHERE rule_id = $1
		ORDER BY execution_order, created_at`,
		ruleID,
	)
	if err != nil {
		return nil, errors.NewPersistenceError(err, "querying actions")
	}
	defer rows.Close()

	var out []model.Action
	for rows.Next() {
		var (
			a    model.Action
			kind string
		)
		if err := rows.Scan(&a.ID, &kind, &a.Order); err != nil {
			return nil, errors.NewPersistenceError(err, "scanning action")
		}
		if a.Kind, err = model.ParseActionKind(kind); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "action %s", a.ID), errors.ErrConfiguration)
		}
		out = append(out, a)
	}

	return out, errors.NewPersistenceError(rows.Err(), "iterating actions")
}

// CreateRule stores a rule with its requirements and actions atomically.
// Missing ids are generated.
func (s *Store) CreateRule(ctx context.Context, r *model.Rule, now time.Time) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO advancement_rules (
				rule_id, job_id, interview_plan_id, interview_stage_id, target_stage_id, is_active, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			r.ID, nullable(r.JobID), r.PlanID, r.StageID, nullable(r.TargetStageID), r.Active, now,
		); err != nil {
			return errors.NewPersistenceError(err, "inserting rule")
		}

		for i := range r.Requirements {
			req := &r.Requirements[i]
			if req.ID == "" {
				req.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO advancement_rule_requirements (
					requirement_id, rule_id, interview_id, score_field_path, operator, threshold_value, is_required, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				req.ID, r.ID, req.InterviewID, req.FieldPath, req.Operator, req.Threshold, req.Required, now.Add(time.Duration(i)*time.Microsecond),
			); err != nil {
				return errors.NewPersistenceError(err, "inserting requirement")
			}
		}

		for i := range r.Actions {
			act := &r.Actions[i]
			if act.ID == "" {
				act.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO advancement_rule_actions (action_id, rule_id, action_type, execution_order, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				act.ID, r.ID, string(act.Kind), act.Order, now.Add(time.Duration(i)*time.Microsecond),
			); err != nil {
				return errors.NewPersistenceError(err, "inserting action")
			}
		}

		return nil
	})
}

// DeactivateRule soft-deletes a rule.
func (s *Store) DeactivateRule(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE advancement_rules SET is_active = FALSE, updated_at = $2 WHERE rule_id = $1 AND is_active`,
		id, now,
	)
	if err != nil {
		return errors.NewPersistenceError(err, "deactivating rule")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewPersistenceError(err, "reading deactivate result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("active rule %s", id)
	}

	return nil
}
