package rules

import (
	"context"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

// Catalog lists the stages of an interview plan in plan order.
type Catalog interface {
	StageOrder(ctx context.Context, planID string) ([]model.Stage, error)
}

// VerifyStages checks that the rule's stage and explicit target belong to its
// plan. Unknown stages are validation errors; catalog failures pass through.
func VerifyStages(ctx context.Context, catalog Catalog, r *model.Rule) error {
	stages, err := catalog.StageOrder(ctx, r.PlanID)
	if err != nil {
		return errors.Wrapf(err, "listing stages of plan %s", r.PlanID)
	}
	if len(stages) == 0 {
		return errors.NewValidationError("plan %s has no stages", r.PlanID)
	}

	known := make(map[string]int, len(stages))
	for i, s := range stages {
		known[s.ID] = i
	}

	pos, ok := known[r.StageID]
	if !ok {
		return errors.NewValidationError("stage %s is not part of plan %s", r.StageID, r.PlanID)
	}

	if r.TargetStageID != nil {
		if _, ok := known[*r.TargetStageID]; !ok {
			return errors.NewValidationError("target stage %s is not part of plan %s", *r.TargetStageID, r.PlanID)
		}
		return nil
	}

	if pos == len(stages)-1 {
		return errors.WithHint(
			errors.NewValidationError("stage %s is the last of plan %s", r.StageID, r.PlanID),
			"set target_stage_id",
		)
	}

	return nil
}
