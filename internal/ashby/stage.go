package ashby

import (
	"context"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

type InterviewStage struct {
	ID                   string `json:"id" mapstructure:"id"`
	Title                string `json:"title" mapstructure:"title"`
	InterviewPlanID      string `json:"interviewPlanId" mapstructure:"interviewPlanId"`
	OrderInInterviewPlan int    `json:"orderInInterviewPlan" mapstructure:"orderInInterviewPlan"`
}

func (s *InterviewStage) ToModel() model.Stage {
	return model.Stage{ID: s.ID, Title: s.Title, PlanID: s.InterviewPlanID, Order: s.OrderInInterviewPlan}
}

// StageInfo returns a single stage, which carries the plan it belongs to.
func (c *Client) StageInfo(ctx context.Context, stageID string) (model.Stage, error) {
	var stage InterviewStage
	if err := c.postResult(ctx, "interviewStage.info", map[string]any{"interviewStageId": stageID}, &stage); err != nil {
		return model.Stage{}, err
	}

	if stage.ID == "" {
		return model.Stage{}, errors.NewNotFoundError("interview stage %s", stageID)
	}

	return stage.ToModel(), nil
}

// StageOrder returns the stages of a plan in ascending plan order.
func (c *Client) StageOrder(ctx context.Context, planID string) ([]model.Stage, error) {
	items, err := c.ListItems(ctx, "interviewStage.list", map[string]any{"interviewPlanId": planID})
	if err != nil {
		return nil, err
	}

	var raw []InterviewStage
	if err := mapstructure.Decode(items, &raw); err != nil {
		return nil, errors.NewExternalError(err, false, "decoding interview stages")
	}

	stages := make([]model.Stage, 0, len(raw))
	for i := range raw {
		stages = append(stages, raw[i].ToModel())
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })

	return stages, nil
}
