package advancement

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

// actionFunc performs one action of an eligible decision. It returns the
// detail to record and, on failure, a failure reason. An error aborts the
// decision without a record.
type actionFunc func(o *Orchestrator, ctx context.Context, d *decision) (ActionDetail, string, error)

// actionHandlers must cover every model.ActionKind.
var actionHandlers = map[model.ActionKind]actionFunc{
	model.ActionAdvanceStage: advanceStage,
}

// dispatch runs the rule's actions in order and stops at the first failure.
func (o *Orchestrator) dispatch(ctx context.Context, d *decision) (string, error) {
	for _, action := range d.rule.OrderedActions() {
		handler, ok := actionHandlers[action.Kind]
		if !ok {
			d.actions = append(d.actions, ActionDetail{Kind: action.Kind, Skipped: true})
			return fmt.Sprintf("%s: %q", ReasonUnsupportedAction, action.Kind), nil
		}

		detail, reason, err := handler(o, ctx, d)
		if err != nil {
			return "", err
		}
		d.actions = append(d.actions, detail)
		if reason != "" {
			return reason, nil
		}
	}
	return "", nil
}

func advanceStage(o *Orchestrator, ctx context.Context, d *decision) (ActionDetail, string, error) {
	detail := ActionDetail{Kind: model.ActionAdvanceStage}

	if o.cfg.DryRun {
		detail.Skipped = true
		d.log.Info("dry run, stage change skipped", zap.String("to_stage_id", d.target))
		return detail, "", nil
	}

	attempts, err := o.withRetry(ctx, d.log, "stage change", func(ctx context.Context) error {
		return o.ats.ChangeStage(ctx, d.sched.ApplicationID, d.target)
	})
	detail.Attempts = attempts
	if err != nil {
		if errors.Is(err, errInterrupted) || ctx.Err() != nil {
			return detail, "", errors.Wrap(err, "stage change")
		}
		detail.Error = err.Error()
		return detail, fmt.Sprintf("%s after %d attempt(s): %v", ReasonStageAdvanceFailed, attempts, err), nil
	}

	return detail, "", nil
}
