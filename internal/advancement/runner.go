package advancement

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/model"
)

// Report counts what a batch pass did.
type Report struct {
	Selected    int
	ByState     map[State]int
	Skipped     int
	Errors      int
	Interrupted bool
}

// RunPass evaluates every schedule that changed since its last evaluation and
// is not stale. Each schedule runs to completion even when ctx is cancelled;
// cancellation only stops new schedules from starting.
func (o *Orchestrator) RunPass(ctx context.Context) (Report, error) {
	cutoff := o.now().Add(-o.cfg.StaleAfter)

	schedules, err := o.store.ListEvaluable(ctx, cutoff)
	if err != nil {
		return Report{}, errors.Wrap(err, "listing evaluable schedules")
	}

	var (
		mu     sync.Mutex
		report = Report{Selected: len(schedules), ByState: map[State]int{}}
		g      errgroup.Group
	)
	g.SetLimit(o.cfg.Workers)

	itemCtx := context.WithoutCancel(ctx)

	for _, sched := range schedules {
		sched := sched
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		g.Go(func() error {
			out, err := o.evaluate(itemCtx, sched.ID, model.ActorSystem, true)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err != nil:
				report.Errors++
				logger.WithSchedule(o.logger, sched.ID, sched.ApplicationID).
					Error("evaluation failed, will retry next tick", zap.Error(err))
			case out.Skipped:
				report.Skipped++
			default:
				report.ByState[out.State]++
			}

			return nil
		})
	}

	_ = g.Wait()

	if report.Selected > 0 {
		o.logger.Info("evaluation pass finished",
			zap.Int("selected", report.Selected),
			zap.Int("advanced", report.ByState[StateEligible]),
			zap.Int("rejected", report.ByState[StateRequirementsFailed]),
			zap.Int("waiting", report.ByState[StateWaitingFeedback]+report.ByState[StateWithinWaitWindow]),
			zap.Int("not_ready", report.ByState[StateNotReady]),
			zap.Int("skipped", report.Skipped),
			zap.Int("errors", report.Errors),
			zap.Bool("interrupted", report.Interrupted),
		)
	}

	return report, nil
}
