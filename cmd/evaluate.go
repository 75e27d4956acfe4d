package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/advancement"
	"github.com/spigell/interview-advancer/internal/model"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one schedule, one application, or run a full evaluation pass",
	Run: func(cmd *cobra.Command, _ []string) {
		evaluate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringP("schedule", "s", "", "evaluate a single schedule id, ignoring its watermark")
	evaluateCmd.Flags().StringP("application", "a", "", "evaluate every schedule of an application id")
	evaluateCmd.MarkFlagsMutuallyExclusive("schedule", "application")
}

func evaluate(cmd *cobra.Command) {
	ctx := context.Background()

	logger := mustLogger()
	defer logger.Sync()

	svc, err := newService(ctx, logger)
	if err != nil {
		fatal(logger, "wiring the service", err)
	}
	defer svc.close()

	scheduleID, _ := cmd.Flags().GetString("schedule")
	applicationID, _ := cmd.Flags().GetString("application")

	switch {
	case scheduleID != "":
		out, err := svc.orchestrator.EvaluateSchedule(ctx, scheduleID, model.ActorAdmin)
		if err != nil {
			fatal(logger, "evaluating schedule", err)
		}
		logOutcome(logger, out)
	case applicationID != "":
		outcomes, err := svc.orchestrator.EvaluateApplication(ctx, applicationID, model.ActorAdmin)
		for _, out := range outcomes {
			logOutcome(logger, out)
		}
		if err != nil {
			fatal(logger, "evaluating application", err)
		}
	default:
		report, err := svc.orchestrator.RunPass(ctx)
		if err != nil {
			fatal(logger, "running evaluation pass", err)
		}
		if report.Selected == 0 {
			logger.Info("exiting", zap.String("reason", "nothing to evaluate"))
		}
	}
}

func logOutcome(logger *zap.Logger, out *advancement.Outcome) {
	fields := []zap.Field{
		zap.String("schedule_id", out.ScheduleID),
		zap.String("state", string(out.State)),
	}
	if out.Reason != "" {
		fields = append(fields, zap.String("reason", out.Reason))
	}
	if out.Skipped {
		fields = append(fields, zap.Bool("skipped", true))
	}
	if out.Execution != nil {
		fields = append(fields,
			zap.String("execution_id", out.Execution.ID),
			zap.String("status", string(out.Execution.Status)),
		)
	}
	logger.Info("evaluated", fields...)
}
