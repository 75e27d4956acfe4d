package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/feedback"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull interviewer feedback from the ATS and refetch missing schedule metadata",
	Run: func(cmd *cobra.Command, _ []string) {
		syncFeedback(cmd)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringP("application", "a", "", "sync a single application id")
	syncCmd.Flags().Bool("skip-metadata", false, "do not refetch plan/job metadata for unresolved schedules")
}

func syncFeedback(cmd *cobra.Command) {
	ctx := context.Background()

	logger := mustLogger()
	defer logger.Sync()

	svc, err := newService(ctx, logger)
	if err != nil {
		fatal(logger, "wiring the service", err)
	}
	defer svc.close()

	if skip, _ := cmd.Flags().GetBool("skip-metadata"); !skip {
		resolved, err := svc.ingestor.RefetchMissing(ctx)
		if err != nil {
			fatal(logger, "refetching metadata", err)
		}
		logger.Info("metadata refetched", zap.Int("resolved", resolved))
	}

	var report feedback.Report
	if appID, _ := cmd.Flags().GetString("application"); appID != "" {
		report, err = svc.synchronizer.SyncApplication(ctx, appID)
	} else {
		report, err = svc.synchronizer.Sync(ctx)
	}
	if err != nil {
		fatal(logger, "syncing feedback", err)
	}

	logger.Info("feedback synced",
		zap.Int("applications", report.Applications),
		zap.Int("fetched", report.Fetched),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
}
