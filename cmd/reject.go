package cmd

import (
	"context"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/model"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var rejectCmd = &cobra.Command{
	Use:   "reject <application-id>",
	Short: "Archive an application with the default archive reason",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reject(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(rejectCmd)

	rejectCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation")
}

func reject(cmd *cobra.Command, applicationID string) {
	ctx := context.Background()

	logger := mustLogger()
	defer logger.Sync()

	if approved, _ := cmd.Flags().GetBool("auto-approve"); !approved {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Archive application %s?", applicationID),
			Items: []string{PromptNo, PromptYes},
		}
		_, answer, err := prompt.Run()
		if err != nil {
			logger.Fatal("prompt failed", zap.Error(err))
		}
		if answer != PromptYes {
			logger.Info("exiting", zap.String("reason", "not confirmed"))
			return
		}
	}

	svc, err := newService(ctx, logger)
	if err != nil {
		fatal(logger, "wiring the service", err)
	}
	defer svc.close()

	exec, err := svc.rejector.Reject(ctx, applicationID, model.ActorRecruiterManual)
	if err != nil {
		fatal(logger, "rejecting application", err)
	}

	logger.Info("application rejected",
		zap.String("application_id", applicationID),
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)),
	)
}
