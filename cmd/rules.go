package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/model"
	"github.com/spigell/interview-advancer/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect, create and deactivate advancement rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List advancement rules",
	Run: func(cmd *cobra.Command, _ []string) {
		listRules(cmd)
	},
}

var rulesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create rules from a YAML file",
	Run: func(cmd *cobra.Command, _ []string) {
		applyRules(cmd)
	},
}

var rulesDeactivateCmd = &cobra.Command{
	Use:   "deactivate [rule-id]",
	Short: "Deactivate a rule; without an id, pick one interactively",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		deactivateRule(id)
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesApplyCmd, rulesDeactivateCmd)

	rulesListCmd.Flags().BoolP("all", "a", false, "include inactive rules")

	rulesApplyCmd.Flags().StringP("file", "f", "", "YAML file with a top-level rules list")
	rulesApplyCmd.Flags().Bool("check", false, "validate the file without writing anything")
	rulesApplyCmd.Flags().Bool("verify", false, "check stages against the ATS interview plans")
	rulesApplyCmd.MarkFlagRequired("file")
}

func listRules(cmd *cobra.Command) {
	ctx := context.Background()

	logger := mustLogger()
	defer logger.Sync()

	svc, err := openStore(ctx, logger)
	if err != nil {
		fatal(logger, "opening the store", err)
	}
	defer svc.close()

	all, _ := cmd.Flags().GetBool("all")
	list, err := svc.store.ListRules(ctx, all)
	if err != nil {
		fatal(logger, "listing rules", err)
	}

	table := pterm.TableData{{"ID", "JOB", "PLAN", "STAGE", "TARGET", "ACTIVE", "REQUIREMENTS"}}
	for _, r := range list {
		table = append(table, []string{
			r.ID, orAny(r.JobID), r.PlanID, r.StageID, orNext(r.TargetStageID),
			fmt.Sprintf("%t", r.Active), describeRequirements(r.Requirements),
		})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(table).Render(); err != nil {
		logger.Fatal("rendering rules", zap.Error(err))
	}
}

// applyRules creates every rule of a YAML file. All rules are validated
// before any is written; with --verify their stages are also looked up in
// the ATS.
func applyRules(cmd *cobra.Command) {
	ctx := context.Background()

	logger := mustLogger()
	defer logger.Sync()

	path, _ := cmd.Flags().GetString("file")
	f, err := os.Open(path)
	if err != nil {
		logger.Fatal("opening rule file", zap.Error(err))
	}
	defer f.Close()

	defs, err := rules.ParseDefinitions(f)
	if err != nil {
		fatal(logger, "parsing rule file", err)
	}

	svc, err := openStore(ctx, logger)
	if err != nil {
		fatal(logger, "opening the store", err)
	}
	defer svc.close()

	active, err := svc.store.ListRules(ctx, false)
	if err != nil {
		fatal(logger, "listing rules", err)
	}

	verify, _ := cmd.Flags().GetBool("verify")
	if verify {
		if err := svc.connectATS(); err != nil {
			fatal(logger, "connecting to the ATS", err)
		}
	}

	parsed := make([]*model.Rule, 0, len(defs))
	for i := range defs {
		r, err := defs[i].ToModel()
		if err != nil {
			fatal(logger, fmt.Sprintf("rule %d is invalid", i), err)
		}
		if verify {
			if err := rules.VerifyStages(ctx, svc.ats, r); err != nil {
				fatal(logger, fmt.Sprintf("rule %d does not fit its plan", i), err)
			}
		}
		if dup := rules.ActiveDuplicate(active, r); dup != nil {
			logger.Fatal("an active rule already governs this stage",
				zap.String("key", r.Key()),
				zap.String("rule_id", dup.ID),
				zap.String("hint", "deactivate it first"),
			)
		}
		active = append(active, *r)
		parsed = append(parsed, r)
	}

	check, _ := cmd.Flags().GetBool("check")
	for _, r := range parsed {
		if check {
			pterm.Info.Printfln("would create %s", r.Key())
			continue
		}
		if err := svc.store.CreateRule(ctx, r, time.Now()); err != nil {
			fatal(logger, "creating rule", err)
		}
		pterm.Success.Printfln("created %s as %s", r.Key(), r.ID)
	}
}

func deactivateRule(id string) {
	ctx := context.Background()

	logger := mustLogger()
	defer logger.Sync()

	svc, err := openStore(ctx, logger)
	if err != nil {
		fatal(logger, "opening the store", err)
	}
	defer svc.close()

	if id == "" {
		active, err := svc.store.ListRules(ctx, false)
		if err != nil {
			fatal(logger, "listing rules", err)
		}
		if len(active) == 0 {
			logger.Info("exiting", zap.String("reason", "no active rules"))
			return
		}

		items := make([]string, 0, len(active))
		for _, r := range active {
			items = append(items, r.ID+" "+r.Key())
		}

		prompt := promptui.Select{Label: "Deactivate which rule?", Items: items, Size: 10}
		_, selected, err := prompt.Run()
		if err != nil {
			logger.Fatal("prompt failed", zap.Error(err))
		}
		id = strings.Split(selected, " ")[0]
	}

	if err := svc.store.DeactivateRule(ctx, id, time.Now()); err != nil {
		fatal(logger, "deactivating rule", err)
	}

	logger.Info("rule deactivated", zap.String("rule_id", id))
}

func orAny(s *string) string {
	if s == nil {
		return "*"
	}
	return *s
}

func orNext(s *string) string {
	if s == nil {
		return "next"
	}
	return *s
}

func describeRequirements(reqs []model.Requirement) string {
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		part := fmt.Sprintf("%s.%s %s %s", r.InterviewID, r.FieldPath, r.Operator, r.Threshold)
		if !r.Required {
			part += " (optional)"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
