package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Manage the database schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	Run: func(_ *cobra.Command, args []string) {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		migrate(direction)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrate(direction string) {
	ctx := context.Background()

	logger := mustLogger()
	defer logger.Sync()

	cfg, err := getConfig()
	if err != nil {
		fatal(logger, "getting a config", err)
	}

	dsn, err := cfg.DatabaseURL()
	if err != nil {
		fatal(logger, "getting a config", err)
	}

	store, err := storage.Open(ctx, dsn, 1, logger.Named("storage"))
	if err != nil {
		fatal(logger, "opening the store", err)
	}
	defer store.Close()

	m, err := storage.NewMigrator(store.DB(), logger.Named("migrate"))
	if err != nil {
		fatal(logger, "preparing migrations", err)
	}

	switch direction {
	case "up":
		err = m.Up(ctx)
	case "down":
		err = m.Down(ctx)
	case "status":
		var statuses []storage.MigrationStatus
		statuses, err = m.Status(ctx)

		table := pterm.TableData{{"VERSION", "STATE", "FILE"}}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			table = append(table, []string{fmt.Sprint(s.Version), state, s.File})
		}
		if len(statuses) > 0 {
			_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		}
	}
	if err != nil {
		fatal(logger, "running migrations", err)
	}

	logger.Info("migrations done", zap.String("direction", direction))
}
