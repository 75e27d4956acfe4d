package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/api"
	"github.com/spigell/interview-advancer/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive webhooks, sync feedback and run periodic evaluation passes",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	viper.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := mustLogger()
	defer logger.Sync()

	logger.Info("starting the interview-advancer", zap.String("version", version))

	svc, err := newService(ctx, logger)
	if err != nil {
		fatal(logger, "wiring the service", err)
	}
	defer svc.close()

	webhookSecret, err := svc.cfg.WebhookSecret()
	if err != nil {
		fatal(logger, "loading webhook secret", err)
	}
	if webhookSecret == "" {
		logger.Warn("webhook secret not configured, signatures are not verified")
	}

	adminToken, err := svc.cfg.AdminToken()
	if err != nil {
		fatal(logger, "loading admin token", err)
	}

	server := api.New(api.Deps{
		Store:     svc.store,
		Ingestor:  svc.ingestor,
		Evaluator: svc.orchestrator,
		Rejector:  svc.rejector,
		Catalog:   svc.ats,
	}, api.Options{
		WebhookSecret: webhookSecret,
		AdminToken:    adminToken,
		StaleAfter:    svc.cfg.Evaluation.StaleAfter,
	}, logger.Named("api"))

	ticker := scheduler.New(logger.Named("scheduler"),
		scheduler.Job{
			Name:       "evaluation",
			Interval:   svc.cfg.Evaluation.Interval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				_, err := svc.orchestrator.RunPass(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:       "feedback-sync",
			Interval:   svc.cfg.Feedback.SyncInterval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				_, err := svc.synchronizer.Sync(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:     "metadata-refetch",
			Interval: svc.cfg.Metadata.RefetchInterval,
			Run: func(ctx context.Context) error {
				_, err := svc.ingestor.RefetchMissing(ctx)
				return err
			},
		},
	)

	if err := ticker.Start(ctx); err != nil {
		fatal(logger, "starting the scheduler", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(svc.cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "signal received"))
	case err := <-errCh:
		logger.Error("http server stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutting down http server", zap.Error(err))
	}

	// In-flight evaluations finish before Stop returns.
	ticker.Stop()

	logger.Info("stopped")
}
