package cmd

import (
	"context"
	"log"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/advancement"
	"github.com/spigell/interview-advancer/internal/ashby"
	"github.com/spigell/interview-advancer/internal/config"
	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/feedback"
	"github.com/spigell/interview-advancer/internal/ingest"
	"github.com/spigell/interview-advancer/internal/lock"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/notify"
	"github.com/spigell/interview-advancer/internal/rules"
	"github.com/spigell/interview-advancer/internal/storage"
)

// service holds every wired component. Commands build only what they use.
type service struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Store
	ats    *ashby.Client

	ingestor     *ingest.Ingestor
	synchronizer *feedback.Synchronizer
	orchestrator *advancement.Orchestrator
	rejector     *advancement.Rejector

	closers []func() error
}

// mustLogger builds the logger from flags before the config is decoded, so
// that config errors are logged the same way as everything else.
func mustLogger() *zap.Logger {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}

// fatal logs err with its hints and exits.
func fatal(l *zap.Logger, msg string, err error) {
	fields := []zap.Field{zap.Error(err)}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		fields = append(fields, zap.Strings("hint", hints))
	}
	l.Fatal(msg, fields...)
}

// openStore connects to the database only.
func openStore(ctx context.Context, l *zap.Logger) (*service, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}

	svc := &service{cfg: cfg, logger: l}

	dsn, err := cfg.DatabaseURL()
	if err != nil {
		return nil, err
	}

	svc.store, err = storage.Open(ctx, dsn, cfg.Database.MaxOpenConns, l.Named("storage"))
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, svc.store.Close)

	if cfg.Database.MigrateOnStart {
		m, err := storage.NewMigrator(svc.store.DB(), l.Named("migrate"))
		if err != nil {
			svc.close()
			return nil, err
		}
		if err := m.Up(ctx); err != nil {
			svc.close()
			return nil, err
		}
	}

	return svc, nil
}

// newService wires the full engine on top of the store.
func newService(ctx context.Context, l *zap.Logger) (*service, error) {
	svc, err := openStore(ctx, l)
	if err != nil {
		return nil, err
	}

	if err := svc.wire(ctx); err != nil {
		svc.close()
		return nil, err
	}

	return svc, nil
}

// connectATS builds the ATS client from the configured key.
func (s *service) connectATS() error {
	cfg := s.cfg

	token, err := cfg.ATSKey()
	if err != nil {
		return errors.WithHint(err, "set ASHBY_API_KEY or ashby.api-key-file")
	}

	s.ats = ashby.New(s.logger.Named("ashby"), token,
		ashby.WithAPIURL(cfg.Ashby.APIURL),
		ashby.WithTimeout(cfg.Ashby.Timeout),
		ashby.WithRateLimit(cfg.Ashby.RateLimit),
	)
	return nil
}

func (s *service) wire(ctx context.Context) error {
	cfg := s.cfg

	if err := s.connectATS(); err != nil {
		return err
	}

	s.ingestor = ingest.New(s.store, s.ats, ingest.Config{
		StaleAfter:   cfg.Evaluation.StaleAfter,
		RefetchLimit: cfg.Metadata.RefetchBatch,
	}, s.logger.Named("ingest"))

	s.synchronizer = feedback.New(s.store, s.ats, feedback.Config{
		StaleAfter: cfg.Evaluation.StaleAfter,
		Workers:    cfg.Feedback.Workers,
	}, s.logger.Named("feedback"))

	locker, err := s.locker(ctx)
	if err != nil {
		return err
	}

	notifier, err := s.notifier()
	if err != nil {
		return err
	}

	s.orchestrator = advancement.New(
		s.store,
		rules.NewMatcher(s.store, s.logger.Named("rules")),
		s.ats,
		notifier,
		locker,
		advancement.Config{
			DryRun:      cfg.DryRun,
			MinWait:     cfg.Evaluation.MinWait,
			StaleAfter:  cfg.Evaluation.StaleAfter,
			Workers:     cfg.Evaluation.Workers,
			MaxAttempts: cfg.Evaluation.MaxAttempts,
			BackoffBase: cfg.Evaluation.BackoffBase,
		},
		s.logger.Named("advancement"),
	)

	s.rejector = advancement.NewRejector(s.store, s.ats, cfg.Ashby.ArchiveReasonID, cfg.DryRun, s.logger.Named("reject"),
		advancement.WithRejectionEmail(cfg.Ashby.RejectionTemplateID),
	)

	if cfg.DryRun {
		s.logger.Warn("dry run enabled, no stage changes or archives will be sent to the ATS")
	}

	return nil
}

func (s *service) locker(ctx context.Context) (lock.Locker, error) {
	if s.cfg.Lock.Backend != config.LockRedis {
		return lock.NewLocal(), nil
	}

	client, err := lock.DialRedis(ctx, s.cfg.Lock.RedisURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, client.Close)

	s.logger.Info("using redis locks", zap.Duration("ttl", s.cfg.Lock.TTL))

	return lock.NewRedis(client, s.cfg.Lock.TTL, s.logger.Named("lock")), nil
}

func (s *service) notifier() (advancement.Notifier, error) {
	token, err := s.cfg.SlackToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		s.logger.Info("slack token not configured, rejection notices go to the log")
		return notify.NewLog(s.logger.Named("notify")), nil
	}
	return notify.NewSlack(token, s.cfg.Slack.Channel, s.logger.Named("notify")), nil
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("closing resource", zap.Error(err))
		}
	}
	s.closers = nil
}
