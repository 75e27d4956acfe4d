// Package feedback pulls interviewer scorecards from the ATS into the feedback store.
package feedback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/interview-advancer/internal/ashby"
	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/model"
)

type Store interface {
	ListActiveApplicationIDs(ctx context.Context, cutoff time.Time) ([]string, error)
	EventExists(ctx context.Context, eventID string) (bool, error)
	// StoreFeedback inserts new submissions and touches the application's
	// schedules in one unit. It returns the number of new submissions.
	StoreFeedback(ctx context.Context, applicationID string, batch []model.Feedback, now time.Time) (int, error)
}

type Source interface {
	FetchFeedback(ctx context.Context, applicationID string) (ashby.FeedbackSubmissions, error)
}

type Config struct {
	StaleAfter time.Duration
	Workers    int
}

// Report summarizes one synchronization pass.
type Report struct {
	Applications int
	Fetched      int
	Inserted     int
	Skipped      int
	Failed       int
}

type Synchronizer struct {
	store  Store
	source Source
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(store Store, source Source, cfg Config, log *zap.Logger) *Synchronizer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 7 * 24 * time.Hour
	}

	return &Synchronizer{
		store:  store,
		source: source,
		cfg:    cfg,
		logger: logger.OrNop(log),
		now:    time.Now,
	}
}

// Sync runs one pass over every application with an active schedule. A
// failing application is logged and counted; it never aborts the pass.
func (s *Synchronizer) Sync(ctx context.Context) (Report, error) {
	ids, err := s.store.ListActiveApplicationIDs(ctx, s.now().Add(-s.cfg.StaleAfter))
	if err != nil {
		return Report{}, errors.Wrap(err, "listing active applications")
	}

	var (
		mu     sync.Mutex
		report = Report{Applications: len(ids)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, id := range ids {
		id := id
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			r, err := s.SyncApplication(gctx, id)

			mu.Lock()
			defer mu.Unlock()

			report.Fetched += r.Fetched
			report.Inserted += r.Inserted
			report.Skipped += r.Skipped
			if err != nil {
				report.Failed++
				logger.WithFields(s.logger, zap.String(logger.FieldApplicationID, id)).
					Warn("feedback sync failed, will retry next tick", zap.Error(err))
			}

			return nil
		})
	}

	_ = g.Wait()

	s.logger.Info("feedback sync finished",
		zap.Int("applications", report.Applications),
		zap.Int("fetched", report.Fetched),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)

	return report, nil
}

// SyncApplication fetches and stores the feedback of one application.
// Submissions for events that are not stored, or without a submitter, are
// skipped. Duplicates are silently ignored. A failed store leaves nothing
// behind, so the next pass inserts and touches again.
func (s *Synchronizer) SyncApplication(ctx context.Context, applicationID string) (Report, error) {
	log := logger.WithFields(s.logger, zap.String(logger.FieldApplicationID, applicationID))

	submissions, err := s.source.FetchFeedback(ctx, applicationID)
	if err != nil {
		return Report{}, errors.Wrap(err, "fetching feedback")
	}

	report := Report{Applications: 1, Fetched: len(submissions)}
	batch := make([]model.Feedback, 0, len(submissions))

	for _, sub := range submissions {
		if sub == nil || sub.InterviewEventID == "" || sub.InterviewerID() == "" {
			report.Skipped++
			continue
		}

		known, err := s.store.EventExists(ctx, sub.InterviewEventID)
		if err != nil {
			return report, err
		}
		if !known {
			log.Debug("skipping feedback for unknown event",
				zap.String("feedback_id", sub.ID),
				zap.String("event_id", sub.InterviewEventID),
			)
			report.Skipped++
			continue
		}

		fb, err := sub.ToModel()
		if err != nil {
			log.Warn("skipping malformed feedback", zap.String("feedback_id", sub.ID), zap.Error(err))
			report.Skipped++
			continue
		}
		if fb.ApplicationID == "" {
			fb.ApplicationID = applicationID
		}

		batch = append(batch, fb)
	}

	if len(batch) == 0 {
		return report, nil
	}

	inserted, err := s.store.StoreFeedback(ctx, applicationID, batch, s.now())
	if err != nil {
		return report, err
	}
	report.Inserted = inserted

	if inserted > 0 {
		log.Info("new feedback stored", zap.Int("inserted", inserted))
	}

	return report, nil
}
