// Package ingest turns schedule-change events into idempotent schedule state.
package ingest

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/model"
)

type Store interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ReplaceSchedule(ctx context.Context, sched *model.Schedule, events []model.Event, now time.Time) (bool, error)
	DeleteSchedule(ctx context.Context, id string, sourceUpdatedAt time.Time) (bool, error)
	ListUnresolved(ctx context.Context, cutoff time.Time, limit int) ([]*model.Schedule, error)
	SetScheduleMetadata(ctx context.Context, id string, planID, jobID *string) error
}

// Metadata resolves what schedule events never carry: the plan of a stage
// and the job of an application.
type Metadata interface {
	StageInfo(ctx context.Context, stageID string) (model.Stage, error)
	ApplicationJobID(ctx context.Context, applicationID string) (string, error)
}

// Event is a normalized schedule change.
type Event struct {
	ScheduleID    string
	ApplicationID string
	CandidateID   string
	StageID       string
	Status        string
	UpdatedAt     time.Time
	Events        []model.Event
}

func (e *Event) validate() (model.ScheduleStatus, error) {
	var missing []string
	if strings.TrimSpace(e.ScheduleID) == "" {
		missing = append(missing, "schedule id")
	}
	if strings.TrimSpace(e.ApplicationID) == "" {
		missing = append(missing, "application id")
	}
	if e.UpdatedAt.IsZero() {
		missing = append(missing, "updated at")
	}
	if len(missing) > 0 {
		return "", errors.NewValidationError("schedule event is missing %s", strings.Join(missing, ", "))
	}

	status, err := model.ParseScheduleStatus(e.Status)
	if err != nil {
		return "", err
	}

	if status != model.StatusCancelled && strings.TrimSpace(e.StageID) == "" {
		return "", errors.NewValidationError("schedule %s has no stage", e.ScheduleID)
	}

	for _, ev := range e.Events {
		if ev.ID == "" || ev.InterviewID == "" {
			return "", errors.NewValidationError("schedule %s has an event without id or interview", e.ScheduleID)
		}
	}

	return status, nil
}

type Result string

const (
	ResultApplied Result = "applied"
	ResultStale   Result = "stale"
	ResultDeleted Result = "deleted"
)

type Config struct {
	StaleAfter   time.Duration
	RefetchLimit int
}

type Ingestor struct {
	store    Store
	metadata Metadata
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func New(store Store, metadata Metadata, cfg Config, log *zap.Logger) *Ingestor {
	if cfg.RefetchLimit <= 0 {
		cfg.RefetchLimit = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 7 * 24 * time.Hour
	}

	return &Ingestor{
		store:    store,
		metadata: metadata,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		now:      time.Now,
	}
}

// Ingest applies a schedule change with full-replace semantics. Only
// malformed events return a validation error; anything else is transient and
// left to the caller to retry.
func (i *Ingestor) Ingest(ctx context.Context, ev *Event) (Result, error) {
	status, err := ev.validate()
	if err != nil {
		return "", err
	}

	log := logger.WithSchedule(i.logger, ev.ScheduleID, ev.ApplicationID)

	stored, err := i.store.GetSchedule(ctx, ev.ScheduleID)
	if err != nil && !errors.IsNotFound(err) {
		return "", errors.Wrap(err, "loading stored schedule")
	}

	if stored != nil && ev.UpdatedAt.Before(stored.SourceUpdatedAt) {
		log.Debug("ignoring stale schedule event",
			zap.Time("event_updated_at", ev.UpdatedAt),
			zap.Time("stored_updated_at", stored.SourceUpdatedAt),
		)
		return ResultStale, nil
	}

	if status == model.StatusCancelled {
		if _, err := i.store.DeleteSchedule(ctx, ev.ScheduleID, ev.UpdatedAt); err != nil {
			return "", errors.Wrap(err, "deleting cancelled schedule")
		}
		log.Info("schedule cancelled")
		return ResultDeleted, nil
	}

	sched := &model.Schedule{
		ID:              ev.ScheduleID,
		ApplicationID:   ev.ApplicationID,
		CandidateID:     ev.CandidateID,
		StageID:         ev.StageID,
		Status:          status,
		SourceUpdatedAt: ev.UpdatedAt,
	}
	if stored != nil {
		sched.JobID, sched.PlanID = stored.JobID, stored.PlanID
	}
	if !sched.Resolved() {
		i.resolve(ctx, sched, log)
	}

	applied, err := i.store.ReplaceSchedule(ctx, sched, ev.Events, i.now())
	if err != nil {
		return "", errors.Wrap(err, "replacing schedule")
	}
	if !applied {
		return ResultStale, nil
	}

	log.Info("schedule stored",
		zap.String("status", string(status)),
		zap.Int("events", len(ev.Events)),
		zap.Bool("resolved", sched.Resolved()),
	)

	return ResultApplied, nil
}

// resolve fills plan and job from the ATS. Failures are logged and left for
// RefetchMissing.
func (i *Ingestor) resolve(ctx context.Context, sched *model.Schedule, log *zap.Logger) {
	if sched.PlanID == nil && sched.StageID != "" {
		stage, err := i.metadata.StageInfo(ctx, sched.StageID)
		switch {
		case err != nil:
			log.Warn("resolving interview plan", zap.Error(err))
		case stage.PlanID != "":
			plan := stage.PlanID
			sched.PlanID = &plan
		}
	}

	if sched.JobID == nil {
		job, err := i.metadata.ApplicationJobID(ctx, sched.ApplicationID)
		if err != nil {
			log.Warn("resolving job", zap.Error(err))
			return
		}
		sched.JobID = &job
	}
}

// RefetchMissing retries metadata resolution for recent schedules that are
// still missing plan or job. It returns how many were fully resolved.
func (i *Ingestor) RefetchMissing(ctx context.Context) (int, error) {
	pending, err := i.store.ListUnresolved(ctx, i.now().Add(-i.cfg.StaleAfter), i.cfg.RefetchLimit)
	if err != nil {
		return 0, errors.Wrap(err, "listing unresolved schedules")
	}

	resolved := 0
	for _, sched := range pending {
		if ctx.Err() != nil {
			break
		}

		log := logger.WithSchedule(i.logger, sched.ID, sched.ApplicationID)
		i.resolve(ctx, sched, log)

		if err := i.store.SetScheduleMetadata(ctx, sched.ID, sched.PlanID, sched.JobID); err != nil {
			log.Error("storing resolved metadata", zap.Error(err))
			continue
		}
		if sched.Resolved() {
			resolved++
		}
	}

	if len(pending) > 0 {
		i.logger.Info("metadata refetch finished", zap.Int("pending", len(pending)), zap.Int("resolved", resolved))
	}

	return resolved, nil
}
