package advancement

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/model"
)

type Archiver interface {
	Archive(ctx context.Context, applicationID, reasonID, templateID string) error
}

type RejectStore interface {
	ListSchedulesByApplication(ctx context.Context, applicationID string) ([]*model.Schedule, error)
	AppendExecution(ctx context.Context, e *model.Execution) error
}

// Rejector archives an application on a recruiter's request. It is never
// invoked by the evaluation pass.
type Rejector struct {
	store    RejectStore
	ats      Archiver
	reasonID   string
	templateID string
	dryRun     bool
	logger   *zap.Logger
	now      func() time.Time
}

type RejectorOption func(*Rejector)

// WithRejectionEmail makes every archive send the candidate the email built
// from the given communication template.
func WithRejectionEmail(templateID string) RejectorOption {
	return func(r *Rejector) {
		r.templateID = strings.TrimSpace(templateID)
	}
}

func NewRejector(store RejectStore, ats Archiver, reasonID string, dryRun bool, log *zap.Logger, opts ...RejectorOption) *Rejector {
	r := &Rejector{
		store:    store,
		ats:      ats,
		reasonID: strings.TrimSpace(reasonID),
		dryRun:   dryRun,
		logger:   logger.OrNop(log),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rejectionDetail struct {
	ArchiveReasonID string `json:"archive_reason_id"`
	EmailTemplateID string `json:"email_template_id,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`
}

// Reject archives the application with the configured reason and appends a
// rejected record. The record points at the most recently changed schedule
// of the application, if any.
func (r *Rejector) Reject(ctx context.Context, applicationID string, actor model.Actor) (*model.Execution, error) {
	if r.reasonID == "" {
		return nil, errors.WithHint(
			errors.NewConfigurationError("archive reason id is not configured"),
			"set DEFAULT_ARCHIVE_REASON_ID",
		)
	}
	if strings.TrimSpace(applicationID) == "" {
		return nil, errors.NewValidationError("application id is required")
	}

	schedules, err := r.store.ListSchedulesByApplication(ctx, applicationID)
	if err != nil {
		return nil, errors.Wrap(err, "listing schedules of application")
	}

	log := logger.WithFields(r.logger,
		zap.String(logger.FieldApplicationID, applicationID),
		zap.String(logger.FieldActor, string(actor)),
	)

	status := model.ExecutionRejected
	if r.dryRun {
		status = model.ExecutionDryRun
		log.Info("dry run, archive skipped")
	} else if err := r.ats.Archive(ctx, applicationID, r.reasonID, r.templateID); err != nil {
		return nil, errors.Wrap(err, "archiving application")
	}

	detail, err := json.Marshal(rejectionDetail{
		ArchiveReasonID: r.reasonID,
		EmailTemplateID: r.templateID,
		DryRun:          r.dryRun,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	exec := &model.Execution{
		ApplicationID: applicationID,
		Status:        status,
		Detail:        detail,
		ExecutedAt:    r.now(),
		Actor:         actor,
	}
	if n := len(schedules); n > 0 {
		latest := schedules[n-1]
		exec.ScheduleID = latest.ID
		exec.FromStageID = latest.StageID
	}

	if err := r.store.AppendExecution(ctx, exec); err != nil {
		return nil, err
	}

	log.Info("application rejected", zap.String("status", string(status)))

	return exec, nil
}
