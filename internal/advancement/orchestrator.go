// Package advancement decides, per schedule, whether a candidate advances,
// is rejected or keeps waiting, and records every terminal decision.
package advancement

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/lock"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/model"
	"github.com/spigell/interview-advancer/internal/rules"
	"github.com/spigell/interview-advancer/internal/scoring"
	"github.com/spigell/interview-advancer/internal/utils"
)

type Store interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ListEvaluable(ctx context.Context, cutoff time.Time) ([]*model.Schedule, error)
	ListSchedulesByApplication(ctx context.Context, applicationID string) ([]*model.Schedule, error)
	ListEvents(ctx context.Context, scheduleID string) ([]model.Event, error)
	ListFeedbackForSchedule(ctx context.Context, scheduleID string) ([]model.Feedback, error)
	CommitDecision(ctx context.Context, d *model.Decision) error
}

type RuleMatcher interface {
	Match(ctx context.Context, jobID *string, planID, stageID string) (rules.Match, error)
}

// ATS is the part of the tracking system the orchestrator drives.
type ATS interface {
	StageOrder(ctx context.Context, planID string) ([]model.Stage, error)
	ChangeStage(ctx context.Context, applicationID, stageID string) error
}

// Notifier delivers the rejection notice. Failures are logged, never retried.
type Notifier interface {
	NotifyRejection(ctx context.Context, applicationID string, detail json.RawMessage) error
}

type State string

const (
	StateNotReady           State = "not_ready"
	StateWaitingFeedback    State = "waiting_feedback"
	StateWithinWaitWindow   State = "within_wait_window"
	StateRequirementsFailed State = "requirements_failed"
	StateEligible           State = "eligible"
)

// Terminal reports whether the state ends with an audit record and a
// watermark advance.
func (s State) Terminal() bool {
	return s == StateRequirementsFailed || s == StateEligible
}

const (
	ReasonStatusNotEvaluable = "status_not_evaluable"
	ReasonMetadataUnresolved = "metadata_unresolved"
	ReasonNoRule             = "no_rule"
	ReasonNoRequirements     = "rule_without_requirements"
	ReasonMissingFeedback    = "missing_feedback"
	ReasonWaitWindow         = "wait_window"
	ReasonNoNextStage        = "no_next_stage"
	ReasonStageNotInPlan     = "stage_not_in_plan"
	ReasonStageOrderFailed   = "stage_order_failed"
	ReasonStageAdvanceFailed = "stage_advance_failed"
	ReasonUnsupportedAction  = "unsupported_action"
	ReasonLocked             = "locked"
	ReasonUpToDate           = "up_to_date"
)

// errInterrupted marks action errors caused by the caller giving up. Such a
// decision is not committed; the next evaluation starts over.
var errInterrupted = errors.New("interrupted")

type Config struct {
	DryRun      bool
	MinWait     time.Duration
	StaleAfter  time.Duration
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
}

func (c *Config) defaults() {
	if c.MinWait < 0 {
		c.MinWait = 0
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 7 * 24 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
}

// Outcome is what one evaluation of one schedule ended with. Execution is set
// only for terminal states.
type Outcome struct {
	ScheduleID string
	State      State
	Reason     string
	Skipped    bool
	Execution  *model.Execution
}

// Detail is the audit payload of an execution record.
type Detail struct {
	State         State           `json:"state"`
	RuleID        string          `json:"rule_id,omitempty"`
	TargetStageID string          `json:"target_stage_id,omitempty"`
	Evaluation    *scoring.Result `json:"evaluation,omitempty"`
	Actions       []ActionDetail  `json:"actions,omitempty"`
}

type ActionDetail struct {
	Kind     model.ActionKind `json:"kind"`
	Attempts int              `json:"attempts"`
	Skipped  bool             `json:"skipped,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type Orchestrator struct {
	store    Store
	matcher  RuleMatcher
	ats      ATS
	notifier Notifier
	locker   lock.Locker
	cfg      Config
	logger   *zap.Logger

	now  func() time.Time
	wait func(context.Context, time.Duration) error
}

func New(store Store, matcher RuleMatcher, ats ATS, notifier Notifier, locker lock.Locker, cfg Config, log *zap.Logger) *Orchestrator {
	cfg.defaults()
	if locker == nil {
		locker = lock.NewLocal()
	}

	return &Orchestrator{
		store:    store,
		matcher:  matcher,
		ats:      ats,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		now:      time.Now,
		wait:     utils.WaitFor,
	}
}

// EvaluateSchedule runs the state machine for one schedule right away,
// regardless of its watermark.
func (o *Orchestrator) EvaluateSchedule(ctx context.Context, scheduleID string, actor model.Actor) (*Outcome, error) {
	return o.evaluate(ctx, scheduleID, actor, false)
}

// EvaluateApplication evaluates every schedule of an application. A failing
// schedule does not stop the others; its error is returned joined.
func (o *Orchestrator) EvaluateApplication(ctx context.Context, applicationID string, actor model.Actor) ([]*Outcome, error) {
	schedules, err := o.store.ListSchedulesByApplication(ctx, applicationID)
	if err != nil {
		return nil, errors.Wrap(err, "listing schedules of application")
	}
	if len(schedules) == 0 {
		return nil, errors.NewNotFoundError("no schedules for application %s", applicationID)
	}

	var (
		outcomes []*Outcome
		errs     []error
	)
	for _, sched := range schedules {
		out, err := o.evaluate(ctx, sched.ID, actor, false)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "schedule %s", sched.ID))
			continue
		}
		outcomes = append(outcomes, out)
	}

	return outcomes, errors.Join(errs...)
}

// evaluate serializes work on one schedule through the locker. When
// respectWatermark is set, schedules evaluated since their last change are
// skipped.
func (o *Orchestrator) evaluate(ctx context.Context, scheduleID string, actor model.Actor, respectWatermark bool) (*Outcome, error) {
	release, ok, err := o.locker.TryAcquire(ctx, "schedule:"+scheduleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Outcome{ScheduleID: scheduleID, Skipped: true, Reason: ReasonLocked}, nil
	}
	defer release()

	// Re-read under the lock: another worker may have committed meanwhile.
	sched, err := o.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if respectWatermark && !sched.NeedsEvaluation() {
		return &Outcome{ScheduleID: scheduleID, Skipped: true, Reason: ReasonUpToDate}, nil
	}

	return o.run(ctx, sched, actor)
}

// run is the state machine proper. Errors returned from here abort only this
// schedule; the watermark stays where it was.
func (o *Orchestrator) run(ctx context.Context, sched *model.Schedule, actor model.Actor) (*Outcome, error) {
	startedAt := o.now()
	log := logger.WithFields(o.logger,
		append(logger.ScheduleFields(sched.ID, sched.ApplicationID), zap.String(logger.FieldActor, string(actor)))...,
	)

	blocked := func(state State, reason string) (*Outcome, error) {
		log.Debug("evaluation blocked", zap.String("state", string(state)), zap.String("reason", reason))
		return &Outcome{ScheduleID: sched.ID, State: state, Reason: reason}, nil
	}

	if !sched.Status.Evaluable() {
		return blocked(StateNotReady, ReasonStatusNotEvaluable)
	}
	if !sched.Resolved() {
		return blocked(StateNotReady, ReasonMetadataUnresolved)
	}

	match, err := o.matcher.Match(ctx, sched.JobID, *sched.PlanID, sched.StageID)
	if err != nil {
		return nil, err
	}
	if !match.Found() {
		return blocked(StateNotReady, ReasonNoRule)
	}

	rule := match.Rule
	log = logger.WithFields(log, logger.RuleFields(rule.ID, sched.StageID)...)

	if len(rule.Requirements) == 0 {
		log.Warn("rule has no requirements", zap.Error(errors.NewConfigurationError("rule %s has no requirements", rule.ID)))
		return blocked(StateNotReady, ReasonNoRequirements)
	}

	events, err := o.store.ListEvents(ctx, sched.ID)
	if err != nil {
		return nil, err
	}
	feedback, err := o.store.ListFeedbackForSchedule(ctx, sched.ID)
	if err != nil {
		return nil, err
	}

	result := scoring.Evaluate(rule, events, feedback)

	if result.Outcome == scoring.OutcomeMissingFeedback {
		return blocked(StateWaitingFeedback, ReasonMissingFeedback)
	}

	if result.LatestSubmittedAt != nil && startedAt.Sub(*result.LatestSubmittedAt) < o.cfg.MinWait {
		return blocked(StateWithinWaitWindow, ReasonWaitWindow)
	}

	d := &decision{
		sched:     sched,
		rule:      rule,
		result:    result,
		actor:     actor,
		startedAt: startedAt,
		log:       log,
	}

	if !result.Passed {
		return o.reject(ctx, d)
	}

	return o.advance(ctx, d)
}

// decision carries one terminal evaluation through action dispatch and commit.
type decision struct {
	sched     *model.Schedule
	rule      *model.Rule
	result    *scoring.Result
	actor     model.Actor
	startedAt time.Time
	log       *zap.Logger

	target  string
	actions []ActionDetail
}

func (o *Orchestrator) reject(ctx context.Context, d *decision) (*Outcome, error) {
	detail := o.detail(d, StateRequirementsFailed)

	exec, err := o.commit(ctx, d, model.ExecutionRejected, "", detail)
	if err != nil {
		return nil, err
	}

	d.log.Info("requirements failed, candidate rejected")

	if o.notifier != nil {
		if err := o.notifier.NotifyRejection(ctx, d.sched.ApplicationID, detail); err != nil {
			d.log.Warn("sending rejection notification", zap.Error(err))
		}
	}

	return &Outcome{ScheduleID: d.sched.ID, State: StateRequirementsFailed, Execution: exec}, nil
}

func (o *Orchestrator) advance(ctx context.Context, d *decision) (*Outcome, error) {
	target, reason, err := o.resolveTarget(ctx, d)
	if err != nil {
		return nil, err
	}

	status := model.ExecutionSuccess
	if o.cfg.DryRun {
		status = model.ExecutionDryRun
	}

	if reason == "" {
		d.target = target
		if reason, err = o.dispatch(ctx, d); err != nil {
			return nil, err
		}
	}
	if reason != "" {
		status = model.ExecutionFailed
	}

	exec, err := o.commit(ctx, d, status, reason, o.detail(d, StateEligible))
	if err != nil {
		return nil, err
	}

	if status == model.ExecutionFailed {
		d.log.Error("advancement failed", zap.String("reason", utils.TruncateForLog(reason, 300)))
	} else {
		d.log.Info("candidate advanced", zap.String("to_stage_id", d.target), zap.String("status", string(status)))
	}

	return &Outcome{ScheduleID: d.sched.ID, State: StateEligible, Reason: reason, Execution: exec}, nil
}

// resolveTarget returns the explicit target of the rule or the stage that
// follows the current one in the plan. A non-empty reason is a terminal
// failure; an error means the schedule should be retried next tick.
func (o *Orchestrator) resolveTarget(ctx context.Context, d *decision) (string, string, error) {
	if d.rule.TargetStageID != nil && *d.rule.TargetStageID != "" {
		return *d.rule.TargetStageID, "", nil
	}

	stages, err := o.ats.StageOrder(ctx, *d.sched.PlanID)
	if err != nil {
		if errors.IsRetryable(err) {
			return "", "", errors.Wrap(err, "fetching stage order")
		}
		return "", ReasonStageOrderFailed + ": " + err.Error(), nil
	}

	for i, stage := range stages {
		if stage.ID != d.sched.StageID {
			continue
		}
		if i+1 < len(stages) {
			return stages[i+1].ID, "", nil
		}
		return "", ReasonNoNextStage + ": stage " + d.sched.StageID + " is the last of plan " + *d.sched.PlanID, nil
	}

	return "", ReasonStageNotInPlan + ": stage " + d.sched.StageID + " is not listed in plan " + *d.sched.PlanID, nil
}

func (o *Orchestrator) detail(d *decision, state State) json.RawMessage {
	raw, err := json.Marshal(Detail{
		State:         state,
		RuleID:        d.rule.ID,
		TargetStageID: d.target,
		Evaluation:    d.result,
		Actions:       d.actions,
	})
	if err != nil {
		d.log.Error("encoding evaluation detail", zap.Error(err))
		return json.RawMessage(`{}`)
	}
	return raw
}

// commit writes the audit record, advances the watermark and marks the folded
// feedback as processed in one unit.
func (o *Orchestrator) commit(ctx context.Context, d *decision, status model.ExecutionStatus, reason string, detail json.RawMessage) (*model.Execution, error) {
	ruleID := d.rule.ID
	exec := model.Execution{
		ScheduleID:    d.sched.ID,
		ApplicationID: d.sched.ApplicationID,
		RuleID:        &ruleID,
		FromStageID:   d.sched.StageID,
		Status:        status,
		Detail:        detail,
		ExecutedAt:    o.now(),
		Actor:         d.actor,
	}
	if d.target != "" {
		target := d.target
		exec.ToStageID = &target
	}
	if reason != "" {
		exec.FailureReason = &reason
	}

	dec := &model.Decision{
		Execution:   exec,
		EvaluatedAt: d.startedAt,
		FeedbackIDs: d.result.FeedbackIDs,
	}
	if err := o.store.CommitDecision(ctx, dec); err != nil {
		return nil, err
	}

	return &dec.Execution, nil
}

// withRetry calls fn until it succeeds, fails permanently or runs out of
// attempts. It returns the number of attempts made. When ctx ends during a
// backoff the error is marked with errInterrupted.
func (o *Orchestrator) withRetry(ctx context.Context, log *zap.Logger, name string, fn func(context.Context) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if !errors.IsRetryable(err) || attempt >= o.cfg.MaxAttempts {
			return attempt, err
		}

		delay := utils.Backoff(o.cfg.BackoffBase, attempt)
		log.Warn("retrying "+name,
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		if werr := o.wait(ctx, delay); werr != nil {
			return attempt, errors.Mark(errors.Wrapf(err, "%s interrupted: %v", name, werr), errInterrupted)
		}
	}
}
