package advancement

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/lock"
	"github.com/spigell/interview-advancer/internal/model"
	"github.com/spigell/interview-advancer/internal/rules"
	"github.com/spigell/interview-advancer/internal/storage/memory"
)

var t0 = time.Date(2024, 10, 19, 10, 0, 0, 0, time.UTC)

type atsStub struct {
	mu          sync.Mutex
	stages      []model.Stage
	stageErr    error
	stageCalls  int
	changeErrs  []error
	changeCalls []string
}

func (a *atsStub) StageOrder(context.Context, string) ([]model.Stage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stageCalls++
	return a.stages, a.stageErr
}

func (a *atsStub) ChangeStage(_ context.Context, _ string, stageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.changeCalls = append(a.changeCalls, stageID)
	if len(a.changeErrs) == 0 {
		return nil
	}
	err := a.changeErrs[0]
	a.changeErrs = a.changeErrs[1:]
	return err
}

type notifierStub struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *notifierStub) NotifyRejection(_ context.Context, applicationID string, _ json.RawMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, applicationID)
	return n.err
}

type fixture struct {
	store    *memory.Store
	ats      *atsStub
	notifier *notifierStub
	orch     *Orchestrator
	now      time.Time
	waits    []time.Duration
}

func ptr(s string) *string { return &s }

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.New(),
		ats: &atsStub{stages: []model.Stage{
			{ID: "stage-1", Order: 0},
			{ID: "stage-2", Order: 1},
			{ID: "stage-3", Order: 2},
		}},
		notifier: &notifierStub{},
		now:      t0.Add(time.Hour),
	}

	if cfg.MinWait == 0 {
		cfg.MinWait = 30 * time.Minute
	}
	log := zaptest.NewLogger(t)
	f.orch = New(f.store, rules.NewMatcher(f.store, log), f.ats, f.notifier, lock.NewLocal(), cfg, log)
	f.orch.now = func() time.Time { return f.now }
	f.orch.wait = func(_ context.Context, d time.Duration) error {
		f.waits = append(f.waits, d)
		return nil
	}

	return f
}

// seed stores a resolved schedule on stageID with one event of interview-1
// and the given interviewers, plus a rule for that stage. Ids are fixed so
// that details from separate fixtures compare equal.
func (f *fixture) seed(t *testing.T, stageID string, interviewers ...string) {
	t.Helper()

	f.store.PutSchedule(model.Schedule{
		ID:            "sched-1",
		ApplicationID: "app-1",
		JobID:         ptr("job-1"),
		PlanID:        ptr("plan-1"),
		StageID:       stageID,
		Status:        model.StatusComplete,
		UpdatedAt:     t0,
	}, []model.Event{{ID: "event-1", InterviewID: "interview-1", Interviewers: interviewers}})

	require.NoError(t, f.store.CreateRule(context.Background(), &model.Rule{
		ID:      "rule-" + stageID,
		JobID:   ptr("job-1"),
		PlanID:  "plan-1",
		StageID: stageID,
		Active:  true,
		Requirements: []model.Requirement{{
			ID:          "req-" + stageID,
			InterviewID: "interview-1",
			FieldPath:   "overall_score",
			Operator:    ">=",
			Threshold:   "3",
			Required:    true,
		}},
		Actions: []model.Action{{ID: "action-" + stageID, Kind: model.ActionAdvanceStage, Order: 1}},
	}, t0.Add(-24*time.Hour)))
}

func (f *fixture) submit(t *testing.T, id, interviewer string, score float64, at time.Time) {
	t.Helper()

	_, err := f.store.InsertFeedback(context.Background(), model.Feedback{
		ID:            id,
		ApplicationID: "app-1",
		EventID:       "event-1",
		InterviewerID: interviewer,
		InterviewID:   "interview-1",
		SubmittedAt:   at,
		Values:        map[string]any{"overall_score": score},
	})
	require.NoError(t, err)
}

func (f *fixture) schedule(t *testing.T) *model.Schedule {
	t.Helper()
	sched, err := f.store.GetSchedule(context.Background(), "sched-1")
	require.NoError(t, err)
	return sched
}

func decodeDetail(t *testing.T, exec model.Execution) Detail {
	t.Helper()
	var d Detail
	require.NoError(t, json.Unmarshal(exec.Detail, &d))
	return d
}

func TestPanelAllPassAdvancesToNextStage(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice", "bob", "carol")
	f.submit(t, "f1", "alice", 4, t0)
	f.submit(t, "f2", "bob", 3, t0)
	f.submit(t, "f3", "carol", 5, t0)

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, StateEligible, out.State)
	require.NotNil(t, out.Execution)

	execs := f.store.Executions()
	require.Len(t, execs, 1)
	exec := execs[0]
	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	require.NotNil(t, exec.ToStageID)
	assert.Equal(t, "stage-3", *exec.ToStageID)
	assert.Equal(t, "stage-2", exec.FromStageID)
	assert.Nil(t, exec.FailureReason)
	assert.Equal(t, []string{"stage-3"}, f.ats.changeCalls)

	sched := f.schedule(t)
	require.NotNil(t, sched.LastEvaluatedAt)
	assert.True(t, sched.LastEvaluatedAt.Equal(f.now))

	for _, id := range []string{"f1", "f2", "f3"} {
		fb, _ := f.store.Feedback(id)
		assert.NotNil(t, fb.ProcessedAt, "feedback %s must be processed", id)
	}

	detail := decodeDetail(t, exec)
	assert.Equal(t, StateEligible, detail.State)
	require.NotNil(t, detail.Evaluation)
	assert.True(t, detail.Evaluation.Passed)
	require.Len(t, detail.Actions, 1)
	assert.Equal(t, 1, detail.Actions[0].Attempts)
}

func TestDryRunMatchesRealRunExceptCallAndStatus(t *testing.T) {
	run := func(dryRun bool) (*fixture, model.Execution) {
		f := newFixture(t, Config{DryRun: dryRun})
		f.seed(t, "stage-2", "alice", "bob")
		f.submit(t, "f1", "alice", 4, t0)
		f.submit(t, "f2", "bob", 4, t0)

		_, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
		require.NoError(t, err)

		execs := f.store.Executions()
		require.Len(t, execs, 1)
		return f, execs[0]
	}

	liveF, live := run(false)
	dryF, dry := run(true)

	assert.Equal(t, model.ExecutionSuccess, live.Status)
	assert.Equal(t, model.ExecutionDryRun, dry.Status)
	assert.Len(t, liveF.ats.changeCalls, 1)
	assert.Empty(t, dryF.ats.changeCalls)

	assert.Equal(t, *live.ToStageID, *dry.ToStageID)
	liveDetail, dryDetail := decodeDetail(t, live), decodeDetail(t, dry)
	assert.Equal(t, liveDetail.RuleID, dryDetail.RuleID)
	assert.Equal(t, liveDetail.Evaluation, dryDetail.Evaluation)
	assert.NotNil(t, dryF.schedule(t).LastEvaluatedAt)
}

func TestPanelOneFailsRejects(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice", "bob", "carol")
	f.submit(t, "f1", "alice", 4, t0)
	f.submit(t, "f2", "bob", 2, t0)
	f.submit(t, "f3", "carol", 5, t0)

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, StateRequirementsFailed, out.State)

	assert.Equal(t, []string{"app-1"}, f.notifier.calls)
	assert.Empty(t, f.ats.changeCalls)

	execs := f.store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, model.ExecutionRejected, execs[0].Status)
	assert.Nil(t, execs[0].ToStageID)
	assert.NotNil(t, f.schedule(t).LastEvaluatedAt)
}

func TestNotificationFailureDoesNotUndoDecision(t *testing.T) {
	f := newFixture(t, Config{})
	f.notifier.err = errors.New("slack down")
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 1, t0)

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, StateRequirementsFailed, out.State)
	assert.Len(t, f.notifier.calls, 1)
	assert.Len(t, f.store.Executions(), 1)
}

func TestMissingFeedbackWaits(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice", "bob", "carol")
	f.submit(t, "f1", "alice", 4, t0)
	f.submit(t, "f2", "bob", 4, t0)

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingFeedback, out.State)
	assert.Nil(t, out.Execution)

	assert.Empty(t, f.store.Executions())
	assert.Nil(t, f.schedule(t).LastEvaluatedAt)

	fb, _ := f.store.Feedback("f1")
	assert.Nil(t, fb.ProcessedAt, "feedback of a blocked decision stays unprocessed")
}

func TestWaitWindow(t *testing.T) {
	f := newFixture(t, Config{MinWait: 30 * time.Minute})
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, f.now.Add(-10*time.Minute))

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, StateWithinWaitWindow, out.State)
	assert.Empty(t, f.store.Executions())
	assert.Empty(t, f.ats.changeCalls)

	f.now = f.now.Add(21 * time.Minute)

	out, err = f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, StateEligible, out.State)
	assert.Len(t, f.store.Executions(), 1)
}

func TestNoNextStageFailsAndAdvancesWatermark(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-3", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, StateEligible, out.State)

	execs := f.store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, model.ExecutionFailed, execs[0].Status)
	require.NotNil(t, execs[0].FailureReason)
	assert.True(t, strings.HasPrefix(*execs[0].FailureReason, ReasonNoNextStage))
	assert.Empty(t, f.ats.changeCalls)
	assert.NotNil(t, f.schedule(t).LastEvaluatedAt)

	report, err := f.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Selected, "a failed decision must not be retried forever")
}

func TestStageMissingFromPlanFails(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-9", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Reason, ReasonStageNotInPlan), out.Reason)

	execs := f.store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, model.ExecutionFailed, execs[0].Status)
	require.NotNil(t, execs[0].FailureReason)
	assert.Contains(t, *execs[0].FailureReason, "stage-9")
	assert.Empty(t, f.ats.changeCalls)
}

func TestExplicitTargetSkipsStageOrder(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	all, err := f.store.ListRules(context.Background(), true)
	require.NoError(t, err)
	rule := all[0]
	require.NoError(t, f.store.DeactivateRule(context.Background(), rule.ID, t0))

	rule.ID = ""
	rule.Active = true
	rule.TargetStageID = ptr("offer")
	rule.Requirements[0].ID = ""
	rule.Actions[0].ID = ""
	require.NoError(t, f.store.CreateRule(context.Background(), &rule, t0))

	_, err = f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorAdmin)
	require.NoError(t, err)

	assert.Equal(t, 0, f.ats.stageCalls)
	assert.Equal(t, []string{"offer"}, f.ats.changeCalls)
	assert.Equal(t, model.ActorAdmin, f.store.Executions()[0].Actor)
}

func TestStageAdvanceRetries(t *testing.T) {
	retryable := errors.NewExternalError(errors.New("502"), true, "changing stage")
	permanent := errors.NewExternalError(errors.New("400"), false, "changing stage")

	cases := []struct {
		name   string
		errs   []error
		calls  int
		waits  []time.Duration
		status model.ExecutionStatus
	}{
		{"recovers", []error{retryable, retryable}, 3, []time.Duration{2 * time.Second, 4 * time.Second}, model.ExecutionSuccess},
		{"exhausted", []error{retryable, retryable, retryable}, 3, []time.Duration{2 * time.Second, 4 * time.Second}, model.ExecutionFailed},
		{"permanent", []error{permanent}, 1, nil, model.ExecutionFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{MaxAttempts: 3, BackoffBase: 2 * time.Second})
			f.ats.changeErrs = tc.errs
			f.seed(t, "stage-2", "alice")
			f.submit(t, "f1", "alice", 4, t0)

			_, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
			require.NoError(t, err)

			assert.Len(t, f.ats.changeCalls, tc.calls)
			assert.Equal(t, tc.waits, f.waits)

			execs := f.store.Executions()
			require.Len(t, execs, 1)
			assert.Equal(t, tc.status, execs[0].Status)
			if tc.status == model.ExecutionFailed {
				require.NotNil(t, execs[0].FailureReason)
				assert.Contains(t, *execs[0].FailureReason, ReasonStageAdvanceFailed)
			}
			assert.NotNil(t, f.schedule(t).LastEvaluatedAt)
		})
	}
}

func TestCancelledBackoffDoesNotCommit(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	f.ats.changeErrs = []error{errors.NewExternalError(errors.New("502"), true, "changing stage")}
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	ctx, cancel := context.WithCancel(context.Background())
	f.orch.wait = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.orch.EvaluateSchedule(ctx, "sched-1", model.ActorAdmin)
	require.Error(t, err)
	assert.Len(t, f.ats.changeCalls, 1)
	assert.Empty(t, f.store.Executions())
	assert.Nil(t, f.schedule(t).LastEvaluatedAt)

	fb, _ := f.store.Feedback("f1")
	assert.Nil(t, fb.ProcessedAt)

	f.orch.wait = func(context.Context, time.Duration) error { return nil }
	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, out.Execution.Status)
}

func TestTransientStageOrderFailureSkipsTick(t *testing.T) {
	f := newFixture(t, Config{})
	f.ats.stageErr = errors.NewExternalError(errors.New("timeout"), true, "stage order")
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	_, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.Error(t, err)
	assert.Empty(t, f.store.Executions())
	assert.Nil(t, f.schedule(t).LastEvaluatedAt)
}

func TestNotReady(t *testing.T) {
	t.Run("unresolved", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.store.PutSchedule(model.Schedule{ID: "sched-1", ApplicationID: "app-1", StageID: "stage-2", Status: model.StatusComplete, UpdatedAt: t0}, nil)

		out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
		require.NoError(t, err)
		assert.Equal(t, StateNotReady, out.State)
		assert.Equal(t, ReasonMetadataUnresolved, out.Reason)
	})

	t.Run("no rule", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.seed(t, "stage-2", "alice")
		f.store.PutSchedule(model.Schedule{
			ID: "sched-1", ApplicationID: "app-1", JobID: ptr("job-1"), PlanID: ptr("plan-1"),
			StageID: "stage-1", Status: model.StatusComplete, UpdatedAt: t0,
		}, nil)

		out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
		require.NoError(t, err)
		assert.Equal(t, StateNotReady, out.State)
		assert.Equal(t, ReasonNoRule, out.Reason)
		assert.Empty(t, f.store.Executions())
		assert.Nil(t, f.schedule(t).LastEvaluatedAt)
	})
}

func TestLockedScheduleIsSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	release, ok, err := f.orch.locker.TryAcquire(context.Background(), "schedule:sched-1")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	out, err := f.orch.EvaluateSchedule(context.Background(), "sched-1", model.ActorSystem)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Empty(t, f.ats.changeCalls)
}

func TestCommitFailureLeavesWatermark(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)
	f.store.FailCommit = errors.New("connection refused")

	report, err := f.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Nil(t, f.schedule(t).LastEvaluatedAt)

	f.store.FailCommit = nil
	report, err = f.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ByState[StateEligible])
}

func TestRunPassRespectsWatermarkAndStaleness(t *testing.T) {
	f := newFixture(t, Config{StaleAfter: 7 * 24 * time.Hour})
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	report, err := f.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Selected)
	assert.Equal(t, 1, report.ByState[StateEligible])

	report, err = f.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Selected)

	f.store.PutSchedule(model.Schedule{
		ID: "old", ApplicationID: "app-2", JobID: ptr("job-1"), PlanID: ptr("plan-1"),
		StageID: "stage-2", Status: model.StatusComplete, UpdatedAt: f.now.Add(-8 * 24 * time.Hour),
	}, nil)

	report, err = f.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Selected, "stale schedules are excluded")
}

func TestRunPassStopsAtItemBoundary(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.orch.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Empty(t, f.store.Executions())
}

func TestEvaluateApplication(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "stage-2", "alice")
	f.submit(t, "f1", "alice", 4, t0)

	outcomes, err := f.orch.EvaluateApplication(context.Background(), "app-1", model.ActorAdmin)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StateEligible, outcomes[0].State)

	_, err = f.orch.EvaluateApplication(context.Background(), "nobody", model.ActorAdmin)
	assert.True(t, errors.IsNotFound(err))
}

func TestEveryActionKindHasHandler(t *testing.T) {
	for _, kind := range model.ActionKinds {
		_, ok := actionHandlers[kind]
		assert.True(t, ok, "no handler for %s", kind)
	}
}
