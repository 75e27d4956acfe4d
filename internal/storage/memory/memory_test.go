package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/interview-advancer/internal/model"
)

var t0 = time.Date(2024, 10, 19, 10, 0, 0, 0, time.UTC)

func TestReplaceScheduleOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()

	sched := &model.Schedule{ID: "s1", ApplicationID: "a1", StageID: "st1", Status: model.StatusScheduled, SourceUpdatedAt: t0}
	events := []model.Event{{ID: "e1", InterviewID: "i1", Interviewers: []string{"alice"}}}

	applied, err := s.ReplaceSchedule(ctx, sched, events, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, applied)

	first, _ := s.GetSchedule(ctx, "s1")

	applied, err = s.ReplaceSchedule(ctx, sched, events, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, applied)

	second, _ := s.GetSchedule(ctx, "s1")
	assert.Equal(t, first, second, "redelivery must not change stored state")

	older := *sched
	older.SourceUpdatedAt = t0.Add(-time.Minute)
	older.Status = model.StatusCancelled

	applied, err = s.ReplaceSchedule(ctx, &older, nil, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)

	got, _ := s.GetSchedule(ctx, "s1")
	assert.Equal(t, model.StatusScheduled, got.Status)

	deleted, err := s.DeleteSchedule(ctx, "s1", t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, deleted, "stale cancellation must not delete")
}

func TestCommitDecisionWatermarkOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	s := New()

	later := t0.Add(time.Hour)
	s.PutSchedule(model.Schedule{ID: "s1", LastEvaluatedAt: &later}, nil)
	_, _ = s.InsertFeedback(ctx, model.Feedback{ID: "f1"})

	require.NoError(t, s.CommitDecision(ctx, &model.Decision{
		Execution:   model.Execution{ScheduleID: "s1", Status: model.ExecutionRejected},
		EvaluatedAt: t0,
		FeedbackIDs: []string{"f1"},
	}))

	got, _ := s.GetSchedule(ctx, "s1")
	assert.True(t, got.LastEvaluatedAt.Equal(later))

	fb, _ := s.Feedback("f1")
	require.NotNil(t, fb.ProcessedAt)
	assert.Len(t, s.Executions(), 1)
}
