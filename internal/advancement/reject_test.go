package advancement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
	"github.com/spigell/interview-advancer/internal/storage/memory"
)

type archiverStub struct {
	calls     [][2]string
	templates []string
	err       error
}

func (a *archiverStub) Archive(_ context.Context, applicationID, reasonID, templateID string) error {
	a.calls = append(a.calls, [2]string{applicationID, reasonID})
	a.templates = append(a.templates, templateID)
	return a.err
}

func TestRejectArchivesAndRecords(t *testing.T) {
	store := memory.New()
	store.PutSchedule(model.Schedule{ID: "old", ApplicationID: "app-1", StageID: "stage-1", UpdatedAt: t0}, nil)
	store.PutSchedule(model.Schedule{ID: "new", ApplicationID: "app-1", StageID: "stage-2", UpdatedAt: t0.Add(time.Hour)}, nil)

	ats := &archiverStub{}
	r := NewRejector(store, ats, "reason-1", false, zap.NewNop())
	r.now = func() time.Time { return t0.Add(2 * time.Hour) }

	exec, err := r.Reject(context.Background(), "app-1", model.ActorRecruiterManual)
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"app-1", "reason-1"}}, ats.calls)
	assert.Equal(t, model.ExecutionRejected, exec.Status)
	assert.Equal(t, model.ActorRecruiterManual, exec.Actor)
	assert.Equal(t, "new", exec.ScheduleID)
	assert.Equal(t, "stage-2", exec.FromStageID)
	assert.JSONEq(t, `{"archive_reason_id":"reason-1"}`, string(exec.Detail))
	assert.Equal(t, []string{""}, ats.templates)
	assert.Len(t, store.Executions(), 1)
}

func TestRejectWithEmail(t *testing.T) {
	ats := &archiverStub{}
	r := NewRejector(memory.New(), ats, "reason-1", false, nil, WithRejectionEmail(" tmpl-1 "))

	exec, err := r.Reject(context.Background(), "app-1", model.ActorRecruiterManual)
	require.NoError(t, err)
	assert.Equal(t, []string{"tmpl-1"}, ats.templates)
	assert.JSONEq(t, `{"archive_reason_id":"reason-1","email_template_id":"tmpl-1"}`, string(exec.Detail))
}

func TestRejectRequiresReason(t *testing.T) {
	ats := &archiverStub{}
	r := NewRejector(memory.New(), ats, " ", false, nil)

	_, err := r.Reject(context.Background(), "app-1", model.ActorRecruiterManual)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Empty(t, ats.calls)
}

func TestRejectArchiveFailureWritesNothing(t *testing.T) {
	store := memory.New()
	ats := &archiverStub{err: errors.NewExternalError(errors.New("422"), false, "archiving")}
	r := NewRejector(store, ats, "reason-1", false, nil)

	_, err := r.Reject(context.Background(), "app-1", model.ActorAdmin)
	require.Error(t, err)
	assert.Empty(t, store.Executions())
}

func TestRejectDryRun(t *testing.T) {
	store := memory.New()
	ats := &archiverStub{}
	r := NewRejector(store, ats, "reason-1", true, nil)

	exec, err := r.Reject(context.Background(), "app-1", model.ActorRecruiterManual)
	require.NoError(t, err)
	assert.Empty(t, ats.calls)
	assert.Equal(t, model.ExecutionDryRun, exec.Status)
}
