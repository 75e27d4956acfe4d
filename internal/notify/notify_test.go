package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var detail = json.RawMessage(`{
	"state": "requirements_failed",
	"rule_id": "r1",
	"evaluation": {"requirements": [
		{"interview_id": "i1", "field_path": "overall_score", "operator": ">=", "threshold": "3", "required": true, "passed": false, "reason": "threshold_not_met"},
		{"interview_id": "i2", "field_path": "culture", "operator": ">=", "threshold": "2", "required": false, "passed": false, "reason": "threshold_not_met"},
		{"interview_id": "i3", "field_path": "coding", "operator": ">=", "threshold": "3", "required": true, "passed": true}
	]}
}`)

func TestMessageListsFailedRequiredRequirements(t *testing.T) {
	msg := Message("app-1", detail)

	assert.True(t, strings.HasPrefix(msg, "Application app-1 did not meet"))
	assert.Contains(t, msg, "threshold_not_met on interview i1: overall_score >= 3")
	assert.NotContains(t, msg, "i2")
	assert.NotContains(t, msg, "i3")
}

func TestMessageToleratesBadDetail(t *testing.T) {
	assert.Equal(t, "Application app-1 did not meet the advancement requirements.", Message("app-1", json.RawMessage(`nope`)))
}

func TestSlackPostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	s := NewSlack("xoxb-token", "#hiring", zap.NewNop())
	s.APIURL = srv.URL

	require.NoError(t, s.NotifyRejection(context.Background(), "app-1", detail))
	assert.Equal(t, "#hiring", got["channel"])
	assert.Contains(t, got["text"], "app-1")
}

func TestSlackReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	}))
	defer srv.Close()

	s := NewSlack("t", "#nope", nil)
	s.APIURL = srv.URL

	err := s.NotifyRejection(context.Background(), "app-1", detail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	require.NoError(t, NewLog(zap.New(core)).NotifyRejection(context.Background(), "app-1", detail))

	entries := logs.FilterMessage("rejection notice").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "app-1", entries[0].ContextMap()["application_id"])
}
