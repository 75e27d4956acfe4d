package model

import (
	"testing"
	"time"

	"github.com/spigell/interview-advancer/internal/errors"
)

func TestParseScheduleStatus(t *testing.T) {
	t.Parallel()

	got, err := ParseScheduleStatus(" waitingonfeedback ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != StatusWaitingOnFeedback {
		t.Fatalf("expected %s, got %s", StatusWaitingOnFeedback, got)
	}

	if _, err := ParseScheduleStatus("Rescheduled"); !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNeedsEvaluation(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 10, 19, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	later := now.Add(time.Hour)

	cases := []struct {
		name      string
		watermark *time.Time
		want      bool
	}{
		{name: "never evaluated", watermark: nil, want: true},
		{name: "changed since", watermark: &earlier, want: true},
		{name: "evaluated after change", watermark: &later, want: false},
		{name: "evaluated at change", watermark: &now, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := Schedule{UpdatedAt: now, LastEvaluatedAt: tc.watermark}
			if got := s.NeedsEvaluation(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestOrderedActions(t *testing.T) {
	t.Parallel()

	rule := Rule{Actions: []Action{
		{ID: "b", Kind: ActionAdvanceStage, Order: 2},
		{ID: "a1", Kind: ActionAdvanceStage, Order: 1},
		{ID: "a2", Kind: ActionAdvanceStage, Order: 1},
	}}

	got := rule.OrderedActions()
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if ids[0] != "a1" || ids[1] != "a2" || ids[2] != "b" {
		t.Fatalf("unexpected order: %v", ids)
	}

	implicit := (&Rule{}).OrderedActions()
	if len(implicit) != 1 || implicit[0].Kind != ActionAdvanceStage {
		t.Fatalf("expected implicit advance action, got %+v", implicit)
	}
}

func TestRuleKey(t *testing.T) {
	t.Parallel()

	job := "job-1"
	specific := Rule{JobID: &job, PlanID: "p", StageID: "s"}
	wildcard := Rule{PlanID: "p", StageID: "s"}

	if specific.Key() == wildcard.Key() {
		t.Fatalf("job-specific and wildcard keys must differ")
	}

	if wildcard.Key() != "*|p|s" {
		t.Fatalf("unexpected wildcard key %q", wildcard.Key())
	}
}

func TestParseActionKind(t *testing.T) {
	t.Parallel()

	if kind, err := ParseActionKind("ADVANCE_STAGE"); err != nil || kind != ActionAdvanceStage {
		t.Fatalf("expected advance_stage, got %q (%v)", kind, err)
	}

	if _, err := ParseActionKind("send_email"); !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
