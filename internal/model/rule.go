package model

import (
	"sort"
	"strings"
	"time"

	"github.com/spigell/interview-advancer/internal/errors"
)

// Rule governs advancement out of one (job, plan, stage).
type Rule struct {
	ID string
	// JobID nil matches any job.
	JobID   *string
	PlanID  string
	StageID string
	// TargetStageID nil means the next stage of the plan.
	TargetStageID *string
	Active        bool
	CreatedAt     time.Time
	Requirements  []Requirement
	Actions       []Action
}

// Key is the uniqueness key of active rules.
func (r *Rule) Key() string {
	job := "*"
	if r.JobID != nil {
		job = *r.JobID
	}
	return job + "|" + r.PlanID + "|" + r.StageID
}

// OrderedActions returns the actions sorted by execution order, ties kept stable.
// A rule without actions advances the stage.
func (r *Rule) OrderedActions() []Action {
	if len(r.Actions) == 0 {
		return []Action{{Kind: ActionAdvanceStage}}
	}

	actions := make([]Action, len(r.Actions))
	copy(actions, r.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Order < actions[j].Order
	})

	return actions
}

// Requirement is a scoring condition on one interview of the rule.
type Requirement struct {
	ID          string
	InterviewID string
	FieldPath   string
	Operator    string
	Threshold   string
	Required    bool
}

type ActionKind string

const (
	ActionAdvanceStage ActionKind = "advance_stage"
)

// ActionKinds lists every supported kind.
var ActionKinds = []ActionKind{ActionAdvanceStage}

func ParseActionKind(s string) (ActionKind, error) {
	for _, kind := range ActionKinds {
		if strings.EqualFold(strings.TrimSpace(s), string(kind)) {
			return kind, nil
		}
	}
	return "", errors.NewValidationError("unknown action kind %q", s)
}

type Action struct {
	ID    string
	Kind  ActionKind
	Order int
}
