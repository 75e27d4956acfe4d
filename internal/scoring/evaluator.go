package scoring

import (
	"sort"
	"time"

	"github.com/spigell/interview-advancer/internal/model"
)

type Outcome string

const (
	OutcomePassed          Outcome = "passed"
	OutcomeFailed          Outcome = "failed"
	OutcomeMissingFeedback Outcome = "missing_feedback"
)

const (
	ReasonNoInterviewers      = "no_interviewers_assigned"
	ReasonMissingFeedback     = "missing_feedback"
	ReasonFieldMissing        = "field_missing"
	ReasonTypeMismatch        = "type_mismatch"
	ReasonThresholdNotMet     = "threshold_not_met"
	ReasonInvalidOperator     = "invalid_operator"
	ReasonUnsupportedOperator = "unsupported_operator"
)

// Result is the evaluation of every requirement of a rule. It is embedded as
// is into the audit record.
type Result struct {
	Outcome      Outcome             `json:"outcome"`
	Passed       bool                `json:"all_passed"`
	Requirements []RequirementResult `json:"requirements"`
	// LatestSubmittedAt is the newest scorecard the evaluation looked at.
	LatestSubmittedAt *time.Time `json:"latest_submitted_at,omitempty"`
	FeedbackIDs       []string   `json:"feedback_ids"`
}

type RequirementResult struct {
	RequirementID string        `json:"requirement_id"`
	InterviewID   string        `json:"interview_id"`
	FieldPath     string        `json:"field_path"`
	Operator      string        `json:"operator"`
	Threshold     string        `json:"threshold"`
	Required      bool          `json:"required"`
	Passed        bool          `json:"passed"`
	Blocking      bool          `json:"blocking,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Assigned      int           `json:"assigned"`
	Submitted     int           `json:"submitted"`
	Scores        []ScoreResult `json:"scores,omitempty"`
}

type ScoreResult struct {
	FeedbackID    string `json:"feedback_id"`
	EventID       string `json:"event_id"`
	InterviewerID string `json:"interviewer_id"`
	Value         string `json:"value,omitempty"`
	Passed        bool   `json:"passed"`
	Reason        string `json:"reason,omitempty"`
}

type slot struct {
	eventID       string
	interviewerID string
}

// Evaluate checks every requirement of rule against the schedule's events and
// the feedback submitted for them. It has no side effects and returns the same
// result for the same input.
func Evaluate(rule *model.Rule, events []model.Event, feedback []model.Feedback) *Result {
	result := &Result{Requirements: make([]RequirementResult, 0, len(rule.Requirements))}

	used := map[string]struct{}{}
	blocked := false
	allRequiredPassed := true

	for _, req := range rule.Requirements {
		rr, considered := evaluateRequirement(req, events, feedback)

		for _, fb := range considered {
			used[fb.ID] = struct{}{}
			if result.LatestSubmittedAt == nil || fb.SubmittedAt.After(*result.LatestSubmittedAt) {
				submitted := fb.SubmittedAt
				result.LatestSubmittedAt = &submitted
			}
		}

		if rr.Blocking {
			blocked = true
		}
		if rr.Required && !rr.Passed {
			allRequiredPassed = false
		}

		result.Requirements = append(result.Requirements, rr)
	}

	result.FeedbackIDs = make([]string, 0, len(used))
	for id := range used {
		result.FeedbackIDs = append(result.FeedbackIDs, id)
	}
	sort.Strings(result.FeedbackIDs)

	switch {
	case blocked:
		result.Outcome = OutcomeMissingFeedback
	case allRequiredPassed:
		result.Outcome = OutcomePassed
		result.Passed = true
	default:
		result.Outcome = OutcomeFailed
	}

	return result
}

func evaluateRequirement(req model.Requirement, events []model.Event, feedback []model.Feedback) (RequirementResult, []model.Feedback) {
	rr := RequirementResult{
		RequirementID: req.ID,
		InterviewID:   req.InterviewID,
		FieldPath:     req.FieldPath,
		Operator:      req.Operator,
		Threshold:     req.Threshold,
		Required:      req.Required,
	}

	assigned := map[slot]struct{}{}
	eventIDs := map[string]struct{}{}
	for _, ev := range events {
		if ev.InterviewID != req.InterviewID {
			continue
		}
		eventIDs[ev.ID] = struct{}{}
		for _, interviewer := range ev.Interviewers {
			assigned[slot{eventID: ev.ID, interviewerID: interviewer}] = struct{}{}
		}
	}
	rr.Assigned = len(assigned)

	scorecards := latestPerSlot(feedback, eventIDs)
	for _, fb := range scorecards {
		if _, ok := assigned[slot{eventID: fb.EventID, interviewerID: fb.InterviewerID}]; ok {
			rr.Submitted++
		}
	}

	if rr.Assigned == 0 {
		rr.Reason = ReasonNoInterviewers
		return rr, scorecards
	}

	op, err := ParseOperator(req.Operator)
	if err != nil {
		rr.Reason = ReasonInvalidOperator
		return rr, scorecards
	}
	threshold := ParseThreshold(req.Threshold)

	rr.Passed = true
	for _, fb := range scorecards {
		score := scoreFeedback(fb, req.FieldPath, op, threshold)
		if !score.Passed {
			rr.Passed = false
			if rr.Reason == "" {
				rr.Reason = score.Reason
			}
		}
		rr.Scores = append(rr.Scores, score)
	}

	if rr.Submitted < rr.Assigned {
		rr.Passed = false
		rr.Reason = ReasonMissingFeedback
		rr.Blocking = req.Required
	}

	return rr, scorecards
}

func scoreFeedback(fb model.Feedback, path string, op Operator, threshold Value) ScoreResult {
	score := ScoreResult{FeedbackID: fb.ID, EventID: fb.EventID, InterviewerID: fb.InterviewerID}

	raw, ok := Lookup(fb.Values, path)
	if !ok {
		score.Reason = ReasonFieldMissing
		return score
	}

	actual, ok := Coerce(raw, threshold.Kind())
	if !ok {
		score.Value = coerceString(raw)
		score.Reason = ReasonTypeMismatch
		return score
	}
	score.Value = actual.String()

	passed, err := Compare(actual, op, threshold)
	switch {
	case err != nil:
		score.Reason = ReasonUnsupportedOperator
	case !passed:
		score.Reason = ReasonThresholdNotMet
	default:
		score.Passed = true
	}

	return score
}

// latestPerSlot keeps the newest submission per (event, interviewer) among
// the given events, sorted for deterministic output.
func latestPerSlot(feedback []model.Feedback, eventIDs map[string]struct{}) []model.Feedback {
	latest := map[slot]model.Feedback{}
	for _, fb := range feedback {
		if _, ok := eventIDs[fb.EventID]; !ok {
			continue
		}
		key := slot{eventID: fb.EventID, interviewerID: fb.InterviewerID}
		prev, seen := latest[key]
		if !seen || fb.SubmittedAt.After(prev.SubmittedAt) || (fb.SubmittedAt.Equal(prev.SubmittedAt) && fb.ID > prev.ID) {
			latest[key] = fb
		}
	}

	out := make([]model.Feedback, 0, len(latest))
	for _, fb := range latest {
		out = append(out, fb)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].InterviewerID < out[j].InterviewerID
	})

	return out
}
