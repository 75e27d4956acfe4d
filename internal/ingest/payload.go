package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

const (
	ActionPing                    = "ping"
	ActionInterviewScheduleUpdate = "interviewScheduleUpdate"
)

// Webhook is the outer envelope of every inbound webhook.
type Webhook struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type schedulePayload struct {
	InterviewSchedule *struct {
		ID               string     `json:"id"`
		Status           string     `json:"status"`
		ApplicationID    string     `json:"applicationId"`
		CandidateID      string     `json:"candidateId"`
		InterviewStageID string     `json:"interviewStageId"`
		UpdatedAt        *time.Time `json:"updatedAt"`
		InterviewEvents  []struct {
			ID           string     `json:"id"`
			InterviewID  string     `json:"interviewId"`
			UpdatedAt    *time.Time `json:"updatedAt"`
			Interviewers []struct {
				ID string `json:"id"`
			} `json:"interviewers"`
		} `json:"interviewEvents"`
	} `json:"interviewSchedule"`
}

func ParseWebhook(body []byte) (*Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding webhook"), errors.ErrValidation)
	}
	if strings.TrimSpace(w.Action) == "" {
		return nil, errors.NewValidationError("webhook action is missing")
	}
	return &w, nil
}

// ParseScheduleUpdate converts the data of an interviewScheduleUpdate webhook.
// The change time is the schedule's updatedAt, or the newest event's when the
// schedule carries none.
func ParseScheduleUpdate(data []byte) (*Event, error) {
	var p schedulePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding interview schedule"), errors.ErrValidation)
	}

	s := p.InterviewSchedule
	if s == nil {
		return nil, errors.NewValidationError("interviewSchedule is missing")
	}

	ev := &Event{
		ScheduleID:    s.ID,
		ApplicationID: s.ApplicationID,
		CandidateID:   s.CandidateID,
		StageID:       s.InterviewStageID,
		Status:        s.Status,
	}
	if s.UpdatedAt != nil {
		ev.UpdatedAt = s.UpdatedAt.UTC()
	}

	for _, raw := range s.InterviewEvents {
		event := model.Event{ID: raw.ID, InterviewID: raw.InterviewID}
		for _, interviewer := range raw.Interviewers {
			if interviewer.ID != "" {
				event.Interviewers = append(event.Interviewers, interviewer.ID)
			}
		}
		ev.Events = append(ev.Events, event)

		if s.UpdatedAt == nil && raw.UpdatedAt != nil && raw.UpdatedAt.After(ev.UpdatedAt) {
			ev.UpdatedAt = raw.UpdatedAt.UTC()
		}
	}

	return ev, nil
}
