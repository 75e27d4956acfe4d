// Package model holds the data shared by ingestion, evaluation and the audit trail.
package model

import (
	"strings"
	"time"

	"github.com/spigell/interview-advancer/internal/errors"
)

type ScheduleStatus string

const (
	StatusScheduled         ScheduleStatus = "Scheduled"
	StatusWaitingOnFeedback ScheduleStatus = "WaitingOnFeedback"
	StatusComplete          ScheduleStatus = "Complete"
	StatusCancelled         ScheduleStatus = "Cancelled"
)

// ParseScheduleStatus accepts the ATS spelling of a status, case-insensitively.
func ParseScheduleStatus(s string) (ScheduleStatus, error) {
	for _, status := range []ScheduleStatus{StatusScheduled, StatusWaitingOnFeedback, StatusComplete, StatusCancelled} {
		if strings.EqualFold(strings.TrimSpace(s), string(status)) {
			return status, nil
		}
	}
	return "", errors.NewValidationError("unknown schedule status %q", s)
}

// Evaluable reports whether schedules in this status are considered by the evaluation pass.
func (s ScheduleStatus) Evaluable() bool {
	return s == StatusWaitingOnFeedback || s == StatusComplete
}

// Schedule is one candidate's instance of an interview stage.
type Schedule struct {
	ID            string
	ApplicationID string
	CandidateID   string
	// JobID and PlanID stay nil until resolved through the ATS.
	JobID   *string
	PlanID  *string
	StageID string
	Status  ScheduleStatus
	// SourceUpdatedAt is the ATS-side change time used to order deliveries.
	SourceUpdatedAt time.Time
	// UpdatedAt is bumped on every local change (ingest, new feedback).
	UpdatedAt time.Time
	// LastEvaluatedAt is the evaluation watermark. Only ever moves forward.
	LastEvaluatedAt *time.Time
	CreatedAt       time.Time
}

// NeedsEvaluation applies the watermark rule.
func (s *Schedule) NeedsEvaluation() bool {
	return s.LastEvaluatedAt == nil || s.UpdatedAt.After(*s.LastEvaluatedAt)
}

// Resolved reports whether both job and plan are known.
func (s *Schedule) Resolved() bool {
	return s.JobID != nil && s.PlanID != nil
}

// Event is one interview event of a schedule with its assigned interviewers.
type Event struct {
	ID           string
	InterviewID  string
	Interviewers []string
}

// Stage is one step of an interview plan.
type Stage struct {
	ID     string
	Title  string
	PlanID string
	Order  int
}
