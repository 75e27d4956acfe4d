package model

import "time"

// Feedback is one submitted scorecard.
type Feedback struct {
	ID            string
	ApplicationID string
	EventID       string
	InterviewerID string
	InterviewID   string
	SubmittedAt   time.Time
	// Values maps a field path to the submitted value as decoded from JSON.
	Values      map[string]any
	ProcessedAt *time.Time
}
