package model

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const (
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionFailed   ExecutionStatus = "failed"
	ExecutionDryRun   ExecutionStatus = "dry_run"
	ExecutionRejected ExecutionStatus = "rejected"
)

type Actor string

const (
	ActorSystem          Actor = "system"
	ActorAdmin           Actor = "admin"
	ActorRecruiterManual Actor = "recruiter_manual"
)

// Execution is an append-only audit record of one terminal decision.
type Execution struct {
	ID            string
	ScheduleID    string
	ApplicationID string
	RuleID        *string
	FromStageID   string
	ToStageID     *string
	Status        ExecutionStatus
	FailureReason *string
	// Detail is the JSON-encoded evaluation detail.
	Detail     json.RawMessage
	ExecutedAt time.Time
	Actor      Actor
}

// Decision is what the orchestrator commits atomically: the audit record,
// the watermark advance and the feedback folded into the decision.
type Decision struct {
	Execution   Execution
	EvaluatedAt time.Time
	FeedbackIDs []string
}

// Stats summarizes recent executions for operators.
type Stats struct {
	Since              time.Time
	ByStatus           map[ExecutionStatus]int
	PendingEvaluations int
	ActiveRules        int
	RecentFailures     []Execution
}
