// Package notify sends rejection notices to recruiters.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/logger"
)

// summary is the part of an evaluation detail a notice needs.
type summary struct {
	RuleID     string `json:"rule_id"`
	Evaluation *struct {
		Requirements []struct {
			InterviewID string `json:"interview_id"`
			FieldPath   string `json:"field_path"`
			Operator    string `json:"operator"`
			Threshold   string `json:"threshold"`
			Required    bool   `json:"required"`
			Passed      bool   `json:"passed"`
			Reason      string `json:"reason"`
		} `json:"requirements"`
	} `json:"evaluation"`
}

// Message renders the plain-text notice for a rejected application.
func Message(applicationID string, detail json.RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Application %s did not meet the advancement requirements.", applicationID)

	var s summary
	if err := json.Unmarshal(detail, &s); err != nil || s.Evaluation == nil {
		return b.String()
	}

	for _, req := range s.Evaluation.Requirements {
		if req.Passed || !req.Required {
			continue
		}
		fmt.Fprintf(&b, "\n- %s on interview %s: %s %s %s", req.Reason, req.InterviewID, req.FieldPath, req.Operator, req.Threshold)
	}

	return b.String()
}

// Log writes notices to the log. It is used when no Slack token is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{logger: logger.OrNop(log)}
}

func (l *Log) NotifyRejection(_ context.Context, applicationID string, detail json.RawMessage) error {
	l.logger.Info("rejection notice",
		zap.String(logger.FieldApplicationID, applicationID),
		zap.String("message", Message(applicationID, detail)),
	)
	return nil
}
