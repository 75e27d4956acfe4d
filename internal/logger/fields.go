package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	FieldScheduleID    = "schedule_id"
	FieldApplicationID = "application_id"
	FieldRuleID        = "rule_id"
	FieldStageID       = "stage_id"
	FieldActor         = "actor"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	logger = OrNop(logger)

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ScheduleFields identifies the schedule and application an entry is about.
func ScheduleFields(scheduleID, applicationID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldScheduleID, Value: scheduleID},
		StringField{Key: FieldApplicationID, Value: applicationID},
	)
}

// WithSchedule attaches ScheduleFields to the logger.
func WithSchedule(logger *zap.Logger, scheduleID, applicationID string) *zap.Logger {
	return WithFields(logger, ScheduleFields(scheduleID, applicationID)...)
}

// RuleFields identifies the matched rule and the stage it governs.
func RuleFields(ruleID, stageID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldRuleID, Value: ruleID},
		StringField{Key: FieldStageID, Value: stageID},
	)
}
