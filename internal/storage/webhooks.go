package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/interview-advancer/internal/errors"
)

// SaveWebhookPayload keeps the raw body of an inbound webhook for auditing.
func (s *Store) SaveWebhookPayload(ctx context.Context, action, scheduleID string, payload []byte, receivedAt time.Time) error {
	var schedule any
	if scheduleID != "" {
		schedule = scheduleID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_payloads (payload_id, action, schedule_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), action, schedule, payload, receivedAt,
	)

	return errors.NewPersistenceError(err, "saving webhook payload")
}
