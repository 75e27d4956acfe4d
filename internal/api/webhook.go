package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/ingest"
	"github.com/spigell/interview-advancer/internal/logger"
)

const signatureHeader = "Ashby-Signature"

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func (s *Server) webhook(c *fiber.Ctx) error {
	// fiber reuses the request buffer once the handler returns.
	body := append([]byte(nil), c.Body()...)

	if s.opts.WebhookSecret != "" && !verifySignature(s.opts.WebhookSecret, body, c.Get(signatureHeader)) {
		s.logger.Warn("webhook signature mismatch", zap.String("ip", c.IP()))
		return jsonError(c, fiber.StatusUnauthorized, "invalid signature")
	}

	hook, err := ingest.ParseWebhook(body)
	if err != nil {
		return err
	}

	ctx := c.UserContext()

	var ev *ingest.Event
	if hook.Action == ingest.ActionInterviewScheduleUpdate {
		ev, err = ingest.ParseScheduleUpdate(hook.Data)
		if err != nil {
			return err
		}
	}

	scheduleID := ""
	if ev != nil {
		scheduleID = ev.ScheduleID
	}
	if err := s.deps.Store.SaveWebhookPayload(ctx, hook.Action, scheduleID, body, s.now()); err != nil {
		s.logger.Warn("storing webhook payload", zap.String("action", hook.Action), zap.Error(err))
	}

	switch hook.Action {
	case ingest.ActionPing:
		return c.JSON(fiber.Map{"status": "ok"})
	case ingest.ActionInterviewScheduleUpdate:
	default:
		s.logger.Debug("ignoring webhook", zap.String("action", hook.Action))
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	result, err := s.deps.Ingestor.Ingest(ctx, ev)
	if err != nil {
		if !errors.IsValidation(err) {
			// Anything but malformed input is retried by the sender.
			logger.WithSchedule(s.logger, ev.ScheduleID, ev.ApplicationID).
				Error("ingesting schedule", zap.Error(err))
			return jsonError(c, fiber.StatusInternalServerError, "ingestion failed, please retry")
		}
		return err
	}

	return c.JSON(fiber.Map{"status": "ok", "result": result})
}
