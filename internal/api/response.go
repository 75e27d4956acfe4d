package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
)

type ErrorResponse struct {
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

func jsonError(c *fiber.Ctx, status int, message string, hints ...string) error {
	return c.Status(status).JSON(ErrorResponse{Message: message, Hints: hints})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.IsValidation(err):
		return fiber.StatusBadRequest
	case errors.IsNotFound(err):
		return fiber.StatusNotFound
	case errors.IsConfiguration(err):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, errors.ErrExternalRetryable), errors.Is(err, errors.ErrExternalPermanent):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// handleError is the fiber error handler: every error returned by a handler
// ends up here.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return jsonError(c, status, fe.Message)
	}
	return jsonError(c, status, err.Error(), errors.GetAllHints(err)...)
}
