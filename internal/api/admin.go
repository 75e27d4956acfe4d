package api

import (
	"crypto/subtle"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spigell/interview-advancer/internal/advancement"
	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.opts.AdminToken)) != 1 {
		return jsonError(c, fiber.StatusUnauthorized, "admin token required")
	}
	return c.Next()
}

type executionView struct {
	ID            string          `json:"id"`
	ScheduleID    string          `json:"schedule_id"`
	ApplicationID string          `json:"application_id"`
	RuleID        *string         `json:"rule_id"`
	FromStageID   string          `json:"from_stage_id"`
	ToStageID     *string         `json:"to_stage_id"`
	Status        string          `json:"status"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	Detail        json.RawMessage `json:"detail,omitempty"`
	ExecutedAt    time.Time       `json:"executed_at"`
	Actor         string          `json:"actor"`
}

func viewExecution(e *model.Execution) *executionView {
	if e == nil {
		return nil
	}
	v := &executionView{
		ID:            e.ID,
		ScheduleID:    e.ScheduleID,
		ApplicationID: e.ApplicationID,
		RuleID:        e.RuleID,
		FromStageID:   e.FromStageID,
		ToStageID:     e.ToStageID,
		Status:        string(e.Status),
		FailureReason: e.FailureReason,
		ExecutedAt:    e.ExecutedAt,
		Actor:         string(e.Actor),
	}
	if len(e.Detail) > 0 {
		v.Detail = e.Detail
	}
	return v
}

type outcomeView struct {
	ScheduleID string         `json:"schedule_id"`
	State      string         `json:"state,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Skipped    bool           `json:"skipped,omitempty"`
	Execution  *executionView `json:"execution,omitempty"`
}

func viewOutcome(o *advancement.Outcome) outcomeView {
	return outcomeView{
		ScheduleID: o.ScheduleID,
		State:      string(o.State),
		Reason:     o.Reason,
		Skipped:    o.Skipped,
		Execution:  viewExecution(o.Execution),
	}
}

func (s *Server) evaluateSchedule(c *fiber.Ctx) error {
	out, err := s.deps.Evaluator.EvaluateSchedule(c.UserContext(), c.Params("id"), model.ActorAdmin)
	if err != nil {
		return err
	}
	return c.JSON(viewOutcome(out))
}

func (s *Server) evaluateApplication(c *fiber.Ctx) error {
	outcomes, err := s.deps.Evaluator.EvaluateApplication(c.UserContext(), c.Params("id"), model.ActorAdmin)
	if err != nil && len(outcomes) == 0 {
		return err
	}

	views := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, viewOutcome(o))
	}

	resp := fiber.Map{"outcomes": views}
	if err != nil {
		resp["errors"] = err.Error()
	}
	return c.JSON(resp)
}

func (s *Server) rejectApplication(c *fiber.Ctx) error {
	actor := model.ActorRecruiterManual
	if c.Query("actor") == string(model.ActorAdmin) {
		actor = model.ActorAdmin
	}

	exec, err := s.deps.Rejector.Reject(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	return c.JSON(viewExecution(exec))
}

func (s *Server) stats(c *fiber.Ctx) error {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return errors.NewValidationError("invalid window %q", raw)
		}
		window = d
	}

	now := s.now()
	stats, err := s.deps.Store.Stats(c.UserContext(), now.Add(-window), now.Add(-s.opts.StaleAfter))
	if err != nil {
		return err
	}

	byStatus := map[string]int{}
	for status, n := range stats.ByStatus {
		byStatus[string(status)] = n
	}
	failures := make([]*executionView, 0, len(stats.RecentFailures))
	for i := range stats.RecentFailures {
		failures = append(failures, viewExecution(&stats.RecentFailures[i]))
	}

	return c.JSON(fiber.Map{
		"since":               stats.Since,
		"by_status":           byStatus,
		"pending_evaluations": stats.PendingEvaluations,
		"active_rules":        stats.ActiveRules,
		"recent_failures":     failures,
	})
}
