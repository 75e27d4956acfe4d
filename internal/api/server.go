// Package api exposes the webhook receiver, the admin surface and health
// checks over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/advancement"
	"github.com/spigell/interview-advancer/internal/ingest"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/model"
	"github.com/spigell/interview-advancer/internal/rules"
)

type Store interface {
	Ping(ctx context.Context) error
	SaveWebhookPayload(ctx context.Context, action, scheduleID string, payload []byte, receivedAt time.Time) error
	Stats(ctx context.Context, since, staleCutoff time.Time) (*model.Stats, error)
	ListRules(ctx context.Context, all bool) ([]model.Rule, error)
	CreateRule(ctx context.Context, r *model.Rule, now time.Time) error
	DeactivateRule(ctx context.Context, id string, now time.Time) error
}

type Ingestor interface {
	Ingest(ctx context.Context, ev *ingest.Event) (ingest.Result, error)
}

type Evaluator interface {
	EvaluateSchedule(ctx context.Context, scheduleID string, actor model.Actor) (*advancement.Outcome, error)
	EvaluateApplication(ctx context.Context, applicationID string, actor model.Actor) ([]*advancement.Outcome, error)
}

type Rejector interface {
	Reject(ctx context.Context, applicationID string, actor model.Actor) (*model.Execution, error)
}

type Deps struct {
	Store     Store
	Ingestor  Ingestor
	Evaluator Evaluator
	Rejector  Rejector
	// Catalog, when set, checks new rules against the ATS plan and serves
	// plan stage lookups.
	Catalog rules.Catalog
}

type Options struct {
	// WebhookSecret enables signature verification when set.
	WebhookSecret string
	// AdminToken enables the admin routes when set.
	AdminToken string
	StaleAfter time.Duration
}

type Server struct {
	app    *fiber.App
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Deps, opts Options, log *zap.Logger) *Server {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 7 * 24 * time.Hour
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.OrNop(log),
		now:    time.Now,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "interview-advancer",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	s.app.Use(recover.New(), requestid.New(), s.requestLog)
	s.register()

	return s
}

func (s *Server) register() {
	s.app.Get("/health", s.health)
	s.app.Post("/webhooks/ashby", s.webhook)

	if s.opts.AdminToken == "" {
		s.logger.Warn("admin token not configured, admin routes disabled")
		return
	}

	admin := s.app.Group("/admin", s.requireAdmin)
	admin.Post("/evaluate/schedules/:id", s.evaluateSchedule)
	admin.Post("/evaluate/applications/:id", s.evaluateApplication)
	admin.Post("/applications/:id/reject", s.rejectApplication)
	admin.Get("/stats", s.stats)
	admin.Get("/rules", s.listRules)
	admin.Post("/rules", s.createRule)
	admin.Delete("/rules/:id", s.deactivateRule)

	if s.deps.Catalog != nil {
		admin.Get("/plans/:id/stages", s.planStages)
	}
}

// App is the underlying fiber app, exposed for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLog(c *fiber.Ctx) error {
	started := time.Now()

	// Render the error here so that the logged status is the one sent.
	if err := c.Next(); err != nil {
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}

	s.logger.Debug("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("took", time.Since(started)),
	)

	return nil
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "not_ready",
			"details": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
