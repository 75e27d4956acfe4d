package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spigell/interview-advancer/internal/rules"
)

func (s *Server) listRules(c *fiber.Ctx) error {
	all, err := s.deps.Store.ListRules(c.UserContext(), c.QueryBool("all", false))
	if err != nil {
		return err
	}

	out := make([]rules.Definition, 0, len(all))
	for i := range all {
		out = append(out, rules.Describe(&all[i]))
	}
	return c.JSON(out)
}

// createRule refuses a second active rule for the same (job, plan, stage)
// and, with a catalog, stages that are not part of the plan.
func (s *Server) createRule(c *fiber.Ctx) error {
	var body rules.Definition
	if err := c.BodyParser(&body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid JSON payload")
	}

	rule, err := body.ToModel()
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	if s.deps.Catalog != nil {
		if err := rules.VerifyStages(ctx, s.deps.Catalog, rule); err != nil {
			return err
		}
	}

	active, err := s.deps.Store.ListRules(ctx, false)
	if err != nil {
		return err
	}
	if dup := rules.ActiveDuplicate(active, rule); dup != nil {
		return jsonError(c, fiber.StatusConflict, "an active rule already governs "+rule.Key(),
			"deactivate rule "+dup.ID+" first")
	}

	if err := s.deps.Store.CreateRule(ctx, rule, s.now()); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(rules.Describe(rule))
}

func (s *Server) deactivateRule(c *fiber.Ctx) error {
	if err := s.deps.Store.DeactivateRule(c.UserContext(), c.Params("id"), s.now()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type stageView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

func (s *Server) planStages(c *fiber.Ctx) error {
	stages, err := s.deps.Catalog.StageOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	out := make([]stageView, 0, len(stages))
	for _, st := range stages {
		out = append(out, stageView{ID: st.ID, Title: st.Title, Order: st.Order})
	}
	return c.JSON(fiber.Map{"plan_id": c.Params("id"), "stages": out})
}
