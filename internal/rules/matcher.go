// Package rules selects the advancement rule that governs a schedule.
package rules

import (
	"context"
	"sort"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/logger"
	"github.com/spigell/interview-advancer/internal/model"

	"go.uber.org/zap"
)

// Repository returns active rules for a plan stage, requirements and actions included.
type Repository interface {
	ListActiveRules(ctx context.Context, planID, stageID string) ([]model.Rule, error)
}

// Match is the outcome of a lookup. Rule is nil when nothing matched.
type Match struct {
	Rule *model.Rule
	// Conflicting holds the ids of other active rules sharing the selected key.
	Conflicting []string
}

func (m Match) Found() bool { return m.Rule != nil }

// Conflict returns a configuration error describing duplicate rules, or nil.
func (m Match) Conflict() error {
	if len(m.Conflicting) == 0 {
		return nil
	}
	return errors.WithDetailf(
		errors.NewConfigurationError("%d active rules share key %s", len(m.Conflicting)+1, m.Rule.Key()),
		"selected %s, ignored %v", m.Rule.ID, m.Conflicting,
	)
}

type Matcher struct {
	repo   Repository
	logger *zap.Logger
}

func NewMatcher(repo Repository, log *zap.Logger) *Matcher {
	return &Matcher{repo: repo, logger: logger.OrNop(log)}
}

// Match picks the rule for (job, plan, stage): a rule for jobID if one exists,
// otherwise a wildcard rule. jobID nil only considers wildcard rules.
func (m *Matcher) Match(ctx context.Context, jobID *string, planID, stageID string) (Match, error) {
	candidates, err := m.repo.ListActiveRules(ctx, planID, stageID)
	if err != nil {
		return Match{}, errors.Wrap(err, "listing active rules")
	}

	var specific, wildcard []model.Rule
	for _, r := range candidates {
		if !r.Active || r.PlanID != planID || r.StageID != stageID {
			continue
		}
		switch {
		case r.JobID == nil:
			wildcard = append(wildcard, r)
		case jobID != nil && *r.JobID == *jobID:
			specific = append(specific, r)
		}
	}

	pool := specific
	if len(pool) == 0 {
		pool = wildcard
	}
	if len(pool) == 0 {
		return Match{}, nil
	}

	match := pick(pool)
	if err := match.Conflict(); err != nil {
		m.logger.Warn("duplicate active rules",
			append(logger.RuleFields(match.Rule.ID, stageID),
				zap.Strings("ignored_rules", match.Conflicting),
				zap.Error(err),
			)...,
		)
	}

	return match, nil
}

// pick orders by creation time, newest first, and id as a last resort.
func pick(pool []model.Rule) Match {
	sorted := make([]model.Rule, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})

	match := Match{Rule: &sorted[0]}
	for _, r := range sorted[1:] {
		match.Conflicting = append(match.Conflicting, r.ID)
	}

	return match
}
