package rules

import (
	"context"
	"testing"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

type catalogStub struct {
	stages []model.Stage
	err    error
}

func (c catalogStub) StageOrder(context.Context, string) ([]model.Stage, error) {
	return c.stages, c.err
}

func TestVerifyStages(t *testing.T) {
	plan := catalogStub{stages: []model.Stage{{ID: "screen"}, {ID: "onsite"}, {ID: "offer"}}}

	tests := []struct {
		name    string
		catalog catalogStub
		stage   string
		target  *string
		valid   bool
	}{
		{name: "next stage exists", catalog: plan, stage: "screen", valid: true},
		{name: "explicit target", catalog: plan, stage: "offer", target: ptr("screen"), valid: true},
		{name: "unknown stage", catalog: plan, stage: "typo"},
		{name: "unknown target", catalog: plan, stage: "screen", target: ptr("gone")},
		{name: "last stage without target", catalog: plan, stage: "offer"},
		{name: "empty plan", catalog: catalogStub{}, stage: "screen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rule("r", nil, 0)
			r.StageID = tt.stage
			r.TargetStageID = tt.target

			err := VerifyStages(context.Background(), tt.catalog, &r)
			if tt.valid {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestVerifyStagesPassesCatalogFailures(t *testing.T) {
	down := catalogStub{err: errors.NewExternalError(errors.New("502"), true, "listing stages")}
	r := rule("r", nil, 0)

	err := VerifyStages(context.Background(), down, &r)
	if !errors.IsRetryable(err) || errors.IsValidation(err) {
		t.Fatalf("expected the retryable catalog error, got %v", err)
	}
}
