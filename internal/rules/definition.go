package rules

import (
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
	"github.com/spigell/interview-advancer/internal/scoring"
)

// Definition is the external shape of a rule, shared by the admin API (JSON)
// and rule files (YAML).
type Definition struct {
	ID            string                  `json:"id,omitempty" yaml:"id,omitempty"`
	JobID         *string                 `json:"job_id" yaml:"job_id,omitempty"`
	PlanID        string                  `json:"plan_id" yaml:"plan_id"`
	StageID       string                  `json:"stage_id" yaml:"stage_id"`
	TargetStageID *string                 `json:"target_stage_id" yaml:"target_stage_id,omitempty"`
	Active        bool                    `json:"active" yaml:"-"`
	CreatedAt     *time.Time              `json:"created_at,omitempty" yaml:"-"`
	Requirements  []RequirementDefinition `json:"requirements" yaml:"requirements"`
	Actions       []ActionDefinition      `json:"actions" yaml:"actions,omitempty"`
}

type RequirementDefinition struct {
	ID          string `json:"id,omitempty" yaml:"-"`
	InterviewID string `json:"interview_id" yaml:"interview_id"`
	FieldPath   string `json:"field_path" yaml:"field_path"`
	Operator    string `json:"operator" yaml:"operator"`
	Threshold   string `json:"threshold" yaml:"threshold"`
	// Required defaults to true.
	Required *bool `json:"required,omitempty" yaml:"required,omitempty"`
}

type ActionDefinition struct {
	ID    string `json:"id,omitempty" yaml:"-"`
	Kind  string `json:"kind" yaml:"kind"`
	Order int    `json:"order" yaml:"order"`
}

func Describe(r *model.Rule) Definition {
	created := r.CreatedAt
	out := Definition{
		ID:            r.ID,
		JobID:         r.JobID,
		PlanID:        r.PlanID,
		StageID:       r.StageID,
		TargetStageID: r.TargetStageID,
		Active:        r.Active,
		CreatedAt:     &created,
		Requirements:  make([]RequirementDefinition, 0, len(r.Requirements)),
		Actions:       make([]ActionDefinition, 0, len(r.Actions)),
	}
	for _, req := range r.Requirements {
		required := req.Required
		out.Requirements = append(out.Requirements, RequirementDefinition{
			ID:          req.ID,
			InterviewID: req.InterviewID,
			FieldPath:   req.FieldPath,
			Operator:    req.Operator,
			Threshold:   req.Threshold,
			Required:    &required,
		})
	}
	for _, a := range r.Actions {
		out.Actions = append(out.Actions, ActionDefinition{ID: a.ID, Kind: string(a.Kind), Order: a.Order})
	}
	return out
}

// ToModel validates d and returns a new active rule. Blank optional ids
// count as unset.
func (d *Definition) ToModel() (*model.Rule, error) {
	if strings.TrimSpace(d.PlanID) == "" || strings.TrimSpace(d.StageID) == "" {
		return nil, errors.NewValidationError("plan_id and stage_id are required")
	}
	if len(d.Requirements) == 0 {
		return nil, errors.NewValidationError("at least one requirement is required")
	}

	r := &model.Rule{
		JobID:         blankToNil(d.JobID),
		PlanID:        strings.TrimSpace(d.PlanID),
		StageID:       strings.TrimSpace(d.StageID),
		TargetStageID: blankToNil(d.TargetStageID),
		Active:        true,
	}

	for i, req := range d.Requirements {
		if strings.TrimSpace(req.InterviewID) == "" || strings.TrimSpace(req.FieldPath) == "" {
			return nil, errors.NewValidationError("requirement %d needs interview_id and field_path", i)
		}
		if _, err := scoring.ParseOperator(req.Operator); err != nil {
			return nil, errors.NewValidationError("requirement %d: %v", i, err)
		}
		required := true
		if req.Required != nil {
			required = *req.Required
		}
		r.Requirements = append(r.Requirements, model.Requirement{
			InterviewID: strings.TrimSpace(req.InterviewID),
			FieldPath:   strings.TrimSpace(req.FieldPath),
			Operator:    strings.TrimSpace(req.Operator),
			Threshold:   strings.TrimSpace(req.Threshold),
			Required:    required,
		})
	}

	for i, a := range d.Actions {
		kind, err := model.ParseActionKind(a.Kind)
		if err != nil {
			return nil, errors.NewValidationError("action %d: %v", i, err)
		}
		r.Actions = append(r.Actions, model.Action{Kind: kind, Order: a.Order})
	}

	return r, nil
}

// ActiveDuplicate returns the active rule that already holds r's key, if any.
func ActiveDuplicate(active []model.Rule, r *model.Rule) *model.Rule {
	for i := range active {
		if active[i].Active && active[i].Key() == r.Key() {
			return &active[i]
		}
	}
	return nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

type definitionFile struct {
	Rules []Definition `yaml:"rules"`
}

// ParseDefinitions reads a YAML rule file with a top-level "rules" list.
// Unknown keys are rejected so that typos do not silently drop a requirement.
func ParseDefinitions(r io.Reader) ([]Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f definitionFile
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding rule file"), errors.ErrValidation)
	}
	if len(f.Rules) == 0 {
		return nil, errors.NewValidationError("rule file defines no rules")
	}
	return f.Rules, nil
}
