package core

import (
	"cicdcopilot/pkg/domain"
	"context"
	"fmt"
)

const stepPositionRuleName = "step_positions"

// NewStepPositionRule returns a warning rule flagging pipelines whose steps
// share a position, which leaves their execution order ambiguous.
func NewStepPositionRule() domain.Rule {
	return stepPositionRule{}
}

type stepPositionRule struct{}

func (stepPositionRule) Name() string { return stepPositionRuleName }

func (stepPositionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[int64]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityPipelineStep || change.Action != domain.ActionCreate {
			continue
		}
		if step, ok := change.After.(domain.PipelineStep); ok {
			touched[step.PipelineID] = struct{}{}
		}
	}

	res := domain.Result{}
	for pipelineID := range touched {
		seen := make(map[int]int64)
		for _, step := range view.ListPipelineSteps(pipelineID) {
			first, dup := seen[step.Position]
			if !dup {
				seen[step.Position] = step.ID
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     stepPositionRuleName,
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("pipeline %d: steps %d and %d share position %d", pipelineID, first, step.ID, step.Position),
				Entity:   domain.EntityPipelineStep,
				EntityID: step.ID,
			})
		}
	}
	return res, nil
}
