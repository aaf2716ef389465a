package core

import (
	"cicdcopilot/pkg/domain"
	"context"
	"fmt"
)

const shareRecipientRuleName = "share_recipient"

// NewShareRecipientRule returns the in-transaction rule that blocks a user
// from sharing a pipeline with themselves.
func NewShareRecipientRule() domain.Rule {
	return shareRecipientRule{}
}

type shareRecipientRule struct{}

func (shareRecipientRule) Name() string { return shareRecipientRuleName }

func (shareRecipientRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySharedPipeline || change.Action != domain.ActionCreate {
			continue
		}
		share, ok := change.After.(domain.SharedPipeline)
		if !ok || share.SharedByUserID != share.SharedWithUserID {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     shareRecipientRuleName,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("pipeline %d cannot be shared with its owner (user %d)", share.PipelineID, share.SharedByUserID),
			Entity:   domain.EntitySharedPipeline,
			EntityID: share.ID,
		})
	}
	return res, nil
}
