package core

import "cicdcopilot/pkg/domain"

// NewDefaultRulesEngine returns an engine carrying the share recipient and
// step position rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine(NewShareRecipientRule(), NewStepPositionRule())
}
