package domain

import (
	"context"
	"fmt"
)

// RuleView is the read side a rule sees: the transaction's pending state.
type RuleView = TransactionView

// Rule inspects the changes of one transaction before it commits.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs registered rules in registration order.
type RulesEngine struct {
	rules []Rule
}

func NewRulesEngine(rules ...Rule) *RulesEngine {
	return &RulesEngine{rules: rules}
}

func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Names lists the registered rules.
func (e *RulesEngine) Names() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate merges every rule's violations. The first rule error stops
// evaluation and is returned with the rule's name.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}
