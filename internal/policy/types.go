// Package policy evaluates core intents and payloads against an ordered,
// versioned set of declarative rules.
package policy

import (
	"fmt"

	"github.com/ocx/uaal/internal/intent"
)

// Decision is the policy verdict.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
)

// Predicate decides whether a rule holds. An error counts as a violation.
type Predicate interface {
	Check(core intent.CoreIntent, payload map[string]any) (bool, error)
}

// PredicateFunc adapts a function to Predicate, for rules that cannot be
// expressed as data.
type PredicateFunc func(core intent.CoreIntent, payload map[string]any) (bool, error)

func (f PredicateFunc) Check(core intent.CoreIntent, payload map[string]any) (bool, error) {
	return f(core, payload)
}

// Rule is a named, versioned predicate. When Action is set the rule only
// applies to that tool action and holds trivially for every other action.
type Rule struct {
	Name      string
	Version   string
	Reason    string
	Action    string
	Predicate Predicate
}

// Violation describes a rule that did not hold.
type Violation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Reason  string `json:"reason"`
}

// Result is the outcome of evaluating every rule.
type Result struct {
	Decision Decision    `json:"decision"`
	Violated []Violation `json:"violatedRules"`
}

// RuleError reports a rule that could not be loaded.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("policy rule %q: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }
