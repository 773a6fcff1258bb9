package policy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ocx/uaal/internal/intent"
)

// DefaultRuleSetVersion is reported when an engine has no rules.
const DefaultRuleSetVersion = "3.2.3"

// LoanAmountLimit caps approve_loan amounts in the default rule set.
const LoanAmountLimit = 500000

// Engine evaluates an ordered set of rules. Rules never short-circuit: every
// violation is reported in declaration order.
type Engine struct {
	rules   []Rule
	version string
}

// NewEngine validates every rule version as semver. The engine version is
// the highest rule version.
func NewEngine(rules ...Rule) (*Engine, error) {
	var highest *semver.Version
	seen := make(map[string]bool, len(rules))

	for _, r := range rules {
		if r.Name == "" {
			return nil, &RuleError{Rule: "<unnamed>", Err: fmt.Errorf("name is required")}
		}
		if seen[r.Name] {
			return nil, &RuleError{Rule: r.Name, Err: fmt.Errorf("duplicate rule name")}
		}
		seen[r.Name] = true

		if r.Predicate == nil {
			return nil, &RuleError{Rule: r.Name, Err: fmt.Errorf("predicate is required")}
		}
		v, err := semver.NewVersion(r.Version)
		if err != nil {
			return nil, &RuleError{Rule: r.Name, Err: fmt.Errorf("invalid version %q: %w", r.Version, err)}
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}

	version := DefaultRuleSetVersion
	if highest != nil {
		version = highest.String()
	}
	return &Engine{rules: rules, version: version}, nil
}

// DefaultEngine holds the loan amount limit rule.
func DefaultEngine() *Engine {
	pred, err := NewFieldPredicate(SourcePayload, "amount", OpLTE, LoanAmountLimit)
	if err != nil {
		panic(err)
	}
	e, err := NewEngine(Rule{
		Name:      "loan_amount_limit",
		Version:   "3.2.3",
		Reason:    "Loan amount exceeds authorized threshold",
		Action:    "approve_loan",
		Predicate: pred,
	})
	if err != nil {
		panic(err)
	}
	return e
}

// Version returns the rule-set version.
func (e *Engine) Version() string { return e.version }

// Rules returns a copy of the configured rules.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule. A predicate that errors or panics is a violation
// whose reason carries the failure.
func (e *Engine) Evaluate(core intent.CoreIntent, payload map[string]any) Result {
	res := Result{Decision: DecisionAllow, Violated: []Violation{}}

	for _, r := range e.rules {
		if r.Action != "" && r.Action != core.Action {
			continue
		}
		ok, err := check(r.Predicate, core, payload)
		if ok && err == nil {
			continue
		}
		reason := r.Reason
		if err != nil {
			reason = fmt.Sprintf("rule evaluation failed: %v", err)
		}
		res.Violated = append(res.Violated, Violation{Name: r.Name, Version: r.Version, Reason: reason})
	}

	if len(res.Violated) > 0 {
		res.Decision = DecisionDeny
	}
	return res
}

func check(p Predicate, core intent.CoreIntent, payload map[string]any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Check(core, payload)
}
