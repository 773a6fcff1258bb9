package policy

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

// RuleSpec is the YAML form of a rule. Exactly one of Expr or Field is set.
type RuleSpec struct {
	Name    string      `yaml:"name"`
	Version string      `yaml:"version"`
	Reason  string      `yaml:"reason"`
	Action  string      `yaml:"action"`
	Expr    string      `yaml:"expr"`
	Source  string      `yaml:"source"`
	Field   string      `yaml:"field"`
	Op      string      `yaml:"op"`
	Value   interface{} `yaml:"value"`
}

// RuleFile is the root of a rules document.
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// LoadFile reads a YAML rules file.
func LoadFile(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a YAML rules document into an engine.
func Load(r io.Reader) (*Engine, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	var doc RuleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for _, spec := range doc.Rules {
		rule, err := spec.Build()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return NewEngine(rules...)
}

// Build compiles the spec into a Rule.
func (s RuleSpec) Build() (Rule, error) {
	rule := Rule{Name: s.Name, Version: s.Version, Reason: s.Reason, Action: s.Action}
	if rule.Reason == "" {
		rule.Reason = fmt.Sprintf("rule %s violated", s.Name)
	}

	switch {
	case s.Expr != "" && s.Field != "":
		return Rule{}, &RuleError{Rule: s.Name, Err: fmt.Errorf("expr and field are mutually exclusive")}
	case s.Expr != "":
		p, err := NewExprPredicate(s.Expr)
		if err != nil {
			return Rule{}, &RuleError{Rule: s.Name, Err: err}
		}
		rule.Predicate = p
	case s.Field != "":
		p, err := NewFieldPredicate(Source(s.Source), s.Field, Operator(s.Op), s.Value)
		if err != nil {
			return Rule{}, &RuleError{Rule: s.Name, Err: err}
		}
		rule.Predicate = p
	default:
		return Rule{}, &RuleError{Rule: s.Name, Err: fmt.Errorf("one of expr or field is required")}
	}
	return rule, nil
}
