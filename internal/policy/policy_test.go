package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/uaal/internal/intent"
)

func loan(amount any) (intent.CoreIntent, map[string]any) {
	core := intent.CoreIntent{Action: "approve_loan", NormalizedParams: map[string]any{"amount": 50000.0}}
	return core, map[string]any{"amount": amount}
}

func TestDefaultEngine_AllowsWithinLimit(t *testing.T) {
	e := DefaultEngine()
	core, payload := loan(500000)

	res := e.Evaluate(core, payload)
	assert.Equal(t, DecisionAllow, res.Decision)
	assert.Empty(t, res.Violated)
	assert.Equal(t, "3.2.3", e.Version())
}

func TestDefaultEngine_DeniesAboveLimit(t *testing.T) {
	e := DefaultEngine()
	core, payload := loan(5000000)

	res := e.Evaluate(core, payload)
	require.Equal(t, DecisionDeny, res.Decision)
	require.Len(t, res.Violated, 1)
	assert.Equal(t, Violation{
		Name:    "loan_amount_limit",
		Version: "3.2.3",
		Reason:  "Loan amount exceeds authorized threshold",
	}, res.Violated[0])
}

func TestDefaultEngine_IgnoresOtherActions(t *testing.T) {
	res := DefaultEngine().Evaluate(
		intent.CoreIntent{Action: "transfer_funds"},
		map[string]any{"amount": 9e9},
	)
	assert.Equal(t, DecisionAllow, res.Decision)
}

func TestDefaultEngine_MissingFieldIsViolation(t *testing.T) {
	core, _ := loan(nil)
	res := DefaultEngine().Evaluate(core, map[string]any{"borrower": "x"})

	require.Equal(t, DecisionDeny, res.Decision)
	require.Len(t, res.Violated, 1)
	assert.Contains(t, res.Violated[0].Reason, "amount")
}

func TestEngine_NoShortCircuitAndOrdering(t *testing.T) {
	fail := PredicateFunc(func(intent.CoreIntent, map[string]any) (bool, error) { return false, nil })
	pass := PredicateFunc(func(intent.CoreIntent, map[string]any) (bool, error) { return true, nil })

	e, err := NewEngine(
		Rule{Name: "b", Version: "1.0.0", Reason: "b failed", Predicate: fail},
		Rule{Name: "ok", Version: "1.0.0", Predicate: pass},
		Rule{Name: "a", Version: "2.1.0", Reason: "a failed", Predicate: fail},
	)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", e.Version())

	res := e.Evaluate(intent.CoreIntent{Action: "x"}, map[string]any{})
	require.Len(t, res.Violated, 2)
	assert.Equal(t, "b", res.Violated[0].Name)
	assert.Equal(t, "a", res.Violated[1].Name)
}

func TestEngine_PanicAndErrorBecomeViolations(t *testing.T) {
	boom := PredicateFunc(func(intent.CoreIntent, map[string]any) (bool, error) { panic("boom") })
	broken := PredicateFunc(func(intent.CoreIntent, map[string]any) (bool, error) {
		return true, errors.New("lookup failed")
	})

	e, err := NewEngine(
		Rule{Name: "panics", Version: "1.0.0", Predicate: boom},
		Rule{Name: "errors", Version: "1.0.0", Predicate: broken},
	)
	require.NoError(t, err)

	res := e.Evaluate(intent.CoreIntent{}, nil)
	require.Len(t, res.Violated, 2)
	assert.Contains(t, res.Violated[0].Reason, "panic: boom")
	assert.Contains(t, res.Violated[1].Reason, "lookup failed")
}

func TestNewEngine_RejectsBadRules(t *testing.T) {
	pass := PredicateFunc(func(intent.CoreIntent, map[string]any) (bool, error) { return true, nil })

	_, err := NewEngine(Rule{Name: "r", Version: "not-a-version", Predicate: pass})
	var re *RuleError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "r", re.Rule)

	_, err = NewEngine(
		Rule{Name: "r", Version: "1.0.0", Predicate: pass},
		Rule{Name: "r", Version: "1.0.1", Predicate: pass},
	)
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewEngine(Rule{Name: "r", Version: "1.0.0"})
	assert.ErrorContains(t, err, "predicate")
}

func TestNewEngine_EmptyUsesDefaultVersion(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	assert.Equal(t, DefaultRuleSetVersion, e.Version())
	assert.Equal(t, DecisionAllow, e.Evaluate(intent.CoreIntent{}, nil).Decision)
}

func TestFieldPredicate_Operators(t *testing.T) {
	core := intent.CoreIntent{Action: "approve_loan", NormalizedParams: map[string]any{"amount": 100.0, "borrower": "acme"}}
	payload := map[string]any{"amount": 100, "borrower": "acme"}

	tests := []struct {
		name   string
		source Source
		field  string
		op     Operator
		value  any
		want   bool
	}{
		{"lt false", SourcePayload, "amount", OpLT, 100, false},
		{"lte true", SourcePayload, "amount", OpLTE, 100, true},
		{"gt true", SourcePayload, "amount", OpGT, 99.5, true},
		{"gte true", SourceIntent, "amount", OpGTE, 100, true},
		{"eq number across types", SourcePayload, "amount", OpEQ, 100.0, true},
		{"eq string", SourceIntent, "borrower", OpEQ, "acme", true},
		{"ne string", SourcePayload, "borrower", OpNE, "other", true},
		{"present", SourcePayload, "borrower", OpPresent, nil, true},
		{"absent", SourcePayload, "recipient", OpAbsent, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFieldPredicate(tt.source, tt.field, tt.op, tt.value)
			require.NoError(t, err)
			got, err := p.Check(core, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldPredicate_Errors(t *testing.T) {
	_, err := NewFieldPredicate(SourcePayload, "amount", OpLT, "ten")
	assert.Error(t, err)
	_, err = NewFieldPredicate(SourcePayload, "amount", "between", 1)
	assert.Error(t, err)
	_, err = NewFieldPredicate("header", "amount", OpLT, 1)
	assert.Error(t, err)

	p, err := NewFieldPredicate("", "amount", OpLT, 10)
	require.NoError(t, err)
	_, err = p.Check(intent.CoreIntent{}, map[string]any{"amount": "lots"})
	assert.ErrorContains(t, err, "not a number")
}

func TestExprPredicate(t *testing.T) {
	p, err := NewExprPredicate(`action != "approve_loan" || payload.amount <= intent.amount * 2.0`)
	require.NoError(t, err)

	core := intent.CoreIntent{Action: "approve_loan", NormalizedParams: map[string]any{"amount": 50000.0}}

	ok, err := p.Check(core, map[string]any{"amount": 90000})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Check(core, map[string]any{"amount": 500000})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Check(core, map[string]any{})
	assert.Error(t, err, "missing key is an evaluation error")
}

func TestExprPredicate_RejectsNonBoolean(t *testing.T) {
	_, err := NewExprPredicate(`"amount"`)
	assert.Error(t, err)
	_, err = NewExprPredicate(`payload.amount <=`)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	doc := `
rules:
  - name: loan_amount_limit
    version: 3.2.3
    action: approve_loan
    reason: Loan amount exceeds authorized threshold
    field: amount
    op: lte
    value: 500000
  - name: recipient_matches
    version: 3.3.0
    action: transfer_funds
    reason: Recipient differs from the prompt
    expr: payload.recipient == intent.recipient
`
	e, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "3.3.0", e.Version())
	require.Len(t, e.Rules(), 2)

	res := e.Evaluate(
		intent.CoreIntent{Action: "transfer_funds", NormalizedParams: map[string]any{"recipient": "alice"}},
		map[string]any{"recipient": "mallory"},
	)
	require.Len(t, res.Violated, 1)
	assert.Equal(t, "recipient_matches", res.Violated[0].Name)
	assert.Equal(t, "Recipient differs from the prompt", res.Violated[0].Reason)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(strings.NewReader("rules:\n  - name: x\n    version: 1.0.0\n"))
	var re *RuleError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "x", re.Rule)

	_, err = Load(strings.NewReader("rules:\n  - name: x\n    version: 1.0.0\n    expr: 'true'\n    field: amount\n"))
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = Load(strings.NewReader("rules: [\n"))
	assert.Error(t, err)
}
