package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/ocx/uaal/internal/intent"
)

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
})

// ExprPredicate is a CEL expression over action, intent and payload, for
// rules that a single field comparison cannot express.
type ExprPredicate struct {
	source string
	prg    cel.Program
}

// NewExprPredicate compiles expr. It must evaluate to a bool.
func NewExprPredicate(expr string) (*ExprPredicate, error) {
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must be boolean, got %s", t)
	}

	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &ExprPredicate{source: expr, prg: prg}, nil
}

// String returns the expression source.
func (p *ExprPredicate) String() string { return p.source }

func (p *ExprPredicate) Check(core intent.CoreIntent, payload map[string]any) (bool, error) {
	params := core.NormalizedParams
	if params == nil {
		params = map[string]any{}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	out, _, err := p.prg.Eval(map[string]any{
		"action":  core.Action,
		"intent":  params,
		"payload": payload,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return allowed, nil
}
