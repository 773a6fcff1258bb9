package policy

import (
	"fmt"
	"reflect"

	"github.com/ocx/uaal/internal/intent"
)

// Operator is a comparison used by field predicates.
type Operator string

const (
	OpLT      Operator = "lt"
	OpLTE     Operator = "lte"
	OpGT      Operator = "gt"
	OpGTE     Operator = "gte"
	OpEQ      Operator = "eq"
	OpNE      Operator = "ne"
	OpPresent Operator = "present"
	OpAbsent  Operator = "absent"
)

// Source selects which side of the comparison a field predicate reads.
type Source string

const (
	SourcePayload Source = "payload"
	SourceIntent  Source = "intent"
)

// FieldPredicate compares one field against a constant. It is the data form
// of a rule: field, operator, threshold.
type FieldPredicate struct {
	Source Source
	Field  string
	Op     Operator
	Value  any
}

// NewFieldPredicate validates the operator and operand.
func NewFieldPredicate(source Source, field string, op Operator, value any) (*FieldPredicate, error) {
	if source == "" {
		source = SourcePayload
	}
	if source != SourcePayload && source != SourceIntent {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	if field == "" {
		return nil, fmt.Errorf("field is required")
	}
	switch op {
	case OpLT, OpLTE, OpGT, OpGTE:
		if _, ok := intent.Number(value); !ok {
			return nil, fmt.Errorf("operator %s needs a numeric value, got %T", op, value)
		}
	case OpEQ, OpNE, OpPresent, OpAbsent:
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	return &FieldPredicate{Source: source, Field: field, Op: op, Value: value}, nil
}

func (p *FieldPredicate) Check(core intent.CoreIntent, payload map[string]any) (bool, error) {
	values := payload
	if p.Source == SourceIntent {
		values = core.NormalizedParams
	}
	actual, present := values[p.Field]

	switch p.Op {
	case OpPresent:
		return present, nil
	case OpAbsent:
		return !present, nil
	}

	if !present {
		return false, fmt.Errorf("field %q missing from %s", p.Field, p.Source)
	}

	switch p.Op {
	case OpEQ:
		return equalValues(actual, p.Value), nil
	case OpNE:
		return !equalValues(actual, p.Value), nil
	}

	got, ok := intent.Number(actual)
	if !ok {
		return false, fmt.Errorf("field %q is %s, not a number", p.Field, intent.Kind(actual))
	}
	limit, _ := intent.Number(p.Value)

	switch p.Op {
	case OpLT:
		return got < limit, nil
	case OpLTE:
		return got <= limit, nil
	case OpGT:
		return got > limit, nil
	case OpGTE:
		return got >= limit, nil
	}
	return false, fmt.Errorf("unknown operator %q", p.Op)
}

func equalValues(a, b any) bool {
	x, xok := intent.Number(a)
	y, yok := intent.Number(b)
	if xok && yok {
		return x == y
	}
	return reflect.DeepEqual(a, b)
}
