package runtime

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mitchellh/mapstructure"
)

// ConditionEvaluator evaluates a node condition against a patient.
// It returns the resolved field value and the outcome.
type ConditionEvaluator func(cond domain.Condition, patient domain.PatientContext) (evaluated any, outcome bool, err error)

const fieldPrefix = "patient."

// comparison is a compiled operator program over the variables lhs and rhs.
type comparison struct {
	program  *vm.Program
	ordering bool
	negated  bool
}

var comparisons = mustCompile(map[string]string{
	">":  "lhs > rhs",
	"<":  "lhs < rhs",
	"=":  "lhs == rhs",
	"==": "lhs == rhs",
	"!=": "lhs != rhs",
})

func mustCompile(sources map[string]string) map[string]comparison {
	out := make(map[string]comparison, len(sources))
	for op, src := range sources {
		program, err := expr.Compile(src, expr.AsBool())
		if err != nil {
			panic(fmt.Sprintf("compile operator %q: %v", op, err))
		}
		out[op] = comparison{
			program:  program,
			ordering: op == ">" || op == "<",
			negated:  op == "!=",
		}
	}
	return out
}

// Evaluate is the default ConditionEvaluator.
//
// The field is a dotted path into the patient context; a leading "patient." is ignored.
// Values are compared without coercion: equality between different kinds is false,
// "!=" between different kinds is true and ordering between different kinds is false.
// Every Go numeric kind counts as one kind. A missing field evaluates to nil.
func Evaluate(cond domain.Condition, patient domain.PatientContext) (any, bool, error) {
	cmp, ok := comparisons[cond.Operator]
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", domain.ErrUnsupportedOperator, cond.Operator)
	}

	fields, err := patientFields(patient)
	if err != nil {
		return nil, false, err
	}
	lhs := normalize(lookup(fields, cond.Field))
	rhs := normalize(cond.Value)

	lk, rk := kindOf(lhs), kindOf(rhs)
	if lk != rk {
		return lhs, cmp.negated, nil
	}
	if cmp.ordering && lk != kindNumber && lk != kindString {
		return lhs, false, nil
	}

	out, err := expr.Run(cmp.program, map[string]any{"lhs": lhs, "rhs": rhs})
	if err != nil {
		return lhs, false, fmt.Errorf("evaluate %s %s %v: %w", cond.Field, cond.Operator, cond.Value, err)
	}
	return lhs, out.(bool), nil
}

// patientFields flattens the patient into a map keyed by its wire field names.
func patientFields(patient domain.PatientContext) (map[string]any, error) {
	fields := make(map[string]any)
	if err := mapstructure.Decode(patient, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode patient context: %w", err)
	}
	return fields, nil
}

func lookup(fields map[string]any, path string) any {
	path = strings.TrimPrefix(path, fieldPrefix)
	var current any = fields
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = m[segment]; !ok {
			return nil
		}
	}
	return current
}

type valueKind int

const (
	kindNil valueKind = iota
	kindNumber
	kindString
	kindBool
	kindOther
)

// normalize strips named types so comparisons see plain strings, float64 and bool.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func kindOf(v any) valueKind {
	switch v.(type) {
	case nil:
		return kindNil
	case float64:
		return kindNumber
	case string:
		return kindString
	case bool:
		return kindBool
	}
	return kindOther
}
