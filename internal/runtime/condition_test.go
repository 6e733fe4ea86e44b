package runtime_test

import (
	"testing"

	"github.com/aretw0/journeys/internal/runtime"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	patient := domain.PatientContext{
		ID:        "p-1",
		Age:       60,
		Language:  domain.LanguageSpanish,
		Condition: domain.ProcedureKneeReplacement,
	}

	tests := []struct {
		name      string
		cond      domain.Condition
		evaluated any
		outcome   bool
	}{
		{"greater true", domain.Condition{Field: "patient.age", Operator: ">", Value: 50}, float64(60), true},
		{"greater false", domain.Condition{Field: "patient.age", Operator: ">", Value: 60}, float64(60), false},
		{"less true", domain.Condition{Field: "age", Operator: "<", Value: 61.5}, float64(60), true},
		{"single equals", domain.Condition{Field: "patient.age", Operator: "=", Value: 60}, float64(60), true},
		{"double equals string", domain.Condition{Field: "patient.language", Operator: "==", Value: "es"}, "es", true},
		{"not equals", domain.Condition{Field: "patient.condition", Operator: "!=", Value: "hip_replacement"}, "knee_replacement", true},
		{"string ordering", domain.Condition{Field: "patient.id", Operator: "<", Value: "p-2"}, "p-1", true},
		{"mismatched equality", domain.Condition{Field: "patient.age", Operator: "==", Value: "60"}, float64(60), false},
		{"mismatched inequality", domain.Condition{Field: "patient.age", Operator: "!=", Value: "60"}, float64(60), true},
		{"mismatched ordering", domain.Condition{Field: "patient.language", Operator: ">", Value: 1}, "es", false},
		{"missing field equality", domain.Condition{Field: "patient.weight", Operator: "==", Value: 80}, nil, false},
		{"missing field inequality", domain.Condition{Field: "patient.weight", Operator: "!=", Value: 80}, nil, true},
		{"missing nested field", domain.Condition{Field: "patient.age.years", Operator: ">", Value: 1}, nil, false},
		{"bool ordering", domain.Condition{Field: "patient.flag", Operator: "<", Value: true}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluated, outcome, err := runtime.Evaluate(tt.cond, patient)
			require.NoError(t, err)
			assert.Equal(t, tt.evaluated, evaluated)
			assert.Equal(t, tt.outcome, outcome)
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	patient := domain.PatientContext{ID: "p", Age: 70, Language: domain.LanguageEnglish, Condition: domain.ProcedureHipReplacement}
	cond := domain.Condition{Field: "patient.age", Operator: ">", Value: 65}

	for i := 0; i < 10; i++ {
		_, outcome, err := runtime.Evaluate(cond, patient)
		require.NoError(t, err)
		assert.True(t, outcome)
	}
}

func TestEvaluate_UnsupportedOperator(t *testing.T) {
	for _, op := range []string{">=", "<=", "contains", ""} {
		_, _, err := runtime.Evaluate(domain.Condition{Field: "age", Operator: op, Value: 1}, domain.PatientContext{})
		assert.ErrorIs(t, err, domain.ErrUnsupportedOperator, op)
	}
}
