package domain

import "fmt"

// Language of the messages sent to a patient.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
)

// Procedure is the clinical condition a patient is followed for.
type Procedure string

const (
	ProcedureHipReplacement  Procedure = "hip_replacement"
	ProcedureKneeReplacement Procedure = "knee_replacement"
)

// PatientContext is the subject a run is applied to. It is never mutated by the engine.
type PatientContext struct {
	ID        string    `json:"id" mapstructure:"id"`
	Age       float64   `json:"age" mapstructure:"age"`
	Language  Language  `json:"language" mapstructure:"language"`
	Condition Procedure `json:"condition" mapstructure:"condition"`
}

// Validate checks the patient against the accepted enumerations.
func (p PatientContext) Validate() error {
	var problems []string
	if p.ID == "" {
		problems = append(problems, "id is required")
	}
	if p.Age < 0 {
		problems = append(problems, "age must be non-negative")
	}
	switch p.Language {
	case LanguageEnglish, LanguageSpanish:
	default:
		problems = append(problems, fmt.Sprintf("unsupported language %q", p.Language))
	}
	switch p.Condition {
	case ProcedureHipReplacement, ProcedureKneeReplacement:
	default:
		problems = append(problems, fmt.Sprintf("unsupported condition %q", p.Condition))
	}
	if len(problems) > 0 {
		return &ValidationError{Subject: "patient", Problems: problems}
	}
	return nil
}
