package validator_test

import (
	"testing"
	"time"

	"github.com/aretw0/journeys/internal/validator"
	"github.com/aretw0/journeys/pkg/dsl"
	"github.com/stretchr/testify/assert"
)

func TestLint_CleanJourney(t *testing.T) {
	b := dsl.New("j", "J")
	b.Message("a", "hi").Then("c")
	b.If("c", "patient.age", ">", 65).Then("a")

	assert.Empty(t, validator.Lint(b.MustBuild()), "a cycle with an exit is fine")
}

func TestLint_Unreachable(t *testing.T) {
	b := dsl.New("j", "J")
	b.Message("a", "hi")
	b.Message("orphan", "never sent").Then("a")

	assert.Equal(t, []string{`node "orphan" is unreachable from "a"`}, validator.Lint(b.MustBuild()))
}

func TestLint_EndlessLoop(t *testing.T) {
	b := dsl.New("j", "J")
	b.Message("a", "hi").Then("wait")
	b.Delay("wait", time.Hour).Then("a")

	assert.Equal(t, []string{
		`node "a" never reaches the end of the journey`,
		`node "wait" never reaches the end of the journey`,
	}, validator.Lint(b.MustBuild()))
}
