package dsl_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_PostOpFlow(t *testing.T) {
	b := dsl.New("post-op", "Post-op")
	b.Message("welcome", "Welcome").Then("wait")
	b.Delay("wait", 90*time.Second).Then("check")
	b.If("check", "patient.age", ">", 65).Then("senior").Else("standard")
	b.Message("senior", "A nurse will call")
	b.Message("standard", "Keep walking")

	j, err := b.Build()
	require.NoError(t, err)

	want := &domain.Journey{
		ID:          "post-op",
		Name:        "Post-op",
		StartNodeID: "welcome",
		Nodes: []domain.Node{
			&domain.MessageNode{ID: "welcome", Message: "Welcome", Next: "wait"},
			&domain.DelayNode{ID: "wait", DurationSeconds: 90, Next: "check"},
			&domain.ConditionalNode{
				ID:        "check",
				Condition: domain.Condition{Field: "patient.age", Operator: ">", Value: float64(65)},
				OnTrue:    "senior",
				OnFalse:   "standard",
			},
			&domain.MessageNode{ID: "senior", Message: "A nurse will call"},
			&domain.MessageNode{ID: "standard", Message: "Keep walking"},
		},
	}
	assert.Equal(t, want, j)
}

func TestBuilder_MatchesDecodedJSON(t *testing.T) {
	b := dsl.New("j", "J").Start("check")
	b.Message("bye", "Bye")
	b.If("check", "patient.age", "<", 18).Then("bye")

	built, err := b.Build()
	require.NoError(t, err)

	data, err := json.Marshal(built)
	require.NoError(t, err)
	var decoded domain.Journey
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, built, &decoded)
}

func TestBuilder_AddingTwiceReturnsSameNode(t *testing.T) {
	b := dsl.New("j", "J")
	b.Message("m", "first").Then("end")
	b.Message("m", "ignored").Terminal()
	b.Message("end", "bye")

	j, err := b.Build()
	require.NoError(t, err)
	require.Len(t, j.Nodes, 2)
	assert.Equal(t, &domain.MessageNode{ID: "m", Message: "first"}, j.Nodes[0])
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *dsl.Builder)
	}{
		{"empty", func(b *dsl.Builder) {}},
		{"unknown target", func(b *dsl.Builder) {
			b.Message("m", "hi").Then("ghost")
		}},
		{"else on message", func(b *dsl.Builder) {
			b.Message("m", "hi").Else("m")
		}},
		{"redefined kind", func(b *dsl.Builder) {
			b.Message("m", "hi")
			b.Delay("m", time.Second)
		}},
		{"unsupported operator", func(b *dsl.Builder) {
			b.If("c", "patient.age", ">=", 1)
		}},
		{"negative delay", func(b *dsl.Builder) {
			b.Delay("d", -time.Second)
		}},
		{"missing start", func(b *dsl.Builder) {
			b.Start("nowhere").Message("m", "hi")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := dsl.New("j", "J")
			tt.build(b)
			_, err := b.Build()
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestBuilder_MustBuildPanics(t *testing.T) {
	assert.Panics(t, func() { dsl.New("j", "J").MustBuild() })
}
