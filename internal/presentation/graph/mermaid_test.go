package graph_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aretw0/journeys/internal/presentation/graph"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/awalterschulze/gographviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func followUp() *domain.Journey {
	return &domain.Journey{
		ID:          "j",
		Name:        "Post-op follow up",
		StartNodeID: "welcome",
		Nodes: []domain.Node{
			&domain.MessageNode{ID: "welcome", Message: "hi", Next: "wait-1"},
			&domain.DelayNode{ID: "wait-1", DurationSeconds: 90, Next: "check"},
			&domain.ConditionalNode{
				ID:        "check",
				Condition: domain.Condition{Field: "patient.language", Operator: "==", Value: "es"},
				OnTrue:    "hola",
				OnFalse:   "hello",
			},
			&domain.MessageNode{ID: "hola", Message: "hola"},
			&domain.MessageNode{ID: "hello", Message: "hello"},
		},
	}
}

func TestGenerateMermaid(t *testing.T) {
	got := graph.GenerateMermaid(followUp(), nil)

	for _, want := range []string{
		"graph TD\n",
		"__start --> welcome",
		`welcome["welcome"]`,
		"welcome --> wait_1",
		`wait_1(["wait-1 <br/> ⏱️ 1m30s"])`,
		`check{"check <br/> patient.language == 'es'"}`,
		`check -- "true" --> hola`,
		`check -- "false" --> hello`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
		}
	}
	assert.NotContains(t, got, "classDef", "no overlay without a run")
	assert.NotContains(t, got, "hola -->", "terminal nodes have no outgoing edge")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	now := time.Now()
	trace := domain.NewTrace("r", "j", domain.PatientContext{}, "welcome", now)
	_, _ = trace.BeginStep("welcome", domain.NodeTypeMessage, now)
	_ = trace.FinishStep("welcome", domain.MessageResult("hi"), now)
	_, _ = trace.BeginStep("wait-1", domain.NodeTypeDelay, now)

	got := graph.GenerateMermaid(followUp(), graph.OverlayFromTrace(trace))
	assert.Contains(t, got, "class welcome visited;")
	assert.Contains(t, got, "class wait_1 current;")

	require.NoError(t, trace.Complete(domain.StatusFailed, now))
	got = graph.GenerateMermaid(followUp(), graph.OverlayFromTrace(trace))
	assert.Contains(t, got, "class wait_1 failed;")
}

func TestOverlayFromTrace_Completed(t *testing.T) {
	now := time.Now()
	trace := domain.NewTrace("r", "j", domain.PatientContext{}, "hola", now)
	_, _ = trace.BeginStep("hola", domain.NodeTypeMessage, now)
	_ = trace.FinishStep("hola", domain.MessageResult("hola"), now)
	require.NoError(t, trace.Complete(domain.StatusCompleted, now))

	o := graph.OverlayFromTrace(trace)
	assert.Equal(t, []string{"hola"}, o.VisitedNodes)
	assert.Empty(t, o.CurrentNode)
}

func TestGenerateDOT(t *testing.T) {
	out, err := graph.GenerateDOT(followUp(), &graph.Overlay{VisitedNodes: []string{"welcome"}, CurrentNode: "wait-1"})
	require.NoError(t, err)

	ast, err := gographviz.ParseString(out)
	require.NoError(t, err, "output must be valid DOT:\n%s", out)
	g := gographviz.NewGraph()
	require.NoError(t, gographviz.Analyse(ast, g))

	assert.True(t, g.Directed)
	for _, id := range []string{`"welcome"`, `"wait-1"`, `"check"`, `"hola"`, `"hello"`, "__start"} {
		assert.NotNil(t, g.Nodes.Lookup[id], "missing node %s", id)
	}
	assert.Equal(t, "diamond", g.Nodes.Lookup[`"check"`].Attrs["shape"])
	assert.Equal(t, `"#ffeb3b"`, g.Nodes.Lookup[`"wait-1"`].Attrs["fillcolor"])
	assert.Equal(t, `"#e1f5fe"`, g.Nodes.Lookup[`"welcome"`].Attrs["fillcolor"])

	edges := g.Edges.SrcToDsts[`"check"`]
	require.Len(t, edges, 2)
	require.Len(t, edges[`"hola"`], 1)
	assert.Equal(t, `"true"`, edges[`"hola"`][0].Attrs["label"])
	assert.Equal(t, `"false"`, edges[`"hello"`][0].Attrs["label"])
	assert.Len(t, g.Edges.Edges, 5)
}
