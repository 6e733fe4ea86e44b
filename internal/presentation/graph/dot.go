package graph

import (
	"fmt"
	"strconv"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/awalterschulze/gographviz"
)

const dotGraphName = "journey"

// GenerateDOT renders the journey as a Graphviz digraph.
// Node shapes follow the Mermaid output: boxes for messages, ellipses for delays
// and diamonds for conditionals.
func GenerateDOT(j *domain.Journey, overlay *Overlay) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotGraphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(dotGraphName, "rankdir", "TB"); err != nil {
		return "", err
	}
	if j.Name != "" {
		if err := g.AddAttr(dotGraphName, "label", strconv.Quote(j.Name)); err != nil {
			return "", err
		}
	}

	visited := map[string]bool{}
	current := ""
	failed := false
	if overlay != nil {
		for _, id := range overlay.VisitedNodes {
			visited[id] = true
		}
		current = overlay.CurrentNode
		failed = overlay.Failed
	}

	w := &dotWriter{g: g, visited: visited, current: current, failed: failed}
	if j.StartNodeID != "" {
		if err := g.AddNode(dotGraphName, "__start", map[string]string{
			"shape": "point",
			"width": "0.2",
		}); err != nil {
			return "", err
		}
		w.edge("__start", j.StartNodeID, "")
	}
	for _, node := range j.Nodes {
		if err := node.Accept(w); err != nil {
			return "", err
		}
	}
	if w.err != nil {
		return "", w.err
	}
	return g.String(), nil
}

type dotWriter struct {
	g       *gographviz.Graph
	visited map[string]bool
	current string
	failed  bool
	err     error
}

func (w *dotWriter) VisitMessage(n *domain.MessageNode) error {
	if err := w.node(n.ID, "box", n.ID); err != nil {
		return err
	}
	w.edge(n.ID, n.Next, "")
	return nil
}

func (w *dotWriter) VisitDelay(n *domain.DelayNode) error {
	if err := w.node(n.ID, "ellipse", fmt.Sprintf("%s\n%s", n.ID, n.Duration())); err != nil {
		return err
	}
	w.edge(n.ID, n.Next, "")
	return nil
}

func (w *dotWriter) VisitConditional(n *domain.ConditionalNode) error {
	if err := w.node(n.ID, "diamond", fmt.Sprintf("%s\n%s", n.ID, ConditionLabel(n.Condition))); err != nil {
		return err
	}
	w.edge(n.ID, n.OnTrue, "true")
	w.edge(n.ID, n.OnFalse, "false")
	return nil
}

func (w *dotWriter) node(id, shape, label string) error {
	attrs := map[string]string{
		"shape": shape,
		"label": strconv.Quote(label),
	}
	switch {
	case id == w.current && w.failed:
		attrs["style"] = "filled"
		attrs["fillcolor"] = strconv.Quote("#ffcdd2")
	case id == w.current:
		attrs["style"] = "filled"
		attrs["fillcolor"] = strconv.Quote("#ffeb3b")
	case w.visited[id]:
		attrs["style"] = "filled"
		attrs["fillcolor"] = strconv.Quote("#e1f5fe")
	}
	return w.g.AddNode(dotGraphName, strconv.Quote(id), attrs)
}

// edge records the first error only; successors may point past the node list.
func (w *dotWriter) edge(from, to, label string) {
	if to == "" || w.err != nil {
		return
	}
	var attrs map[string]string
	if label != "" {
		attrs = map[string]string{"label": strconv.Quote(label)}
	}
	src := from
	if from != "__start" {
		src = strconv.Quote(from)
	}
	w.err = w.g.AddEdge(src, strconv.Quote(to), true, attrs)
}
