package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/journeys/pkg/domain"
)

// Overlay contains run state to visualize on the graph.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
	Failed       bool
}

// OverlayFromTrace marks every node the trace stepped through.
// The current node is highlighted only while the run is in progress or failed.
func OverlayFromTrace(t *domain.Trace) *Overlay {
	o := &Overlay{Failed: t.Status == domain.StatusFailed}
	for _, s := range t.Steps {
		o.VisitedNodes = append(o.VisitedNodes, s.NodeID)
	}
	if t.Status != domain.StatusCompleted {
		o.CurrentNode = t.CurrentNodeID
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of the journey.
// It applies semantic styling:
// - Message: [Rectangle]
// - Delay: ([Stadium]) annotated with the wait
// - Conditional: {Rhombus} labelled with the condition, edges labelled true/false
// The start node is preceded by a filled circle. Overlay styles are applied if provided.
func GenerateMermaid(j *domain.Journey, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	if j.StartNodeID != "" {
		sb.WriteString("    __start((\" \"))\n")
		fmt.Fprintf(&sb, "    __start --> %s\n", sanitizeMermaidID(j.StartNodeID))
	}

	w := &mermaidWriter{sb: &sb}
	for _, node := range j.Nodes {
		_ = node.Accept(w)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on light fills regardless of theme.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:4px,color:#000;\n")

		visited := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visited[safeID] && safeID != "" {
				visited[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			class := "current"
			if overlay.Failed {
				class = "failed"
			}
			fmt.Fprintf(&sb, "    class %s %s;\n", sanitizeMermaidID(overlay.CurrentNode), class)
		}
	}

	return sb.String()
}

type mermaidWriter struct {
	sb *strings.Builder
}

func (w *mermaidWriter) VisitMessage(n *domain.MessageNode) error {
	id := sanitizeMermaidID(n.ID)
	fmt.Fprintf(w.sb, "    %s[\"%s\"]\n", id, escape(n.ID))
	w.edge(id, n.Next, "")
	return nil
}

func (w *mermaidWriter) VisitDelay(n *domain.DelayNode) error {
	id := sanitizeMermaidID(n.ID)
	fmt.Fprintf(w.sb, "    %s([\"%s <br/> ⏱️ %s\"])\n", id, escape(n.ID), n.Duration())
	w.edge(id, n.Next, "")
	return nil
}

func (w *mermaidWriter) VisitConditional(n *domain.ConditionalNode) error {
	id := sanitizeMermaidID(n.ID)
	fmt.Fprintf(w.sb, "    %s{\"%s <br/> %s\"}\n", id, escape(n.ID), escape(ConditionLabel(n.Condition)))
	w.edge(id, n.OnTrue, "true")
	w.edge(id, n.OnFalse, "false")
	return nil
}

func (w *mermaidWriter) edge(from, to, label string) {
	if to == "" {
		return
	}
	if label == "" {
		fmt.Fprintf(w.sb, "    %s --> %s\n", from, sanitizeMermaidID(to))
		return
	}
	fmt.Fprintf(w.sb, "    %s -- \"%s\" --> %s\n", from, label, sanitizeMermaidID(to))
}

// ConditionLabel renders a condition as "field op value".
func ConditionLabel(c domain.Condition) string {
	value := fmt.Sprint(c.Value)
	if s, ok := c.Value.(string); ok {
		value = strconv.Quote(s)
	}
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, value)
}

// escape replaces double quotes, which would end a Mermaid label.
func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
