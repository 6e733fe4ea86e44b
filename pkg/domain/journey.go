package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Operators accepted by a Condition. "=" and "==" are synonyms.
var Operators = []string{">", "<", "=", "==", "!="}

// IsSupportedOperator reports whether op is one of Operators.
func IsSupportedOperator(op string) bool {
	return slices.Contains(Operators, op)
}

// Journey is a named, directed graph of nodes with a designated start node.
// Cycles are allowed.
type Journey struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StartNodeID string `json:"start_node_id"`
	Nodes       []Node `json:"nodes"`
}

// Node returns the node with the given id.
func (j *Journey) Node(id string) (Node, bool) {
	for _, n := range j.Nodes {
		if n.NodeID() == id {
			return n, true
		}
	}
	return nil, false
}

// Resolve is Node with a typed error for missing nodes.
func (j *Journey) Resolve(id string) (Node, error) {
	n, ok := j.Node(id)
	if !ok {
		return nil, &NodeError{JourneyID: j.ID, NodeID: id, Err: ErrNodeNotFound}
	}
	return n, nil
}

// Validate checks the definition-time invariants of the journey:
// unique node ids, a resolvable start node, resolvable successors,
// non-negative delays and supported condition operators.
func (j *Journey) Validate() error {
	var problems []string
	if len(j.Nodes) == 0 {
		problems = append(problems, "journey has no nodes")
	}

	seen := make(map[string]bool, len(j.Nodes))
	for i, n := range j.Nodes {
		if n == nil {
			problems = append(problems, fmt.Sprintf("nodes[%d] is empty", i))
			continue
		}
		id := n.NodeID()
		if id == "" {
			problems = append(problems, fmt.Sprintf("nodes[%d] has no id", i))
			continue
		}
		if seen[id] {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", id))
		}
		seen[id] = true
	}

	if j.StartNodeID == "" {
		problems = append(problems, "start_node_id is required")
	} else if !seen[j.StartNodeID] {
		problems = append(problems, fmt.Sprintf("start node %q does not exist", j.StartNodeID))
	}

	for _, n := range j.Nodes {
		if n == nil {
			continue
		}
		for _, next := range n.Successors() {
			if !seen[next] {
				problems = append(problems, fmt.Sprintf("node %q points to unknown node %q", n.NodeID(), next))
			}
		}
		switch v := n.(type) {
		case *DelayNode:
			if v.DurationSeconds < 0 {
				problems = append(problems, fmt.Sprintf("node %q has negative duration_seconds", v.ID))
			}
			if v.DurationSeconds > MaxDelaySeconds {
				problems = append(problems, fmt.Sprintf("node %q has duration_seconds above %.0f", v.ID, MaxDelaySeconds))
			}
		case *ConditionalNode:
			if v.Condition.Field == "" {
				problems = append(problems, fmt.Sprintf("node %q has an empty condition field", v.ID))
			}
			if !IsSupportedOperator(v.Condition.Operator) {
				problems = append(problems, fmt.Sprintf("node %q uses unsupported operator %q", v.ID, v.Condition.Operator))
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Subject: "journey", Problems: problems}
	}
	return nil
}

// UnmarshalJSON decodes the node union by its type tag.
func (j *Journey) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string     `json:"id"`
		Name        string     `json:"name"`
		StartNodeID string     `json:"start_node_id"`
		Nodes       []wireNode `json:"nodes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	nodes := make([]Node, 0, len(raw.Nodes))
	for _, w := range raw.Nodes {
		n, err := w.node()
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
	}

	*j = Journey{ID: raw.ID, Name: raw.Name, StartNodeID: raw.StartNodeID, Nodes: nodes}
	return nil
}
