package dsl

import (
	"fmt"

	"github.com/aretw0/journeys/pkg/domain"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
}

// Then sets the successor of a message or delay node,
// or the branch a conditional node takes when its condition holds.
func (n *NodeBuilder) Then(target string) *NodeBuilder {
	switch v := n.node.(type) {
	case *domain.MessageNode:
		v.Next = target
	case *domain.DelayNode:
		v.Next = target
	case *domain.ConditionalNode:
		v.OnTrue = target
	}
	return n
}

// Else sets the branch a conditional node takes when its condition does not hold.
func (n *NodeBuilder) Else(target string) *NodeBuilder {
	c, ok := n.node.(*domain.ConditionalNode)
	if !ok {
		n.builder.problems = append(n.builder.problems,
			fmt.Sprintf("node %q is %s and has no else branch", n.node.NodeID(), n.node.Type()))
		return n
	}
	c.OnFalse = target
	return n
}

// Terminal clears every successor, so reaching the node ends the run.
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.Then("")
	if c, ok := n.node.(*domain.ConditionalNode); ok {
		c.OnFalse = ""
	}
	return n
}

// Build returns the underlying domain.Node.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() domain.Node {
	return n.node
}
