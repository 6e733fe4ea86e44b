package dsl

import (
	"fmt"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
)

// Builder manages the journey construction.
type Builder struct {
	id       string
	name     string
	start    string
	nodes    map[string]*NodeBuilder
	order    []*NodeBuilder
	problems []string
}

// New creates a new journey builder.
func New(id, name string) *Builder {
	return &Builder{
		id:    id,
		name:  name,
		nodes: make(map[string]*NodeBuilder),
	}
}

// Start sets the entry node. It defaults to the first node added.
func (b *Builder) Start(id string) *Builder {
	b.start = id
	return b
}

// Message adds a node that sends text to the patient.
func (b *Builder) Message(id, text string) *NodeBuilder {
	return b.add(&domain.MessageNode{ID: id, Message: text})
}

// Delay adds a node that waits d before continuing.
func (b *Builder) Delay(id string, d time.Duration) *NodeBuilder {
	return b.add(&domain.DelayNode{ID: id, DurationSeconds: d.Seconds()})
}

// If adds a node that branches on field compared to value with operator.
// Then sets the branch taken when the comparison holds and Else the other one.
func (b *Builder) If(id, field, operator string, value any) *NodeBuilder {
	return b.add(&domain.ConditionalNode{
		ID:        id,
		Condition: domain.Condition{Field: field, Operator: operator, Value: normalize(value)},
	})
}

// add registers a node. Adding an id twice returns the existing builder
// and records a problem when the kinds differ.
func (b *Builder) add(n domain.Node) *NodeBuilder {
	if nb, ok := b.nodes[n.NodeID()]; ok {
		if nb.node.Type() != n.Type() {
			b.problems = append(b.problems, fmt.Sprintf("node %q redefined as %s", n.NodeID(), n.Type()))
		}
		return nb
	}
	nb := &NodeBuilder{node: n, builder: b}
	b.nodes[n.NodeID()] = nb
	b.order = append(b.order, nb)
	return nb
}

// Build assembles the journey and validates it.
// Nodes keep the order in which they were added.
func (b *Builder) Build() (*domain.Journey, error) {
	j := &domain.Journey{
		ID:          b.id,
		Name:        b.name,
		StartNodeID: b.start,
		Nodes:       make([]domain.Node, 0, len(b.order)),
	}
	if j.StartNodeID == "" && len(b.order) > 0 {
		j.StartNodeID = b.order[0].node.NodeID()
	}
	for _, nb := range b.order {
		j.Nodes = append(j.Nodes, nb.node)
	}

	if len(b.problems) > 0 {
		return nil, &domain.ValidationError{Subject: "journey", Problems: b.problems}
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("failed to build journey %q: %w", b.id, err)
	}
	return j, nil
}

// MustBuild is Build that panics on error, for package-level definitions.
func (b *Builder) MustBuild() *domain.Journey {
	j, err := b.Build()
	if err != nil {
		panic(err)
	}
	return j
}

// normalize widens numeric literals to float64, the type JSON decoding produces,
// so built and decoded journeys compare equal.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
