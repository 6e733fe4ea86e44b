package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// NodeType discriminates the node union on the wire.
type NodeType string

const (
	// NodeTypeMessage sends a message to the patient and continues.
	NodeTypeMessage NodeType = "MESSAGE"
	// NodeTypeDelay waits for a fixed duration before continuing.
	NodeTypeDelay NodeType = "DELAY"
	// NodeTypeConditional branches on a predicate over the patient context.
	NodeTypeConditional NodeType = "CONDITIONAL"
)

// Node is one step of a journey.
// The set of implementations is closed: *MessageNode, *DelayNode and *ConditionalNode.
type Node interface {
	NodeID() string
	Type() NodeType
	// Successors returns every non-empty successor id of the node.
	Successors() []string
	// Accept calls the visitor method matching the concrete node kind.
	Accept(v NodeVisitor) error

	sealed()
}

// NodeVisitor handles every node kind.
// Adding a kind adds a method here, which breaks every visitor until it is updated.
type NodeVisitor interface {
	VisitMessage(n *MessageNode) error
	VisitDelay(n *DelayNode) error
	VisitConditional(n *ConditionalNode) error
}

// MessageNode sends Message and continues to Next.
// An empty Next ends the journey.
type MessageNode struct {
	ID      string
	Message string
	Next    string
}

func (n *MessageNode) NodeID() string             { return n.ID }
func (n *MessageNode) Type() NodeType             { return NodeTypeMessage }
func (n *MessageNode) Successors() []string       { return nonEmpty(n.Next) }
func (n *MessageNode) Accept(v NodeVisitor) error { return v.VisitMessage(n) }
func (n *MessageNode) sealed()                    {}

func (n *MessageNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         string   `json:"id"`
		Type       NodeType `json:"type"`
		Message    string   `json:"message"`
		NextNodeID *string  `json:"next_node_id"`
	}{n.ID, NodeTypeMessage, n.Message, optional(n.Next)})
}

// DelayNode waits DurationSeconds and continues to Next.
type DelayNode struct {
	ID              string
	DurationSeconds float64
	Next            string
}

func (n *DelayNode) NodeID() string             { return n.ID }
func (n *DelayNode) Type() NodeType             { return NodeTypeDelay }
func (n *DelayNode) Successors() []string       { return nonEmpty(n.Next) }
func (n *DelayNode) Accept(v NodeVisitor) error { return v.VisitDelay(n) }
func (n *DelayNode) sealed()                    {}

// MaxDelaySeconds is the longest delay a time.Duration can hold.
const MaxDelaySeconds = float64(math.MaxInt64 / int64(time.Second))

// Duration converts DurationSeconds with millisecond precision.
// Values above MaxDelaySeconds saturate; negative values are zero.
func (n *DelayNode) Duration() time.Duration {
	switch {
	case n.DurationSeconds > MaxDelaySeconds:
		return time.Duration(math.MaxInt64)
	case n.DurationSeconds <= 0:
		return 0
	}
	return time.Duration(n.DurationSeconds*1000) * time.Millisecond
}

func (n *DelayNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID              string   `json:"id"`
		Type            NodeType `json:"type"`
		DurationSeconds float64  `json:"duration_seconds"`
		NextNodeID      *string  `json:"next_node_id"`
	}{n.ID, NodeTypeDelay, n.DurationSeconds, optional(n.Next)})
}

// Condition is a single comparison between a patient field and a literal.
type Condition struct {
	Field    string `json:"field" yaml:"field" mapstructure:"field"`
	Operator string `json:"operator" yaml:"operator" mapstructure:"operator"`
	Value    any    `json:"value" yaml:"value" mapstructure:"value"`
}

// ConditionalNode evaluates Condition and continues to OnTrue or OnFalse.
type ConditionalNode struct {
	ID        string
	Condition Condition
	OnTrue    string
	OnFalse   string
}

func (n *ConditionalNode) NodeID() string             { return n.ID }
func (n *ConditionalNode) Type() NodeType             { return NodeTypeConditional }
func (n *ConditionalNode) Successors() []string       { return nonEmpty(n.OnTrue, n.OnFalse) }
func (n *ConditionalNode) Accept(v NodeVisitor) error { return v.VisitConditional(n) }
func (n *ConditionalNode) sealed()                    {}

// Branch returns the successor selected by outcome.
func (n *ConditionalNode) Branch(outcome bool) string {
	if outcome {
		return n.OnTrue
	}
	return n.OnFalse
}

func (n *ConditionalNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID                string    `json:"id"`
		Type              NodeType  `json:"type"`
		Condition         Condition `json:"condition"`
		OnTrueNextNodeID  *string   `json:"on_true_next_node_id"`
		OnFalseNextNodeID *string   `json:"on_false_next_node_id"`
	}{n.ID, NodeTypeConditional, n.Condition, optional(n.OnTrue), optional(n.OnFalse)})
}

// wireNode is the flattened JSON envelope of every node kind.
type wireNode struct {
	ID                string     `json:"id"`
	Type              NodeType   `json:"type"`
	Message           string     `json:"message"`
	DurationSeconds   float64    `json:"duration_seconds"`
	NextNodeID        *string    `json:"next_node_id"`
	Condition         *Condition `json:"condition"`
	OnTrueNextNodeID  *string    `json:"on_true_next_node_id"`
	OnFalseNextNodeID *string    `json:"on_false_next_node_id"`
}

func (w wireNode) node() (Node, error) {
	switch w.Type {
	case NodeTypeMessage:
		return &MessageNode{ID: w.ID, Message: w.Message, Next: deref(w.NextNodeID)}, nil
	case NodeTypeDelay:
		return &DelayNode{ID: w.ID, DurationSeconds: w.DurationSeconds, Next: deref(w.NextNodeID)}, nil
	case NodeTypeConditional:
		n := &ConditionalNode{ID: w.ID, OnTrue: deref(w.OnTrueNextNodeID), OnFalse: deref(w.OnFalseNextNodeID)}
		if w.Condition != nil {
			n.Condition = *w.Condition
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %q (node %q)", ErrUnsupportedNodeType, w.Type, w.ID)
	}
}

// DecodeNode decodes a single node from its JSON envelope.
// Unknown type tags return ErrUnsupportedNodeType.
func DecodeNode(data []byte) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return w.node()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
