package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is the root of every lookup failure.
var ErrNotFound = errors.New("not found")

var (
	// ErrJourneyNotFound is returned when a journey id cannot be found in the store.
	ErrJourneyNotFound = fmt.Errorf("journey %w", ErrNotFound)
	// ErrNodeNotFound is returned when a node id does not exist in its journey.
	ErrNodeNotFound = fmt.Errorf("node %w", ErrNotFound)
	// ErrRunNotFound is returned when no trace exists for a run id.
	ErrRunNotFound = fmt.Errorf("run %w", ErrNotFound)
)

var (
	// ErrInvalidInput is returned for malformed payloads, patients and definitions.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedNodeType is returned for node type tags outside the closed set.
	ErrUnsupportedNodeType = errors.New("unsupported node type")
	// ErrUnsupportedOperator is returned by the evaluator for unknown operators.
	ErrUnsupportedOperator = errors.New("unsupported operator")
	// ErrNodeMismatch is returned when a delivery's kind does not match its node.
	ErrNodeMismatch = errors.New("node type does not match work kind")
	// ErrTraceClosed is returned when mutating a trace that is no longer in progress.
	ErrTraceClosed = errors.New("trace is closed")
	// ErrInvalidTransition is returned for a terminal status other than completed or failed.
	ErrInvalidTransition = errors.New("invalid trace transition")
	// ErrStepNotOpen is returned when finishing a node that has no open step.
	ErrStepNotOpen = errors.New("no open step for node")
)

// NodeError attaches journey and node ids to an error.
type NodeError struct {
	JourneyID string
	NodeID    string
	Err       error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("journey %q node %q: %v", e.JourneyID, e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// ValidationError lists every problem found in a payload. It unwraps to ErrInvalidInput.
type ValidationError struct {
	Subject  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }
