package domain

import "fmt"

// WorkKind selects the worker that handles a queued step.
type WorkKind string

const (
	WorkAction      WorkKind = "action"
	WorkDelay       WorkKind = "delay"
	WorkConditional WorkKind = "conditional"
)

// NodeType returns the node type handled by the kind's worker.
func (k WorkKind) NodeType() NodeType {
	switch k {
	case WorkAction:
		return NodeTypeMessage
	case WorkDelay:
		return NodeTypeDelay
	case WorkConditional:
		return NodeTypeConditional
	}
	return ""
}

// ParseWorkKind validates a kind read from a queue.
func ParseWorkKind(s string) (WorkKind, error) {
	switch k := WorkKind(s); k {
	case WorkAction, WorkDelay, WorkConditional:
		return k, nil
	default:
		return "", fmt.Errorf("%w: work kind %q", ErrInvalidInput, s)
	}
}

// Run is the queue payload for one step of one run.
// It carries only a pointer into the journey; the definition is re-read on delivery.
type Run struct {
	RunID          string         `json:"runId"`
	JourneyID      string         `json:"journeyId"`
	CurrentNodeID  string         `json:"currentNodeId"`
	PatientContext PatientContext `json:"patientContext"`
}

// Validate checks that the payload points somewhere.
func (r Run) Validate() error {
	switch {
	case r.JourneyID == "":
		return fmt.Errorf("%w: run %q has no journey id", ErrInvalidInput, r.RunID)
	case r.CurrentNodeID == "":
		return fmt.Errorf("%w: run %q has no current node id", ErrInvalidInput, r.RunID)
	}
	return nil
}

// At returns a copy of the run positioned at nodeID.
func (r Run) At(nodeID string) Run {
	r.CurrentNodeID = nodeID
	return r
}
