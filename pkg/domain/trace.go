package domain

import (
	"fmt"
	"time"
)

// TraceStatus is the lifecycle state of a run.
type TraceStatus string

const (
	StatusInProgress TraceStatus = "in_progress"
	StatusCompleted  TraceStatus = "completed"
	StatusFailed     TraceStatus = "failed"
)

// Terminal reports whether the status closes a trace.
func (s TraceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepResult is the node-kind specific outcome stored on a finished step.
type StepResult map[string]any

// MessageResult is the result of a MESSAGE step.
func MessageResult(message string) StepResult {
	return StepResult{"message": message}
}

// DelayResult is the result of a DELAY step.
func DelayResult(durationSeconds float64) StepResult {
	return StepResult{"duration_seconds": durationSeconds}
}

// ConditionalResult is the result of a CONDITIONAL step. An empty next is stored as null.
func ConditionalResult(cond Condition, evaluated any, outcome bool, next string) StepResult {
	var nextID any
	if next != "" {
		nextID = next
	}
	return StepResult{
		"field":        cond.Field,
		"operator":     cond.Operator,
		"value":        cond.Value,
		"evaluated":    evaluated,
		"outcome":      outcome,
		"next_node_id": nextID,
	}
}

// Step is one execution of one node within a run.
type Step struct {
	Seq        int        `json:"seq"`
	NodeID     string     `json:"nodeId"`
	Type       NodeType   `json:"type"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Result     StepResult `json:"result,omitempty"`
}

// Open reports whether the step has not been finished yet.
func (s Step) Open() bool { return s.FinishedAt == nil }

// Trace is the append-only record of a run.
type Trace struct {
	RunID          string         `json:"runId"`
	JourneyID      string         `json:"journeyId"`
	Status         TraceStatus    `json:"status"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     *time.Time     `json:"finishedAt,omitempty"`
	CurrentNodeID  string         `json:"currentNodeId,omitempty"`
	PatientContext PatientContext `json:"patientContext"`
	Steps          []Step         `json:"steps"`
}

// NewTrace creates an in-progress trace with no steps, positioned at startNodeID.
func NewTrace(runID, journeyID string, patient PatientContext, startNodeID string, now time.Time) *Trace {
	return &Trace{
		RunID:          runID,
		JourneyID:      journeyID,
		Status:         StatusInProgress,
		StartedAt:      now,
		CurrentNodeID:  startNodeID,
		PatientContext: patient,
		Steps:          []Step{},
	}
}

// BeginStep appends an open step and moves CurrentNodeID. It returns the step's seq.
func (t *Trace) BeginStep(nodeID string, nodeType NodeType, at time.Time) (int, error) {
	if t.Status != StatusInProgress {
		return 0, fmt.Errorf("%w: run %s is %s", ErrTraceClosed, t.RunID, t.Status)
	}
	seq := len(t.Steps) + 1
	t.Steps = append(t.Steps, Step{
		Seq:       seq,
		NodeID:    nodeID,
		Type:      nodeType,
		StartedAt: at,
	})
	t.CurrentNodeID = nodeID
	return seq, nil
}

// FinishStep closes the most recent open step for nodeID.
func (t *Trace) FinishStep(nodeID string, result StepResult, at time.Time) error {
	if t.Status != StatusInProgress {
		return fmt.Errorf("%w: run %s is %s", ErrTraceClosed, t.RunID, t.Status)
	}
	for i := len(t.Steps) - 1; i >= 0; i-- {
		s := &t.Steps[i]
		if s.NodeID != nodeID || !s.Open() {
			continue
		}
		finished := at
		s.FinishedAt = &finished
		s.Result = result
		return nil
	}
	return fmt.Errorf("%w: run %s node %s", ErrStepNotOpen, t.RunID, nodeID)
}

// Complete closes the trace with a terminal status. A trace can be closed only once.
func (t *Trace) Complete(status TraceStatus, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidTransition, status)
	}
	if t.Status != StatusInProgress {
		return fmt.Errorf("%w: run %s is %s", ErrTraceClosed, t.RunID, t.Status)
	}
	finished := at
	t.Status = status
	t.FinishedAt = &finished
	return nil
}

// Clone returns a deep copy of the trace, so stores can hand out snapshots.
func (t *Trace) Clone() *Trace {
	c := *t
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	c.Steps = make([]Step, len(t.Steps))
	for i, s := range t.Steps {
		if s.FinishedAt != nil {
			f := *s.FinishedAt
			s.FinishedAt = &f
		}
		if s.Result != nil {
			r := make(StepResult, len(s.Result))
			for k, v := range s.Result {
				r[k] = v
			}
			s.Result = r
		}
		c.Steps[i] = s
	}
	return &c
}

// Summary returns the status projection of the trace.
func (t *Trace) Summary() RunStatus {
	return RunStatus{
		RunID:          t.RunID,
		Status:         t.Status,
		JourneyID:      t.JourneyID,
		CurrentNodeID:  t.CurrentNodeID,
		PatientContext: t.PatientContext,
	}
}

// RunStatus is the lightweight view of a run returned by status queries.
type RunStatus struct {
	RunID          string         `json:"runId"`
	Status         TraceStatus    `json:"status"`
	JourneyID      string         `json:"journeyId"`
	CurrentNodeID  string         `json:"currentNodeId,omitempty"`
	PatientContext PatientContext `json:"patientContext"`
}
