package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventStepBegin   EventType = "step_begin"
	EventStepFinish  EventType = "step_finish"
	EventStepError   EventType = "step_error"
	EventRunComplete EventType = "run_complete"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	JourneyID string    `json:"journey_id"`
}

// RunEvent marks the start or the end of a run.
type RunEvent struct {
	EventBase
	Status TraceStatus `json:"status"`
}

// StepEvent describes one step handled by a worker.
type StepEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	NodeType NodeType      `json:"node_type,omitempty"`
	Kind     WorkKind      `json:"kind"`
	Seq      int           `json:"seq,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Result   StepResult    `json:"result,omitempty"`
	Err      error         `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnRunStart    func(context.Context, *RunEvent)
	OnStepBegin   func(context.Context, *StepEvent)
	OnStepFinish  func(context.Context, *StepEvent)
	OnStepError   func(context.Context, *StepEvent)
	OnRunComplete func(context.Context, *RunEvent)
}

// ChainHooks returns hooks that call each of the given hooks in order.
func ChainHooks(hooks ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range hooks {
		out.OnRunStart = chain(out.OnRunStart, h.OnRunStart)
		out.OnStepBegin = chain(out.OnStepBegin, h.OnStepBegin)
		out.OnStepFinish = chain(out.OnStepFinish, h.OnStepFinish)
		out.OnStepError = chain(out.OnStepError, h.OnStepError)
		out.OnRunComplete = chain(out.OnRunComplete, h.OnRunComplete)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
