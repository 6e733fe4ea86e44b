package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
)

// stepExecutor performs the effect of one node and picks its successor.
type stepExecutor struct {
	ctx     context.Context
	engine  *Engine
	run     domain.Run
	journey *domain.Journey
	result  domain.StepResult
	next    string
}

func (x *stepExecutor) VisitMessage(n *domain.MessageNode) error {
	msg := ports.Message{
		RunID:     x.run.RunID,
		JourneyID: x.run.JourneyID,
		NodeID:    n.ID,
		Patient:   x.run.PatientContext,
		Text:      n.Message,
		DedupeKey: x.run.RunID + ":" + n.ID,
	}
	if err := x.engine.messenger.Send(x.ctx, msg); err != nil {
		return &domain.NodeError{JourneyID: x.journey.ID, NodeID: n.ID, Err: fmt.Errorf("send message: %w", err)}
	}
	x.result = domain.MessageResult(n.Message)
	x.next = n.Next
	return nil
}

func (x *stepExecutor) VisitDelay(n *domain.DelayNode) error {
	x.result = domain.DelayResult(n.DurationSeconds)
	x.next = n.Next
	return nil
}

func (x *stepExecutor) VisitConditional(n *domain.ConditionalNode) error {
	evaluated, outcome, err := x.engine.evaluator(n.Condition, x.run.PatientContext)
	if err != nil {
		return &domain.NodeError{JourneyID: x.journey.ID, NodeID: n.ID, Err: err}
	}
	x.next = n.Branch(outcome)
	x.result = domain.ConditionalResult(n.Condition, evaluated, outcome, x.next)
	return nil
}

// Handle executes one delivered step of kind for run.
//
// The step is opened in the trace first, then the journey and node are re-read and the
// node's type is checked against kind. Once the effect succeeds the step is closed and
// the successor is submitted, or the run is completed when there is none.
// Any failure before the step is closed leaves it open and is returned to the caller,
// which decides whether the delivery is retried.
func (e *Engine) Handle(ctx context.Context, kind domain.WorkKind, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	logger := e.logger.With("run_id", run.RunID, "journey_id", run.JourneyID, "node_id", run.CurrentNodeID, "kind", kind)

	started := e.now()
	event := &domain.StepEvent{
		EventBase: domain.EventBase{Timestamp: started, Type: domain.EventStepBegin, RunID: run.RunID, JourneyID: run.JourneyID},
		NodeID:    run.CurrentNodeID,
		NodeType:  kind.NodeType(),
		Kind:      kind,
	}

	fail := func(err error) error {
		logger.Error("step failed", "err", err)
		if e.hooks.OnStepError != nil {
			event.Type = domain.EventStepError
			event.Timestamp = e.now()
			event.Duration = event.Timestamp.Sub(started)
			event.Err = err
			e.hooks.OnStepError(ctx, event)
		}
		return err
	}

	seq, err := e.traces.BeginStep(ctx, run.RunID, run.CurrentNodeID, kind.NodeType(), started)
	if err != nil {
		return fail(fmt.Errorf("begin step: %w", err))
	}
	event.Seq = seq
	if e.hooks.OnStepBegin != nil {
		e.hooks.OnStepBegin(ctx, event)
	}

	journey, err := e.journeys.Get(ctx, run.JourneyID)
	if err != nil {
		return fail(err)
	}
	node, err := journey.Resolve(run.CurrentNodeID)
	if err != nil {
		return fail(err)
	}
	if node.Type() != kind.NodeType() {
		return fail(&domain.NodeError{
			JourneyID: journey.ID,
			NodeID:    node.NodeID(),
			Err:       fmt.Errorf("%w: %s worker got %s node", domain.ErrNodeMismatch, kind, node.Type()),
		})
	}

	exec := &stepExecutor{ctx: ctx, engine: e, run: run, journey: journey}
	if err := node.Accept(exec); err != nil {
		return fail(err)
	}

	finished := e.now()
	if err := e.traces.FinishStep(ctx, run.RunID, node.NodeID(), exec.result, finished); err != nil {
		return fail(fmt.Errorf("finish step: %w", err))
	}
	logger.Info("step finished", "seq", seq, "next_node_id", exec.next)
	if e.hooks.OnStepFinish != nil {
		event.Type = domain.EventStepFinish
		event.Timestamp = finished
		event.Duration = finished.Sub(started)
		event.Result = exec.result
		e.hooks.OnStepFinish(ctx, event)
	}

	if exec.next != "" {
		if _, err := e.Submit(ctx, run.At(exec.next)); err != nil {
			return fail(err)
		}
		return nil
	}

	if err := e.traces.Complete(ctx, run.RunID, domain.StatusCompleted, finished); err != nil {
		return fail(fmt.Errorf("complete run: %w", err))
	}
	logger.Info("run completed")
	e.emitRunComplete(ctx, run.RunID, run.JourneyID, domain.StatusCompleted, finished)
	return nil
}
