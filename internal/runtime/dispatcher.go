package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
)

// workSelector maps a node to the queue kind of its worker.
type workSelector struct {
	kind  domain.WorkKind
	delay time.Duration
}

func (s *workSelector) VisitMessage(*domain.MessageNode) error {
	s.kind = domain.WorkAction
	return nil
}

func (s *workSelector) VisitDelay(n *domain.DelayNode) error {
	s.kind = domain.WorkDelay
	s.delay = n.Duration()
	return nil
}

func (s *workSelector) VisitConditional(*domain.ConditionalNode) error {
	s.kind = domain.WorkConditional
	return nil
}

// Submit enqueues the step at run.CurrentNodeID for the worker of its kind.
// DELAY nodes are enqueued with their duration as the queue delay.
// Submit does not touch the trace. It returns the queue's work id.
func (e *Engine) Submit(ctx context.Context, run domain.Run) (string, error) {
	if err := run.Validate(); err != nil {
		return "", err
	}

	journey, err := e.journeys.Get(ctx, run.JourneyID)
	if err != nil {
		return "", fmt.Errorf("submit run %s: %w", run.RunID, err)
	}
	node, err := journey.Resolve(run.CurrentNodeID)
	if err != nil {
		return "", fmt.Errorf("submit run %s: %w", run.RunID, err)
	}

	var sel workSelector
	if err := node.Accept(&sel); err != nil {
		return "", err
	}

	workID, err := e.queue.Enqueue(ctx, sel.kind, run, sel.delay)
	if err != nil {
		return "", fmt.Errorf("enqueue %s for run %s: %w", sel.kind, run.RunID, err)
	}

	e.logger.Debug("step enqueued",
		"run_id", run.RunID,
		"journey_id", run.JourneyID,
		"node_id", run.CurrentNodeID,
		"kind", sel.kind,
		"delay", sel.delay,
		"work_id", workID)
	return workID, nil
}
