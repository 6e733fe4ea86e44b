package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/google/uuid"
)

// Engine executes journeys one step at a time through a queue.
// It holds no per-run state: everything a step needs is in the queue payload,
// the journey store and the trace store.
type Engine struct {
	journeys  ports.JourneyStore
	traces    ports.TraceStore
	queue     ports.Queue
	messenger ports.Messenger
	evaluator ConditionEvaluator
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// EngineOption configures the runtime engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithMessenger sets the channel MESSAGE nodes are delivered through.
func WithMessenger(m ports.Messenger) EngineOption {
	return func(e *Engine) {
		e.messenger = m
	}
}

// WithConditionEvaluator replaces the default condition evaluator.
func WithConditionEvaluator(eval ConditionEvaluator) EngineOption {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

// WithClock sets the time source used for trace timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator sets the generator used for run and journey ids.
func WithIDGenerator(gen func() string) EngineOption {
	return func(e *Engine) {
		e.newID = gen
	}
}

// NewEngine creates a new engine with dependencies.
func NewEngine(journeys ports.JourneyStore, traces ports.TraceStore, queue ports.Queue, opts ...EngineOption) *Engine {
	e := &Engine{
		journeys:  journeys,
		traces:    traces,
		queue:     queue,
		evaluator: Evaluate,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.messenger == nil {
		e.messenger = NewLogMessenger(e.logger)
	}
	return e
}

// Trigger starts a run of a journey for a patient.
//
// It validates the patient, creates the trace at the journey's start node and submits
// the first step. If the submission fails the trace stays in progress with no steps;
// the run id is returned together with the error so the run can be inspected or abandoned.
func (e *Engine) Trigger(ctx context.Context, journeyID string, patient domain.PatientContext) (string, error) {
	if journeyID == "" {
		return "", fmt.Errorf("%w: journey id is required", domain.ErrInvalidInput)
	}
	if err := patient.Validate(); err != nil {
		return "", err
	}

	journey, err := e.journeys.Get(ctx, journeyID)
	if err != nil {
		return "", fmt.Errorf("trigger journey %s: %w", journeyID, err)
	}

	runID := e.newID()
	startedAt := e.now()
	trace := domain.NewTrace(runID, journey.ID, patient, journey.StartNodeID, startedAt)
	if err := e.traces.Create(ctx, trace); err != nil {
		return "", fmt.Errorf("create trace for run %s: %w", runID, err)
	}

	logger := e.logger.With("run_id", runID, "journey_id", journey.ID)
	logger.Info("run started", "node_id", journey.StartNodeID)
	if e.hooks.OnRunStart != nil {
		e.hooks.OnRunStart(ctx, &domain.RunEvent{
			EventBase: domain.EventBase{Timestamp: startedAt, Type: domain.EventRunStart, RunID: runID, JourneyID: journey.ID},
			Status:    domain.StatusInProgress,
		})
	}

	run := domain.Run{
		RunID:          runID,
		JourneyID:      journey.ID,
		CurrentNodeID:  journey.StartNodeID,
		PatientContext: patient,
	}
	if _, err := e.Submit(ctx, run); err != nil {
		logger.Error("failed to submit first step", "err", err)
		return runID, err
	}
	return runID, nil
}

// RunStatus returns the status projection of a run.
func (e *Engine) RunStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	trace, err := e.traces.Get(ctx, runID)
	if err != nil {
		return domain.RunStatus{}, err
	}
	return trace.Summary(), nil
}

// RunTrace returns the full trace of a run.
func (e *Engine) RunTrace(ctx context.Context, runID string) (*domain.Trace, error) {
	return e.traces.Get(ctx, runID)
}

// ListRuns returns the run ids recorded for a journey.
func (e *Engine) ListRuns(ctx context.Context, journeyID string) ([]string, error) {
	return e.traces.List(ctx, journeyID)
}

// AbandonRun closes an in-progress run as failed.
// It is the only way a run becomes failed; workers never do it on their own.
func (e *Engine) AbandonRun(ctx context.Context, runID string) error {
	trace, err := e.traces.Get(ctx, runID)
	if err != nil {
		return err
	}
	at := e.now()
	if err := e.traces.Complete(ctx, runID, domain.StatusFailed, at); err != nil {
		return err
	}

	e.logger.Warn("run abandoned", "run_id", runID, "journey_id", trace.JourneyID, "node_id", trace.CurrentNodeID)
	e.emitRunComplete(ctx, runID, trace.JourneyID, domain.StatusFailed, at)
	return nil
}

// CreateJourney validates and stores a journey definition, assigning an id when it has none.
func (e *Engine) CreateJourney(ctx context.Context, journey *domain.Journey) (string, error) {
	if journey == nil {
		return "", fmt.Errorf("%w: journey is required", domain.ErrInvalidInput)
	}
	if journey.ID == "" {
		journey.ID = e.newID()
	}
	if err := journey.Validate(); err != nil {
		return "", err
	}
	if err := e.journeys.Save(ctx, journey); err != nil {
		return "", fmt.Errorf("save journey %s: %w", journey.ID, err)
	}
	e.logger.Info("journey saved", "journey_id", journey.ID, "nodes", len(journey.Nodes))
	return journey.ID, nil
}

// GetJourney returns a stored journey.
func (e *Engine) GetJourney(ctx context.Context, journeyID string) (*domain.Journey, error) {
	return e.journeys.Get(ctx, journeyID)
}

// ListJourneys returns every stored journey ordered by id.
func (e *Engine) ListJourneys(ctx context.Context) ([]*domain.Journey, error) {
	ids, err := e.journeys.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Journey, 0, len(ids))
	for _, id := range ids {
		j, err := e.journeys.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load journey %s: %w", id, err)
		}
		out = append(out, j)
	}
	return out, nil
}

// DeleteJourney removes a journey definition. Runs already in flight fail safely on their next step.
func (e *Engine) DeleteJourney(ctx context.Context, journeyID string) error {
	return e.journeys.Delete(ctx, journeyID)
}

func (e *Engine) emitRunComplete(ctx context.Context, runID, journeyID string, status domain.TraceStatus, at time.Time) {
	if e.hooks.OnRunComplete == nil {
		return
	}
	e.hooks.OnRunComplete(ctx, &domain.RunEvent{
		EventBase: domain.EventBase{Timestamp: at, Type: domain.EventRunComplete, RunID: runID, JourneyID: journeyID},
		Status:    status,
	})
}
