package journeys

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/internal/runtime"
	"github.com/aretw0/journeys/pkg/adapters/memory"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/aretw0/journeys/pkg/runner"
)

// Version is the release of this module.
//
//go:embed VERSION
var Version string

const defaultWaitInterval = 50 * time.Millisecond

// Engine is the high-level entry point for the journeys library.
// It wires the runtime engine to its stores, its queue and a worker pool.
type Engine struct {
	runtime   *runtime.Engine
	journeys  ports.JourneyStore
	traces    ports.TraceStore
	queue     ports.Queue
	messenger ports.Messenger
	evaluator runtime.ConditionEvaluator
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	poolOpts  []runner.Option
	seed      []*domain.Journey
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithJourneyStore sets where journey definitions live. Defaults to memory.
func WithJourneyStore(s ports.JourneyStore) Option {
	return func(e *Engine) {
		e.journeys = s
	}
}

// WithTraceStore sets where execution traces live. Defaults to memory.
func WithTraceStore(s ports.TraceStore) Option {
	return func(e *Engine) {
		e.traces = s
	}
}

// WithQueue sets the run queue. Defaults to an in-process queue.
func WithQueue(q ports.Queue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

// WithMessenger sets how MESSAGE steps reach patients. Defaults to logging them.
func WithMessenger(m ports.Messenger) Option {
	return func(e *Engine) {
		e.messenger = m
	}
}

// WithConditionEvaluator replaces the default condition evaluator.
func WithConditionEvaluator(eval runtime.ConditionEvaluator) Option {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine and its workers.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithWorkerOptions configures the worker pool started by Run.
func WithWorkerOptions(opts ...runner.Option) Option {
	return func(e *Engine) {
		e.poolOpts = append(e.poolOpts, opts...)
	}
}

// WithJourneys stores the given definitions when the engine is created.
func WithJourneys(journeys ...*domain.Journey) Option {
	return func(e *Engine) {
		e.seed = append(e.seed, journeys...)
	}
}

// New initializes a new Engine. Unset collaborators default to in-memory adapters.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.journeys == nil {
		eng.journeys = memory.NewJourneyStore()
	}
	if eng.traces == nil {
		eng.traces = memory.NewTraceStore()
	}
	if eng.queue == nil {
		eng.queue = memory.NewQueue()
	}

	runtimeOpts := []runtime.EngineOption{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
	}
	if eng.messenger != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithMessenger(eng.messenger))
	}
	if eng.evaluator != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithConditionEvaluator(eng.evaluator))
	}
	eng.runtime = runtime.NewEngine(eng.journeys, eng.traces, eng.queue, runtimeOpts...)

	for _, j := range eng.seed {
		if j.ID == "" {
			return nil, fmt.Errorf("%w: seeded journeys need an id", domain.ErrInvalidInput)
		}
		if _, err := eng.runtime.CreateJourney(context.Background(), j); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// Run starts the worker pool and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	opts := append([]runner.Option{runner.WithLogger(e.logger)}, e.poolOpts...)
	return runner.NewPool(e.queue, e.runtime, opts...).Run(ctx)
}

// Handle executes one queued step. It lets callers drive the engine from their own consumers.
func (e *Engine) Handle(ctx context.Context, kind domain.WorkKind, run domain.Run) error {
	return e.runtime.Handle(ctx, kind, run)
}

// Trigger starts a run of a journey for a patient and returns its id.
func (e *Engine) Trigger(ctx context.Context, journeyID string, patient domain.PatientContext) (string, error) {
	return e.runtime.Trigger(ctx, journeyID, patient)
}

// RunStatus returns the status projection of a run.
func (e *Engine) RunStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	return e.runtime.RunStatus(ctx, runID)
}

// RunTrace returns the full trace of a run.
func (e *Engine) RunTrace(ctx context.Context, runID string) (*domain.Trace, error) {
	return e.runtime.RunTrace(ctx, runID)
}

// ListRuns returns the run ids recorded for a journey.
func (e *Engine) ListRuns(ctx context.Context, journeyID string) ([]string, error) {
	return e.runtime.ListRuns(ctx, journeyID)
}

// AbandonRun closes an in-progress run as failed.
func (e *Engine) AbandonRun(ctx context.Context, runID string) error {
	return e.runtime.AbandonRun(ctx, runID)
}

// Wait polls a run until it leaves in_progress or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (*domain.Trace, error) {
	ticker := time.NewTicker(defaultWaitInterval)
	defer ticker.Stop()
	for {
		trace, err := e.runtime.RunTrace(ctx, runID)
		if err != nil {
			return nil, err
		}
		if trace.Status != domain.StatusInProgress {
			return trace, nil
		}
		select {
		case <-ctx.Done():
			return trace, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreateJourney validates and stores a journey, assigning an id when it has none.
func (e *Engine) CreateJourney(ctx context.Context, journey *domain.Journey) (string, error) {
	return e.runtime.CreateJourney(ctx, journey)
}

// GetJourney returns a stored journey.
func (e *Engine) GetJourney(ctx context.Context, journeyID string) (*domain.Journey, error) {
	return e.runtime.GetJourney(ctx, journeyID)
}

// ListJourneys returns every stored journey ordered by id.
func (e *Engine) ListJourneys(ctx context.Context) ([]*domain.Journey, error) {
	return e.runtime.ListJourneys(ctx)
}

// DeleteJourney removes a journey definition.
func (e *Engine) DeleteJourney(ctx context.Context, journeyID string) error {
	return e.runtime.DeleteJourney(ctx, journeyID)
}
