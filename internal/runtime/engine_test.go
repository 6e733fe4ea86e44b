package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/journeys/internal/runtime"
	"github.com/aretw0/journeys/pkg/adapters/memory"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var senior = domain.PatientContext{ID: "p-60", Age: 60, Language: domain.LanguageEnglish, Condition: domain.ProcedureHipReplacement}

func branchJourney() *domain.Journey {
	return &domain.Journey{
		ID:          "11111111-1111-1111-1111-111111111111",
		Name:        "branch",
		StartNodeID: "c1",
		Nodes: []domain.Node{
			&domain.ConditionalNode{
				ID:        "c1",
				Condition: domain.Condition{Field: "patient.age", Operator: ">", Value: float64(50)},
				OnTrue:    "m-true",
				OnFalse:   "m-false",
			},
			&domain.MessageNode{ID: "m-true", Message: "over fifty"},
			&domain.MessageNode{ID: "m-false", Message: "fifty or under"},
		},
	}
}

func delayJourney(seconds float64) *domain.Journey {
	return &domain.Journey{
		ID:          "22222222-2222-2222-2222-222222222222",
		Name:        "delay",
		StartNodeID: "d1",
		Nodes: []domain.Node{
			&domain.DelayNode{ID: "d1", DurationSeconds: seconds, Next: "m1"},
			&domain.MessageNode{ID: "m1", Message: "after the wait"},
		},
	}
}

type harness struct {
	engine    *runtime.Engine
	journeys  *memory.JourneyStore
	traces    *memory.TraceStore
	queue     *memory.Queue
	messenger *memory.Messenger
}

func newHarness(t *testing.T, journeys []*domain.Journey, opts ...runtime.EngineOption) *harness {
	t.Helper()
	store, err := memory.NewJourneyStoreFrom(journeys...)
	require.NoError(t, err)

	h := &harness{
		journeys:  store,
		traces:    memory.NewTraceStore(),
		queue:     memory.NewQueue(memory.WithBackoff(ports.ConstantBackoff(time.Millisecond))),
		messenger: memory.NewMessenger(),
	}
	opts = append([]runtime.EngineOption{runtime.WithMessenger(h.messenger)}, opts...)
	h.engine = runtime.NewEngine(h.journeys, h.traces, h.queue, opts...)
	return h
}

// drain handles deliveries until the queue stays empty for idle.
func (h *harness) drain(t *testing.T, idle time.Duration) []error {
	t.Helper()
	var errs []error
	for {
		ctx, cancel := context.WithTimeout(context.Background(), idle)
		d, err := h.queue.Claim(ctx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return errs
		}
		require.NoError(t, err)

		if err := h.engine.Handle(context.Background(), d.Kind, d.Run); err != nil {
			errs = append(errs, err)
			require.NoError(t, h.queue.Ack(context.Background(), d))
			continue
		}
		require.NoError(t, h.queue.Ack(context.Background(), d))
	}
}

type enqueued struct {
	kind  domain.WorkKind
	run   domain.Run
	delay time.Duration
}

// recordingQueue captures enqueues without delivering them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, kind domain.WorkKind, run domain.Run, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, enqueued{kind: kind, run: run, delay: delay})
	return "work-" + run.CurrentNodeID, nil
}

func (q *recordingQueue) Claim(ctx context.Context) (*ports.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *recordingQueue) Ack(context.Context, *ports.Delivery) error { return nil }

func (q *recordingQueue) Nack(context.Context, *ports.Delivery, error) error { return nil }

func TestEngine_ConditionalScenarios(t *testing.T) {
	tests := []struct {
		name    string
		age     float64
		want    string
		outcome bool
	}{
		{"age above threshold", 60, "m-true", true},
		{"age below threshold", 40, "m-false", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []*domain.Journey{branchJourney()})
			ctx := context.Background()
			patient := senior
			patient.Age = tt.age

			runID, err := h.engine.Trigger(ctx, branchJourney().ID, patient)
			require.NoError(t, err)
			assert.Empty(t, h.drain(t, 100*time.Millisecond))

			status, err := h.engine.RunStatus(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, status.Status)
			assert.Equal(t, tt.want, status.CurrentNodeID)

			trace, err := h.engine.RunTrace(ctx, runID)
			require.NoError(t, err)
			require.Len(t, trace.Steps, 2)
			first := trace.Steps[0]
			assert.Equal(t, "c1", first.NodeID)
			assert.Equal(t, tt.outcome, first.Result["outcome"])
			assert.Equal(t, tt.age, first.Result["evaluated"])
			assert.Equal(t, tt.want, first.Result["next_node_id"])
			assert.Equal(t, tt.want, trace.Steps[1].NodeID)
			require.NotNil(t, trace.FinishedAt)

			sent := h.messenger.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, runID+":"+tt.want, sent[0].DedupeKey)
		})
	}
}

func TestEngine_DelayScenario(t *testing.T) {
	h := newHarness(t, []*domain.Journey{delayJourney(1)})
	ctx := context.Background()

	triggered := time.Now()
	runID, err := h.engine.Trigger(ctx, delayJourney(1).ID, senior)
	require.NoError(t, err)

	status, err := h.engine.RunStatus(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, status.Status)
	assert.Equal(t, "d1", status.CurrentNodeID)

	assert.Empty(t, h.drain(t, 1500*time.Millisecond))

	trace, err := h.engine.RunTrace(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, trace.Status)
	require.Len(t, trace.Steps, 2)
	assert.Equal(t, "d1", trace.Steps[0].NodeID)
	assert.Equal(t, float64(1), trace.Steps[0].Result["duration_seconds"])
	assert.GreaterOrEqual(t, trace.Steps[0].StartedAt.Sub(triggered), time.Second)
	assert.Equal(t, "m1", trace.Steps[1].NodeID)
	assert.Equal(t, "m1", trace.CurrentNodeID)
}

func TestEngine_TriggerUnknownJourney(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	runID, err := h.engine.Trigger(ctx, "33333333-3333-3333-3333-333333333333", senior)
	assert.ErrorIs(t, err, domain.ErrJourneyNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, runID)

	runs, err := h.traces.List(ctx, "33333333-3333-3333-3333-333333333333")
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Equal(t, 0, h.queue.Len())
}

func TestEngine_TriggerInvalidPatient(t *testing.T) {
	h := newHarness(t, []*domain.Journey{branchJourney()})
	patient := senior
	patient.Language = "de"

	_, err := h.engine.Trigger(context.Background(), branchJourney().ID, patient)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 0, h.queue.Len())
}

func TestEngine_RunQueriesUnknownRun(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.RunTrace(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.engine.RunStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestEngine_TriggerEnqueueFailureLeavesOpenTrace(t *testing.T) {
	store, err := memory.NewJourneyStoreFrom(branchJourney())
	require.NoError(t, err)
	traces := memory.NewTraceStore()
	queue := &recordingQueue{err: errors.New("queue down")}
	engine := runtime.NewEngine(store, traces, queue)

	runID, err := engine.Trigger(context.Background(), branchJourney().ID, senior)
	require.Error(t, err)
	require.NotEmpty(t, runID)

	trace, err := traces.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, trace.Status)
	assert.Empty(t, trace.Steps)
	assert.Equal(t, "c1", trace.CurrentNodeID)
}

func TestEngine_SubmitSelectsWorkKind(t *testing.T) {
	j := &domain.Journey{
		ID:          "j",
		StartNodeID: "m",
		Nodes: []domain.Node{
			&domain.MessageNode{ID: "m", Message: "hi", Next: "d"},
			&domain.DelayNode{ID: "d", DurationSeconds: 2.5, Next: "c"},
			&domain.ConditionalNode{ID: "c", Condition: domain.Condition{Field: "age", Operator: ">", Value: 1}},
		},
	}
	store, err := memory.NewJourneyStoreFrom(j)
	require.NoError(t, err)
	queue := &recordingQueue{}
	traces := memory.NewTraceStore()
	engine := runtime.NewEngine(store, traces, queue)
	ctx := context.Background()

	run := domain.Run{RunID: "r", JourneyID: "j", PatientContext: senior}
	for _, node := range []string{"m", "d", "c"} {
		id, err := engine.Submit(ctx, run.At(node))
		require.NoError(t, err)
		assert.Equal(t, "work-"+node, id)
	}

	require.Len(t, queue.jobs, 3)
	assert.Equal(t, enqueued{kind: domain.WorkAction, run: run.At("m")}, queue.jobs[0])
	assert.Equal(t, enqueued{kind: domain.WorkDelay, run: run.At("d"), delay: 2500 * time.Millisecond}, queue.jobs[1])
	assert.Equal(t, enqueued{kind: domain.WorkConditional, run: run.At("c")}, queue.jobs[2])

	_, err = traces.Get(ctx, "r")
	assert.ErrorIs(t, err, domain.ErrRunNotFound, "Submit must not touch the trace")
}

func TestEngine_SubmitErrors(t *testing.T) {
	store := memory.NewJourneyStoreFromJSON(map[string]string{
		"j":   `{"id":"j","name":"x","start_node_id":"a","nodes":[{"id":"a","type":"MESSAGE","message":"m"}]}`,
		"odd": `{"id":"odd","name":"x","start_node_id":"a","nodes":[{"id":"a","type":"WEBHOOK"}]}`,
	})
	queue := &recordingQueue{}
	engine := runtime.NewEngine(store, memory.NewTraceStore(), queue)
	ctx := context.Background()

	_, err := engine.Submit(ctx, domain.Run{RunID: "r", JourneyID: "j"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = engine.Submit(ctx, domain.Run{RunID: "r", CurrentNodeID: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = engine.Submit(ctx, domain.Run{RunID: "r", JourneyID: "nope", CurrentNodeID: "a"})
	assert.ErrorIs(t, err, domain.ErrJourneyNotFound)

	_, err = engine.Submit(ctx, domain.Run{RunID: "r", JourneyID: "j", CurrentNodeID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)

	_, err = engine.Submit(ctx, domain.Run{RunID: "r", JourneyID: "odd", CurrentNodeID: "a"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedNodeType)

	assert.Empty(t, queue.jobs)
}

func TestEngine_HandleNodeMismatchLeavesStepOpen(t *testing.T) {
	h := newHarness(t, []*domain.Journey{branchJourney()})
	ctx := context.Background()
	runID := "run-mismatch"
	require.NoError(t, h.traces.Create(ctx, domain.NewTrace(runID, branchJourney().ID, senior, "c1", time.Now())))

	err := h.engine.Handle(ctx, domain.WorkAction, domain.Run{RunID: runID, JourneyID: branchJourney().ID, CurrentNodeID: "c1", PatientContext: senior})
	assert.ErrorIs(t, err, domain.ErrNodeMismatch)

	var nerr *domain.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "c1", nerr.NodeID)

	trace, err := h.traces.Get(ctx, runID)
	require.NoError(t, err)
	require.Len(t, trace.Steps, 1)
	assert.True(t, trace.Steps[0].Open())
	assert.Equal(t, domain.StatusInProgress, trace.Status)
	assert.Equal(t, 0, h.queue.Len())
	assert.Empty(t, h.messenger.Sent())
}

func TestEngine_HandleUnknownOperatorLeavesStepOpen(t *testing.T) {
	j := branchJourney()
	j.Nodes[0].(*domain.ConditionalNode).Condition.Operator = ">="
	h := newHarness(t, []*domain.Journey{j})
	ctx := context.Background()

	runID, err := h.engine.Trigger(ctx, j.ID, senior)
	require.NoError(t, err)

	errs := h.drain(t, 100*time.Millisecond)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrUnsupportedOperator)

	trace, err := h.engine.RunTrace(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, trace.Status)
	require.Len(t, trace.Steps, 1)
	assert.True(t, trace.Steps[0].Open())
	assert.Nil(t, trace.Steps[0].Result)
}

func TestEngine_HandleMissingNodeAtDelivery(t *testing.T) {
	h := newHarness(t, []*domain.Journey{delayJourney(0)})
	ctx := context.Background()
	runID := "run-ghost"
	require.NoError(t, h.traces.Create(ctx, domain.NewTrace(runID, delayJourney(0).ID, senior, "d1", time.Now())))

	err := h.engine.Handle(ctx, domain.WorkDelay, domain.Run{RunID: runID, JourneyID: delayJourney(0).ID, CurrentNodeID: "ghost", PatientContext: senior})
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
	assert.Equal(t, 0, h.queue.Len())
}

func TestEngine_HandleOnClosedTrace(t *testing.T) {
	h := newHarness(t, []*domain.Journey{delayJourney(0)})
	ctx := context.Background()
	runID := "run-closed"
	require.NoError(t, h.traces.Create(ctx, domain.NewTrace(runID, delayJourney(0).ID, senior, "d1", time.Now())))
	require.NoError(t, h.traces.Complete(ctx, runID, domain.StatusFailed, time.Now()))

	err := h.engine.Handle(ctx, domain.WorkDelay, domain.Run{RunID: runID, JourneyID: delayJourney(0).ID, CurrentNodeID: "d1", PatientContext: senior})
	assert.ErrorIs(t, err, domain.ErrTraceClosed)
	assert.Equal(t, 0, h.queue.Len())
}

func TestEngine_RedeliveryAppendsStepAndDedupesMessage(t *testing.T) {
	j := &domain.Journey{
		ID:          "j-redeliver",
		StartNodeID: "m1",
		Nodes: []domain.Node{
			&domain.MessageNode{ID: "m1", Message: "hello", Next: "d1"},
			&domain.DelayNode{ID: "d1", DurationSeconds: 60},
		},
	}
	h := newHarness(t, []*domain.Journey{j})
	ctx := context.Background()
	runID := "run-redeliver"
	require.NoError(t, h.traces.Create(ctx, domain.NewTrace(runID, j.ID, senior, "m1", time.Now())))

	run := domain.Run{RunID: runID, JourneyID: j.ID, CurrentNodeID: "m1", PatientContext: senior}
	require.NoError(t, h.engine.Handle(ctx, domain.WorkAction, run))
	require.NoError(t, h.engine.Handle(ctx, domain.WorkAction, run))

	trace, err := h.traces.Get(ctx, runID)
	require.NoError(t, err)
	require.Len(t, trace.Steps, 2)
	assert.Equal(t, 1, trace.Steps[0].Seq)
	assert.Equal(t, 2, trace.Steps[1].Seq)
	assert.False(t, trace.Steps[0].Open())
	assert.False(t, trace.Steps[1].Open())
	assert.Len(t, h.messenger.Sent(), 1)
	assert.Equal(t, 2, h.queue.Len())
}

func TestEngine_LifecycleHooks(t *testing.T) {
	var mu sync.Mutex
	var events []domain.EventType
	record := func(e domain.EventType) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	hooks := domain.LifecycleHooks{
		OnRunStart:    func(_ context.Context, e *domain.RunEvent) { record(e.Type) },
		OnStepBegin:   func(_ context.Context, e *domain.StepEvent) { record(e.Type) },
		OnStepFinish:  func(_ context.Context, e *domain.StepEvent) { record(e.Type) },
		OnStepError:   func(_ context.Context, e *domain.StepEvent) { record(e.Type) },
		OnRunComplete: func(_ context.Context, e *domain.RunEvent) { record(e.Type) },
	}

	h := newHarness(t, []*domain.Journey{branchJourney()}, runtime.WithLifecycleHooks(hooks))
	_, err := h.engine.Trigger(context.Background(), branchJourney().ID, senior)
	require.NoError(t, err)
	h.drain(t, 100*time.Millisecond)

	assert.Equal(t, []domain.EventType{
		domain.EventRunStart,
		domain.EventStepBegin, domain.EventStepFinish,
		domain.EventStepBegin, domain.EventStepFinish,
		domain.EventRunComplete,
	}, events)
}

func TestEngine_AbandonRun(t *testing.T) {
	var completed *domain.RunEvent
	hooks := domain.LifecycleHooks{OnRunComplete: func(_ context.Context, e *domain.RunEvent) { completed = e }}
	h := newHarness(t, []*domain.Journey{delayJourney(60)}, runtime.WithLifecycleHooks(hooks))
	ctx := context.Background()

	runID, err := h.engine.Trigger(ctx, delayJourney(60).ID, senior)
	require.NoError(t, err)

	require.NoError(t, h.engine.AbandonRun(ctx, runID))
	status, err := h.engine.RunStatus(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, status.Status)
	require.NotNil(t, completed)
	assert.Equal(t, domain.StatusFailed, completed.Status)

	assert.ErrorIs(t, h.engine.AbandonRun(ctx, runID), domain.ErrTraceClosed)
	assert.ErrorIs(t, h.engine.AbandonRun(ctx, "missing"), domain.ErrRunNotFound)
}

func TestEngine_CreateJourney(t *testing.T) {
	h := newHarness(t, nil, runtime.WithIDGenerator(func() string { return "generated" }))
	ctx := context.Background()

	j := branchJourney()
	j.ID = ""
	id, err := h.engine.CreateJourney(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, "generated", id)

	loaded, err := h.engine.GetJourney(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "c1", loaded.StartNodeID)

	all, err := h.engine.ListJourneys(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	bad := branchJourney()
	bad.StartNodeID = "nowhere"
	_, err = h.engine.CreateJourney(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, h.engine.DeleteJourney(ctx, id))
	_, err = h.engine.GetJourney(ctx, id)
	assert.ErrorIs(t, err, domain.ErrJourneyNotFound)
}
