package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}

func contractJourney(id string) *domain.Journey {
	return &domain.Journey{
		ID:          id,
		Name:        "contract",
		StartNodeID: "welcome",
		Nodes: []domain.Node{
			&domain.MessageNode{ID: "welcome", Message: "hello", Next: "wait"},
			&domain.DelayNode{ID: "wait", DurationSeconds: 2.5, Next: "check"},
			&domain.ConditionalNode{
				ID:        "check",
				Condition: domain.Condition{Field: "patient.age", Operator: ">", Value: float64(65)},
				OnTrue:    "senior",
			},
			&domain.MessageNode{ID: "senior", Message: "take care"},
		},
	}
}

var contractPatient = domain.PatientContext{
	ID:        "patient-1",
	Age:       70,
	Language:  domain.LanguageEnglish,
	Condition: domain.ProcedureKneeReplacement,
}

// RunJourneyStoreContract runs a suite of tests to verify that a JourneyStore implementation
// adheres to the defined interface contract.
func RunJourneyStoreContract(t *testing.T, store JourneyStore) {
	ctx := context.Background()
	journeyID := "contract-journey-" + contractSuffix()

	t.Run("Save and Get", func(t *testing.T) {
		j := contractJourney(journeyID)
		require.NoError(t, store.Save(ctx, j), "Save should not return error")

		loaded, err := store.Get(ctx, journeyID)
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, j, loaded)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+journeyID)
		assert.ErrorIs(t, err, domain.ErrJourneyNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Save Replaces", func(t *testing.T) {
		j := contractJourney(journeyID)
		j.Name = "renamed"
		require.NoError(t, store.Save(ctx, j))

		loaded, err := store.Get(ctx, journeyID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", loaded.Name)
	})

	t.Run("List", func(t *testing.T) {
		id1 := journeyID + "-1"
		id2 := journeyID + "-2"
		require.NoError(t, store.Save(ctx, contractJourney(id1)))
		require.NoError(t, store.Save(ctx, contractJourney(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, journeyID), "Delete should not return error")

		_, err := store.Get(ctx, journeyID)
		assert.ErrorIs(t, err, domain.ErrJourneyNotFound, "Get after Delete should return ErrJourneyNotFound")
		assert.NoError(t, store.Delete(ctx, journeyID), "Deleting twice is not an error")
	})
}

// RunTraceStoreContract runs a suite of tests to verify that a TraceStore implementation
// adheres to the defined interface contract.
func RunTraceStoreContract(t *testing.T, store TraceStore) {
	ctx := context.Background()
	suffix := contractSuffix()
	journeyID := "contract-journey-" + suffix
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	newTrace := func(runID string) *domain.Trace {
		return domain.NewTrace(runID, journeyID, contractPatient, "welcome", now)
	}

	t.Run("Create and Get", func(t *testing.T) {
		runID := "run-create-" + suffix
		require.NoError(t, store.Create(ctx, newTrace(runID)))

		tr, err := store.Get(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, runID, tr.RunID)
		assert.Equal(t, journeyID, tr.JourneyID)
		assert.Equal(t, domain.StatusInProgress, tr.Status)
		assert.Equal(t, "welcome", tr.CurrentNodeID)
		assert.Equal(t, contractPatient, tr.PatientContext)
		assert.True(t, now.Equal(tr.StartedAt))
		assert.Nil(t, tr.FinishedAt)
		assert.Empty(t, tr.Steps)
	})

	t.Run("Create Duplicate", func(t *testing.T) {
		runID := "run-dup-" + suffix
		require.NoError(t, store.Create(ctx, newTrace(runID)))
		assert.ErrorIs(t, store.Create(ctx, newTrace(runID)), domain.ErrInvalidInput)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.BeginStep(ctx, "missing-"+suffix, "welcome", domain.NodeTypeMessage, now)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Steps Append In Order", func(t *testing.T) {
		runID := "run-steps-" + suffix
		require.NoError(t, store.Create(ctx, newTrace(runID)))

		seq, err := store.BeginStep(ctx, runID, "welcome", domain.NodeTypeMessage, now.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 1, seq)
		require.NoError(t, store.FinishStep(ctx, runID, "welcome", domain.MessageResult("hello"), now.Add(2*time.Second)))

		seq, err = store.BeginStep(ctx, runID, "wait", domain.NodeTypeDelay, now.Add(3*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, seq)

		tr, err := store.Get(ctx, runID)
		require.NoError(t, err)
		require.Len(t, tr.Steps, 2)
		assert.Equal(t, "wait", tr.CurrentNodeID)

		first := tr.Steps[0]
		assert.Equal(t, 1, first.Seq)
		assert.Equal(t, "welcome", first.NodeID)
		assert.Equal(t, domain.NodeTypeMessage, first.Type)
		require.NotNil(t, first.FinishedAt)
		assert.Equal(t, "hello", first.Result["message"])

		second := tr.Steps[1]
		assert.Equal(t, "wait", second.NodeID)
		assert.True(t, second.Open())
		assert.Nil(t, second.Result)
	})

	t.Run("Finish Without Open Step", func(t *testing.T) {
		runID := "run-noopen-" + suffix
		require.NoError(t, store.Create(ctx, newTrace(runID)))
		assert.ErrorIs(t, store.FinishStep(ctx, runID, "welcome", domain.MessageResult("x"), now), domain.ErrStepNotOpen)
	})

	t.Run("Complete Closes Once", func(t *testing.T) {
		runID := "run-complete-" + suffix
		require.NoError(t, store.Create(ctx, newTrace(runID)))
		_, err := store.BeginStep(ctx, runID, "welcome", domain.NodeTypeMessage, now)
		require.NoError(t, err)
		require.NoError(t, store.FinishStep(ctx, runID, "welcome", domain.MessageResult("hello"), now))

		assert.ErrorIs(t, store.Complete(ctx, runID, domain.StatusInProgress, now), domain.ErrInvalidTransition)
		require.NoError(t, store.Complete(ctx, runID, domain.StatusCompleted, now.Add(time.Minute)))

		tr, err := store.Get(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, tr.Status)
		require.NotNil(t, tr.FinishedAt)
		assert.True(t, now.Add(time.Minute).Equal(*tr.FinishedAt))

		assert.ErrorIs(t, store.Complete(ctx, runID, domain.StatusFailed, now), domain.ErrTraceClosed)
		_, err = store.BeginStep(ctx, runID, "wait", domain.NodeTypeDelay, now)
		assert.ErrorIs(t, err, domain.ErrTraceClosed)

		tr, err = store.Get(ctx, runID)
		require.NoError(t, err)
		assert.Len(t, tr.Steps, 1)
		assert.Equal(t, domain.StatusCompleted, tr.Status)
	})

	t.Run("List By Journey", func(t *testing.T) {
		otherJourney := "other-" + suffix
		r1 := "run-list-1-" + suffix
		r2 := "run-list-2-" + suffix
		r3 := "run-list-3-" + suffix
		require.NoError(t, store.Create(ctx, domain.NewTrace(r1, otherJourney, contractPatient, "welcome", now)))
		require.NoError(t, store.Create(ctx, domain.NewTrace(r2, otherJourney, contractPatient, "welcome", now.Add(time.Second))))
		require.NoError(t, store.Create(ctx, domain.NewTrace(r3, journeyID, contractPatient, "welcome", now)))

		ids, err := store.List(ctx, otherJourney)
		require.NoError(t, err)
		assert.Equal(t, []string{r1, r2}, ids)
	})
}

// RunQueueContract runs a suite of tests to verify that a Queue implementation
// adheres to the defined interface contract. The queue under test must retry
// nacked deliveries within a few seconds.
func RunQueueContract(t *testing.T, queue Queue) {
	ctx := context.Background()
	suffix := contractSuffix()

	claim := func(t *testing.T, timeout time.Duration) (*Delivery, error) {
		t.Helper()
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return queue.Claim(cctx)
	}

	run := domain.Run{
		RunID:          "run-" + suffix,
		JourneyID:      "journey-" + suffix,
		CurrentNodeID:  "welcome",
		PatientContext: contractPatient,
	}

	t.Run("Enqueue Claim Ack", func(t *testing.T) {
		id, err := queue.Enqueue(ctx, domain.WorkAction, run, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		d, err := claim(t, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, id, d.ID)
		assert.Equal(t, domain.WorkAction, d.Kind)
		assert.Equal(t, run, d.Run)
		assert.Equal(t, 1, d.Attempt)

		require.NoError(t, queue.Ack(ctx, d))

		_, err = claim(t, 100*time.Millisecond)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "queue should be empty after ack, got %v", err)
	})

	t.Run("Delay Is Honoured", func(t *testing.T) {
		delay := 300 * time.Millisecond
		start := time.Now()
		_, err := queue.Enqueue(ctx, domain.WorkDelay, run.At("wait"), delay)
		require.NoError(t, err)

		_, err = claim(t, 100*time.Millisecond)
		require.ErrorIs(t, err, context.DeadlineExceeded, "delayed work must not be claimable early")

		d, err := claim(t, 3*time.Second)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), delay)
		assert.Equal(t, domain.WorkDelay, d.Kind)
		assert.Equal(t, "wait", d.Run.CurrentNodeID)
		require.NoError(t, queue.Ack(ctx, d))
	})

	t.Run("Nack Redelivers", func(t *testing.T) {
		id, err := queue.Enqueue(ctx, domain.WorkConditional, run.At("check"), 0)
		require.NoError(t, err)

		d, err := claim(t, 2*time.Second)
		require.NoError(t, err)
		require.NoError(t, queue.Nack(ctx, d, errors.New("boom")))

		again, err := claim(t, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, id, again.ID)
		assert.Equal(t, 2, again.Attempt)
		require.NoError(t, queue.Ack(ctx, again))
	})

	t.Run("Due Order", func(t *testing.T) {
		_, err := queue.Enqueue(ctx, domain.WorkAction, run.At("later"), 200*time.Millisecond)
		require.NoError(t, err)
		_, err = queue.Enqueue(ctx, domain.WorkAction, run.At("sooner"), 0)
		require.NoError(t, err)

		first, err := claim(t, 2*time.Second)
		require.NoError(t, err)
		second, err := claim(t, 2*time.Second)
		require.NoError(t, err)

		assert.Equal(t, "sooner", first.Run.CurrentNodeID)
		assert.Equal(t, "later", second.Run.CurrentNodeID)
		require.NoError(t, queue.Ack(ctx, first))
		require.NoError(t, queue.Ack(ctx, second))
	})
}
