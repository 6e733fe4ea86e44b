package ports

import (
	"context"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
)

// JourneyStore persists journey definitions.
// Implementations do not validate definitions; the engine does that before saving.
type JourneyStore interface {
	// Save creates or replaces the journey with the same ID.
	Save(ctx context.Context, journey *domain.Journey) error

	// Get retrieves a journey by ID.
	// Returns domain.ErrJourneyNotFound if the journey does not exist.
	Get(ctx context.Context, journeyID string) (*domain.Journey, error)

	// List returns the IDs of every stored journey.
	List(ctx context.Context) ([]string, error)

	// Delete removes a journey. Deleting a missing journey is not an error.
	Delete(ctx context.Context, journeyID string) error
}

// TraceStore persists the execution trace of each run.
// Every mutation goes through the domain.Trace state machine, so a closed trace
// rejects further changes with domain.ErrTraceClosed.
type TraceStore interface {
	// Create stores a new trace. Creating an existing run id returns domain.ErrInvalidInput.
	Create(ctx context.Context, trace *domain.Trace) error

	// BeginStep appends an open step for nodeID and returns its 1-based sequence number.
	BeginStep(ctx context.Context, runID, nodeID string, nodeType domain.NodeType, at time.Time) (int, error)

	// FinishStep closes the most recent open step for nodeID with its result.
	FinishStep(ctx context.Context, runID, nodeID string, result domain.StepResult, at time.Time) error

	// Complete closes the trace with domain.StatusCompleted or domain.StatusFailed.
	Complete(ctx context.Context, runID string, status domain.TraceStatus, at time.Time) error

	// Get retrieves a snapshot of the trace.
	// Returns domain.ErrRunNotFound if the run does not exist.
	Get(ctx context.Context, runID string) (*domain.Trace, error)

	// List returns the run ids recorded for a journey, oldest first.
	List(ctx context.Context, journeyID string) ([]string, error)
}
