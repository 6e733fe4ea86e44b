package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
)

// TraceStore implements ports.TraceStore in memory.
// Safe for concurrent use.
type TraceStore struct {
	traces map[string]*domain.Trace
	order  map[string]int
	next   int
	mu     sync.RWMutex
}

// NewTraceStore creates a new in-memory trace store.
func NewTraceStore() *TraceStore {
	return &TraceStore{
		traces: make(map[string]*domain.Trace),
		order:  make(map[string]int),
	}
}

// Create stores a copy of the trace.
func (s *TraceStore) Create(ctx context.Context, trace *domain.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.traces[trace.RunID]; exists {
		return fmt.Errorf("%w: run %s already exists", domain.ErrInvalidInput, trace.RunID)
	}
	s.traces[trace.RunID] = trace.Clone()
	s.next++
	s.order[trace.RunID] = s.next
	return nil
}

// BeginStep appends an open step.
func (s *TraceStore) BeginStep(ctx context.Context, runID, nodeID string, nodeType domain.NodeType, at time.Time) (int, error) {
	var seq int
	err := s.update(runID, func(t *domain.Trace) (err error) {
		seq, err = t.BeginStep(nodeID, nodeType, at)
		return err
	})
	return seq, err
}

// FinishStep closes the most recent open step for nodeID.
func (s *TraceStore) FinishStep(ctx context.Context, runID, nodeID string, result domain.StepResult, at time.Time) error {
	return s.update(runID, func(t *domain.Trace) error {
		return t.FinishStep(nodeID, result, at)
	})
}

// Complete closes the trace.
func (s *TraceStore) Complete(ctx context.Context, runID string, status domain.TraceStatus, at time.Time) error {
	return s.update(runID, func(t *domain.Trace) error {
		return t.Complete(status, at)
	})
}

// Get returns a snapshot of the trace.
func (s *TraceStore) Get(ctx context.Context, runID string) (*domain.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.traces[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return t.Clone(), nil
}

// List returns the run ids of a journey ordered by start time.
func (s *TraceStore) List(ctx context.Context, journeyID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*domain.Trace
	for _, t := range s.traces {
		if t.JourneyID == journeyID {
			runs = append(runs, t)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return s.order[runs[i].RunID] < s.order[runs[j].RunID]
	})

	ids := make([]string, len(runs))
	for i, t := range runs {
		ids[i] = t.RunID
	}
	return ids, nil
}

// update applies fn to a working copy and keeps it only when fn succeeds.
func (s *TraceStore) update(runID string, fn func(*domain.Trace) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.traces[runID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	working := t.Clone()
	if err := fn(working); err != nil {
		return err
	}
	s.traces[runID] = working
	return nil
}
