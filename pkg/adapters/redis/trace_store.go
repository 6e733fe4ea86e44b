package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// ErrContention is returned when an optimistic transaction keeps losing the race.
var ErrContention = errors.New("trace update lost too many optimistic races")

// TraceStore implements ports.TraceStore using Redis.
//
// Each trace is a JSON string updated with WATCH/MULTI, so concurrent workers never
// lose each other's steps. A ZSET per journey, scored by start time, lists its runs.
type TraceStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewTraceStore creates a trace store from an existing client.
func NewTraceStore(client *backend.Client, opts ...Option) *TraceStore {
	c := newConfig(opts)
	return &TraceStore{client: client, prefix: c.prefix + "trace:", ttl: c.ttl}
}

func (s *TraceStore) key(runID string) string {
	return s.prefix + runID
}

func (s *TraceStore) journeyIndexKey(journeyID string) string {
	return s.prefix + "journey:" + journeyID
}

// Create stores a new trace and indexes it under its journey.
func (s *TraceStore) Create(ctx context.Context, trace *domain.Trace) error {
	data, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	key := s.key(trace.RunID)

	return s.retry(ctx, key, func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: run %s already exists", domain.ErrInvalidInput, trace.RunID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, s.journeyIndexKey(trace.JourneyID), backend.Z{
				Score:  float64(trace.StartedAt.UnixMilli()),
				Member: trace.RunID,
			})
			if s.ttl > 0 {
				// The index outlives its newest trace by at most the TTL.
				pipe.Expire(ctx, s.journeyIndexKey(trace.JourneyID), s.ttl)
			}
			return nil
		})
		return err
	})
}

// BeginStep appends an open step.
func (s *TraceStore) BeginStep(ctx context.Context, runID, nodeID string, nodeType domain.NodeType, at time.Time) (int, error) {
	var seq int
	err := s.update(ctx, runID, func(t *domain.Trace) (err error) {
		seq, err = t.BeginStep(nodeID, nodeType, at)
		return err
	})
	return seq, err
}

// FinishStep closes the most recent open step for nodeID.
func (s *TraceStore) FinishStep(ctx context.Context, runID, nodeID string, result domain.StepResult, at time.Time) error {
	return s.update(ctx, runID, func(t *domain.Trace) error {
		return t.FinishStep(nodeID, result, at)
	})
}

// Complete closes the trace.
func (s *TraceStore) Complete(ctx context.Context, runID string, status domain.TraceStatus, at time.Time) error {
	return s.update(ctx, runID, func(t *domain.Trace) error {
		return t.Complete(status, at)
	})
}

// Get retrieves the trace.
func (s *TraceStore) Get(ctx context.Context, runID string) (*domain.Trace, error) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get trace from redis: %w", err)
	}
	return decodeTrace(data)
}

// List returns the run ids of a journey ordered by start time.
// Ids whose trace has expired are skipped and removed from the index.
func (s *TraceStore) List(ctx context.Context, journeyID string) ([]string, error) {
	indexKey := s.journeyIndexKey(journeyID)
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	exists := make([]*backend.IntCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe backend.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	live := make([]string, 0, len(ids))
	var expired []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, indexKey, expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired runs: %w", err)
		}
	}
	return live, nil
}

// update loads the trace inside a WATCH, applies fn and writes it back in a MULTI.
func (s *TraceStore) update(ctx context.Context, runID string, fn func(*domain.Trace) error) error {
	key := s.key(runID)
	return s.retry(ctx, key, func(tx *backend.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
			}
			return err
		}
		trace, err := decodeTrace(data)
		if err != nil {
			return err
		}
		if err := fn(trace); err != nil {
			return err
		}
		out, err := json.Marshal(trace)
		if err != nil {
			return fmt.Errorf("failed to marshal trace: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, out, backend.KeepTTL)
			return nil
		})
		return err
	})
}

func (s *TraceStore) retry(ctx context.Context, key string, txf func(*backend.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrContention, key)
}

func decodeTrace(data []byte) (*domain.Trace, error) {
	var t domain.Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	if t.Steps == nil {
		t.Steps = []domain.Step{}
	}
	return &t, nil
}
