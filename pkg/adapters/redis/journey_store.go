package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/journeys/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// JourneyStore implements ports.JourneyStore using Redis.
// Each journey is a JSON string; a ZSET indexes the ids.
type JourneyStore struct {
	client *backend.Client
	prefix string
}

// NewJourneyStore creates a journey store from an existing client.
func NewJourneyStore(client *backend.Client, opts ...Option) *JourneyStore {
	c := newConfig(opts)
	return &JourneyStore{client: client, prefix: c.prefix + "journey:"}
}

func (s *JourneyStore) key(journeyID string) string {
	return s.prefix + journeyID
}

func (s *JourneyStore) indexKey() string {
	return s.prefix + "index"
}

// Save persists the journey and indexes its id.
func (s *JourneyStore) Save(ctx context.Context, journey *domain.Journey) error {
	if journey.ID == "" {
		return fmt.Errorf("%w: journey missing ID", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(journey)
	if err != nil {
		return fmt.Errorf("failed to marshal journey: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(journey.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: 0, Member: journey.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save journey to redis: %w", err)
	}
	return nil
}

// Get retrieves a journey.
func (s *JourneyStore) Get(ctx context.Context, journeyID string) (*domain.Journey, error) {
	data, err := s.client.Get(ctx, s.key(journeyID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJourneyNotFound, journeyID)
		}
		return nil, fmt.Errorf("failed to get journey from redis: %w", err)
	}

	var j domain.Journey
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journey %s: %w", journeyID, err)
	}
	return &j, nil
}

// List returns the indexed journey ids in lexical order.
func (s *JourneyStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}
	return ids, nil
}

// Delete removes the journey and its index entry.
func (s *JourneyStore) Delete(ctx context.Context, journeyID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(journeyID))
	pipe.ZRem(ctx, s.indexKey(), journeyID)
	_, err := pipe.Exec(ctx)
	return err
}
