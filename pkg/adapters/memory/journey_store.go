package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/journeys/pkg/domain"
)

// JourneyStore implements ports.JourneyStore using an in-memory map of JSON documents.
// Journeys are serialized on Save, so callers never share node pointers with the store.
// Safe for concurrent use.
type JourneyStore struct {
	docs map[string][]byte
	mu   sync.RWMutex
}

// NewJourneyStore creates a new empty in-memory journey store.
func NewJourneyStore() *JourneyStore {
	return &JourneyStore{docs: make(map[string][]byte)}
}

// NewJourneyStoreFromJSON creates a store with the provided raw documents keyed by journey id.
// Documents are decoded lazily on Get.
func NewJourneyStoreFromJSON(data map[string]string) *JourneyStore {
	docs := make(map[string][]byte, len(data))
	for k, v := range data {
		docs[k] = []byte(v)
	}
	return &JourneyStore{docs: docs}
}

// NewJourneyStoreFrom creates a store from domain objects.
// This handles serialization automatically, improving DX for tests.
func NewJourneyStoreFrom(journeys ...*domain.Journey) (*JourneyStore, error) {
	s := NewJourneyStore()
	for _, j := range journeys {
		if err := s.Save(context.Background(), j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Save persists the journey in memory.
func (s *JourneyStore) Save(ctx context.Context, journey *domain.Journey) error {
	if journey.ID == "" {
		return fmt.Errorf("%w: journey missing ID", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(journey)
	if err != nil {
		return fmt.Errorf("failed to marshal journey %s: %w", journey.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[journey.ID] = data
	return nil
}

// Get retrieves and decodes a journey.
func (s *JourneyStore) Get(ctx context.Context, journeyID string) (*domain.Journey, error) {
	s.mu.RLock()
	data, ok := s.docs[journeyID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJourneyNotFound, journeyID)
	}

	var j domain.Journey
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode journey %s: %w", journeyID, err)
	}
	return &j, nil
}

// List returns all journey ids in deterministic order.
func (s *JourneyStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the journey.
func (s *JourneyStore) Delete(ctx context.Context, journeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, journeyID)
	return nil
}
