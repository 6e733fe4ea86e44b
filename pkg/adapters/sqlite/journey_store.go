package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
)

// JourneyStore implements ports.JourneyStore on SQLite.
// Each journey is kept as its JSON document.
type JourneyStore struct {
	db *sql.DB
}

// Save creates or replaces the journey.
func (s *JourneyStore) Save(ctx context.Context, journey *domain.Journey) error {
	if journey.ID == "" {
		return fmt.Errorf("%w: journey missing ID", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(journey)
	if err != nil {
		return fmt.Errorf("failed to marshal journey: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journeys(id, name, document, updated_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, document = excluded.document, updated_at = excluded.updated_at`,
		journey.ID, journey.Name, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save journey %s: %w", journey.ID, err)
	}
	return nil
}

// Get retrieves a journey.
func (s *JourneyStore) Get(ctx context.Context, journeyID string) (*domain.Journey, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM journeys WHERE id = ?", journeyID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJourneyNotFound, journeyID)
	}
	if err != nil {
		return nil, fmt.Errorf("get journey %s: %w", journeyID, err)
	}

	var j domain.Journey
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		return nil, fmt.Errorf("failed to decode journey %s: %w", journeyID, err)
	}
	return &j, nil
}

// List returns every journey id in lexical order.
func (s *JourneyStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM journeys ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list journeys: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan journey id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the journey.
func (s *JourneyStore) Delete(ctx context.Context, journeyID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM journeys WHERE id = ?", journeyID); err != nil {
		return fmt.Errorf("delete journey %s: %w", journeyID, err)
	}
	return nil
}
