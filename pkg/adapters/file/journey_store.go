// Package file provides a journey store over a directory of JSON or YAML documents,
// so journey definitions can be versioned next to the code that uses them.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/journeys/pkg/domain"
	"gopkg.in/yaml.v3"
)

var extensions = []string{".json", ".yaml", ".yml"}

// JourneyStore implements ports.JourneyStore using the local filesystem.
// Each journey is one file named <id>.json, <id>.yaml or <id>.yml in BasePath.
// Save always writes JSON.
type JourneyStore struct {
	BasePath string
}

// NewJourneyStore creates a store rooted at basePath.
// If basePath is empty, it defaults to "journeys".
func NewJourneyStore(basePath string) *JourneyStore {
	if basePath == "" {
		basePath = "journeys"
	}
	return &JourneyStore{BasePath: basePath}
}

func validID(id string) error {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: journey id %q is not a valid file name", domain.ErrInvalidInput, id)
	}
	return nil
}

// Save writes the journey as JSON atomically, replacing any YAML variant.
// It writes to a temporary file first, syncs it and then renames it to the destination.
func (s *JourneyStore) Save(ctx context.Context, journey *domain.Journey) error {
	if err := validID(journey.ID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure journey directory: %w", err)
	}

	data, err := json.MarshalIndent(journey, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journey: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+journey.ID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := s.removeVariants(journey.ID); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(s.BasePath, journey.ID+".json")); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Get reads and decodes the journey document.
func (s *JourneyStore) Get(ctx context.Context, journeyID string) (*domain.Journey, error) {
	if err := validID(journeyID); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrJourneyNotFound, journeyID)
	}
	for _, ext := range extensions {
		path := filepath.Join(s.BasePath, journeyID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read journey file: %w", err)
		}
		j, err := Decode(data, ext)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if j.ID == "" {
			j.ID = journeyID
		}
		return j, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrJourneyNotFound, journeyID)
}

// List returns the ids of every journey file in lexical order.
func (s *JourneyStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}

	seen := make(map[string]bool)
	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || !isJourneyExt(ext) || strings.HasPrefix(name, "tmp-") {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes every file variant of the journey.
func (s *JourneyStore) Delete(ctx context.Context, journeyID string) error {
	if err := validID(journeyID); err != nil {
		return err
	}
	return s.removeVariants(journeyID)
}

func (s *JourneyStore) removeVariants(journeyID string) error {
	for _, ext := range extensions {
		err := os.Remove(filepath.Join(s.BasePath, journeyID+ext))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete journey file: %w", err)
		}
	}
	return nil
}

func isJourneyExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Decode parses a journey document. YAML documents (ext ".yaml" or ".yml") are
// converted to JSON first so both formats share the node decoding rules.
func Decode(data []byte, ext string) (*domain.Journey, error) {
	if ext == ".yaml" || ext == ".yml" {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert yaml: %w", err)
		}
		data = converted
	}

	var j domain.Journey
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
