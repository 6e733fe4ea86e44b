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

// TraceStore implements ports.TraceStore on SQLite.
// The trace header lives in traces and each step is one row of steps.
// Mutations load the trace, apply the domain state machine and write it back in one transaction.
type TraceStore struct {
	db *sql.DB
}

// Create stores a new trace.
func (s *TraceStore) Create(ctx context.Context, trace *domain.Trace) error {
	patient, err := json.Marshal(trace.PatientContext)
	if err != nil {
		return fmt.Errorf("failed to marshal patient: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces WHERE run_id = ?", trace.RunID).Scan(&n); err != nil {
			return fmt.Errorf("check trace: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: run %s already exists", domain.ErrInvalidInput, trace.RunID)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO traces(run_id, journey_id, status, started_at, finished_at, current_node_id, patient, created_seq)
			VALUES(?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM traces))`,
			trace.RunID, trace.JourneyID, string(trace.Status), formatTime(trace.StartedAt),
			formatNullTime(trace.FinishedAt), trace.CurrentNodeID, string(patient))
		if err != nil {
			return fmt.Errorf("insert trace %s: %w", trace.RunID, err)
		}
		return writeSteps(ctx, tx, trace)
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

// Get retrieves the trace with its steps.
func (s *TraceStore) Get(ctx context.Context, runID string) (*domain.Trace, error) {
	var trace *domain.Trace
	err := s.inTx(ctx, func(tx *sql.Tx) (err error) {
		trace, err = loadTrace(ctx, tx, runID)
		return err
	})
	return trace, err
}

// List returns the run ids of a journey ordered by start time.
func (s *TraceStore) List(ctx context.Context, journeyID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id FROM traces WHERE journey_id = ? ORDER BY started_at, created_seq", journeyID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *TraceStore) update(ctx context.Context, runID string, fn func(*domain.Trace) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		trace, err := loadTrace(ctx, tx, runID)
		if err != nil {
			return err
		}
		if err := fn(trace); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE traces SET status = ?, finished_at = ?, current_node_id = ? WHERE run_id = ?",
			string(trace.Status), formatNullTime(trace.FinishedAt), trace.CurrentNodeID, runID)
		if err != nil {
			return fmt.Errorf("update trace %s: %w", runID, err)
		}
		return writeSteps(ctx, tx, trace)
	})
}

func (s *TraceStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func writeSteps(ctx context.Context, tx *sql.Tx, trace *domain.Trace) error {
	for _, step := range trace.Steps {
		var result sql.NullString
		if step.Result != nil {
			data, err := json.Marshal(step.Result)
			if err != nil {
				return fmt.Errorf("failed to marshal step result: %w", err)
			}
			result = sql.NullString{String: string(data), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps(run_id, seq, node_id, type, started_at, finished_at, result)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, seq) DO UPDATE SET finished_at = excluded.finished_at, result = excluded.result`,
			trace.RunID, step.Seq, step.NodeID, string(step.Type), formatTime(step.StartedAt),
			formatNullTime(step.FinishedAt), result)
		if err != nil {
			return fmt.Errorf("write step %d of %s: %w", step.Seq, trace.RunID, err)
		}
	}
	return nil
}

func loadTrace(ctx context.Context, tx *sql.Tx, runID string) (*domain.Trace, error) {
	var (
		t                 domain.Trace
		status, started   string
		finished, current sql.NullString
		patient           string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT run_id, journey_id, status, started_at, finished_at, current_node_id, patient
		FROM traces WHERE run_id = ?`, runID).
		Scan(&t.RunID, &t.JourneyID, &status, &started, &finished, &current, &patient)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trace %s: %w", runID, err)
	}

	t.Status = domain.TraceStatus(status)
	t.CurrentNodeID = nullStr(current)
	if t.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at of %s: %w", runID, err)
	}
	if t.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, fmt.Errorf("parse finished_at of %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(patient), &t.PatientContext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patient of %s: %w", runID, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, node_id, type, started_at, finished_at, result
		FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("get steps of %s: %w", runID, err)
	}
	defer rows.Close()

	t.Steps = []domain.Step{}
	for rows.Next() {
		var (
			step              domain.Step
			nodeType, started string
			finished, result  sql.NullString
		)
		if err := rows.Scan(&step.Seq, &step.NodeID, &nodeType, &started, &finished, &result); err != nil {
			return nil, fmt.Errorf("scan step of %s: %w", runID, err)
		}
		step.Type = domain.NodeType(nodeType)
		if step.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse step started_at: %w", err)
		}
		if step.FinishedAt, err = parseNullTime(finished); err != nil {
			return nil, fmt.Errorf("parse step finished_at: %w", err)
		}
		if result.Valid {
			if err := json.Unmarshal([]byte(result.String), &step.Result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step result: %w", err)
			}
		}
		t.Steps = append(t.Steps, step)
	}
	return &t, rows.Err()
}
