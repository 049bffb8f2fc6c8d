// Package store persists one audit row per pipeline run. Persistence is
// additive: a store failure downgrades to a run warning, never a run failure.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"finsynth/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	correlation_id  TEXT PRIMARY KEY,
	query           TEXT NOT NULL,
	started_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP NOT NULL,
	status          TEXT NOT NULL,
	final_level     TEXT,
	confidence      REAL,
	freshness       REAL,
	agreement       REAL,
	report_json     TEXT,
	warnings_json   TEXT,
	lifecycle_json  TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Store is the sqlite-backed run audit log.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating audit db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Run is one audit row.
type Run struct {
	CorrelationID string
	Query         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string
	FinalLevel    types.RiskLevel
	Confidence    float64
	Freshness     float64
	Agreement     float64
	Report        *types.FinalReport
	Warnings      []string
	Lifecycle     any // lifecycle transition trace, stored as JSON
}

// Record inserts one completed run.
func (s *Store) Record(ctx context.Context, run Run) error {
	reportJSON, err := marshalOrNull(run.Report)
	if err != nil {
		return err
	}
	warningsJSON, err := marshalOrNull(run.Warnings)
	if err != nil {
		return err
	}
	lifecycleJSON, err := marshalOrNull(run.Lifecycle)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (correlation_id, query, started_at, finished_at, status,
			final_level, confidence, freshness, agreement,
			report_json, warnings_json, lifecycle_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.CorrelationID, run.Query, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status,
		string(run.FinalLevel), run.Confidence, run.Freshness, run.Agreement,
		reportJSON, warningsJSON, lifecycleJSON)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.CorrelationID, err)
	}
	return nil
}

// History returns the most recent runs, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id, query, started_at, finished_at, status,
			COALESCE(final_level, ''), COALESCE(confidence, 0),
			COALESCE(freshness, 0), COALESCE(agreement, 0),
			COALESCE(warnings_json, 'null')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var level, warningsJSON string
		if err := rows.Scan(&r.CorrelationID, &r.Query, &r.StartedAt, &r.FinishedAt, &r.Status,
			&level, &r.Confidence, &r.Freshness, &r.Agreement, &warningsJSON); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.FinalLevel = types.RiskLevel(level)
		_ = json.Unmarshal([]byte(warningsJSON), &r.Warnings)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get loads one full run by correlation id, including the report payload.
func (s *Store) Get(ctx context.Context, correlationID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, query, started_at, finished_at, status,
			COALESCE(final_level, ''), COALESCE(confidence, 0),
			COALESCE(freshness, 0), COALESCE(agreement, 0),
			COALESCE(report_json, 'null'), COALESCE(warnings_json, 'null')
		FROM runs WHERE correlation_id = ?`, correlationID)

	var r Run
	var level, reportJSON, warningsJSON string
	err := row.Scan(&r.CorrelationID, &r.Query, &r.StartedAt, &r.FinishedAt, &r.Status,
		&level, &r.Confidence, &r.Freshness, &r.Agreement, &reportJSON, &warningsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", correlationID, err)
	}
	r.FinalLevel = types.RiskLevel(level)
	_ = json.Unmarshal([]byte(reportJSON), &r.Report)
	_ = json.Unmarshal([]byte(warningsJSON), &r.Warnings)
	return &r, nil
}

func marshalOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit payload: %w", err)
	}
	return string(raw), nil
}
