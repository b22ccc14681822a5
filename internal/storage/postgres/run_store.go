package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

// RunStore implements content.RunStore on a Postgres table.
type RunStore struct {
	pool  Pool
	table string
}

// NewRunStore builds a run store over pool. An empty table defaults to
// pipeline_runs.
func NewRunStore(pool Pool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "pipeline_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

// EnsureSchema creates the runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	submitted_at  TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	report        JSONB
);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// CreateRun inserts a queued run.
func (s *RunStore) CreateRun(ctx context.Context, run content.Run) error {
	status := run.Status
	if status == "" {
		status = content.RunStatusQueued
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, source, status, submitted_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING;`, s.table)
	tag, err := s.pool.Exec(ctx, query, run.ID, string(run.Source), string(status), run.Submitted)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create run %s: %w", run.ID, content.ErrRunExists)
	}
	return nil
}

// StartRun marks a run as running, keeping the first start time.
func (s *RunStore) StartRun(ctx context.Context, runID string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, started_at = COALESCE(started_at, $2)
WHERE id = $3;`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(content.RunStatusRunning), at, runID)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("start run %s: %w", runID, content.ErrRunNotFound)
	}
	return nil
}

// FinishRun stores the terminal status and report.
func (s *RunStore) FinishRun(ctx context.Context, runID string, status content.RunStatus, report content.RunReport, at time.Time) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, report = $2, started_at = COALESCE(started_at, $3), finished_at = $3
WHERE id = $4;`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(status), payload, at, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, content.ErrRunNotFound)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (content.Run, error) {
	query := fmt.Sprintf(`
SELECT id, source, status, submitted_at, started_at, finished_at, report
FROM %s
WHERE id = $1;`, s.table)

	var (
		id, source, status string
		submitted          time.Time
		started, finished  *time.Time
		report             []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(&id, &source, &status, &submitted, &started, &finished, &report)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return content.Run{}, fmt.Errorf("get run %s: %w", runID, content.ErrRunNotFound)
		}
		return content.Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	run := content.Run{
		ID:        id,
		Source:    content.Source(source),
		Status:    content.RunStatus(status),
		Submitted: submitted.UTC(),
		Started:   utcPtr(started),
		Finished:  utcPtr(finished),
	}
	if len(report) > 0 {
		var r content.RunReport
		if err := json.Unmarshal(report, &r); err != nil {
			return content.Run{}, fmt.Errorf("decode run report: %w", err)
		}
		run.Report = &r
	}
	return run, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
