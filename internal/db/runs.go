package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Run Journal Methods
// -----------------------------------------------------------------------------

// CreateRun inserts a running upload run
func (db *DB) CreateRun(ctx context.Context, input *RunInput) error {
	startedAt := input.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, record_id, file_name, kind, stage_count, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		input.ID, input.RecordID, input.FileName, input.Kind, input.StageCount, RunStatusRunning, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteStage records that a stage of a run finished
func (db *DB) CompleteStage(ctx context.Context, runID uuid.UUID, stage string, position int, completedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO ingestion_run_stages (run_id, stage, position, completed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, stage) DO NOTHING`,
		runID, stage, position, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete stage %s: %w", stage, err)
	}
	return nil
}

// CompleteRun marks a run as succeeded or failed
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, errorMessage string, completedAt time.Time) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}

	_, err := db.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		status, errMsg, completedAt, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its completed stages by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, record_id, file_name, kind, stage_count, status, error_message, started_at, completed_at
		 FROM ingestion_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.RecordID, &run.FileName, &run.Kind, &run.StageCount, &run.Status,
		&run.ErrorMessage, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT stage, position, completed_at FROM ingestion_run_stages
		 WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s RunStage
		if err := rows.Scan(&s.Stage, &s.Position, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run stage: %w", err)
		}
		run.Stages = append(run.Stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list run stages: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves the most recent runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, record_id, file_name, kind, stage_count, status, error_message, started_at, completed_at
		 FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.RecordID, &run.FileName, &run.Kind, &run.StageCount, &run.Status,
			&run.ErrorMessage, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
