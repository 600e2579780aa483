// Package postgres implements the persistence interfaces against
// PostgreSQL via sqlx.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quantlab/walkforward/internal/persistence"
)

// runsRepo implements RunsRepo for PostgreSQL
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a PostgreSQL training-runs repository
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert appends a finished window run record
func (r *runsRepo) Insert(ctx context.Context, record persistence.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metricsJSON, err := json.Marshal(record.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	query := `
		INSERT INTO training_runs (
			run_id, variant, window_index,
			train_start, train_end, val_start, val_end,
			status, failure_kind, failure_reason, metrics,
			artifact_family, artifact_version,
			started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		record.RunID, record.Variant, record.WindowIndex,
		record.TrainStart, record.TrainEnd, record.ValStart, record.ValEnd,
		record.Status, record.FailureKind, record.FailureReason, metricsJSON,
		record.ArtifactFamily, record.ArtifactVersion,
		record.StartedAt, record.FinishedAt).
		Scan(&record.ID, &record.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate run record for %s window %d: %w", record.RunID, record.WindowIndex, err)
		}
		return fmt.Errorf("failed to insert run record: %w", err)
	}

	return nil
}

// ListByRun retrieves all window records of one walk-forward run
func (r *runsRepo) ListByRun(ctx context.Context, runID string) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, variant, window_index,
		       train_start, train_end, val_start, val_end,
		       status, failure_kind, failure_reason, metrics,
		       artifact_family, artifact_version,
		       started_at, finished_at, created_at
		FROM training_runs
		WHERE run_id = $1
		ORDER BY window_index ASC`

	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run records: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// ListRange retrieves records whose run finished within the range
func (r *runsRepo) ListRange(ctx context.Context, tr persistence.TimeRange, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, variant, window_index,
		       train_start, train_end, val_start, val_end,
		       status, failure_kind, failure_reason, metrics,
		       artifact_family, artifact_version,
		       started_at, finished_at, created_at
		FROM training_runs
		WHERE finished_at >= $1 AND finished_at <= $2
		ORDER BY finished_at DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run records by range: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// CountByStatus returns record counts grouped by terminal status
func (r *runsRepo) CountByStatus(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT status, COUNT(*)
		FROM training_runs
		WHERE finished_at >= $1 AND finished_at <= $2
		GROUP BY status
		ORDER BY status`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count run records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

func (r *runsRepo) scanRecords(rows *sqlx.Rows) ([]persistence.RunRecord, error) {
	var records []persistence.RunRecord

	for rows.Next() {
		var record persistence.RunRecord
		var metricsJSON []byte

		err := rows.Scan(
			&record.ID, &record.RunID, &record.Variant, &record.WindowIndex,
			&record.TrainStart, &record.TrainEnd, &record.ValStart, &record.ValEnd,
			&record.Status, &record.FailureKind, &record.FailureReason, &metricsJSON,
			&record.ArtifactFamily, &record.ArtifactVersion,
			&record.StartedAt, &record.FinishedAt, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}

		if len(metricsJSON) > 0 {
			if err := json.Unmarshal(metricsJSON, &record.Metrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
			}
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}
