package persistence

import (
	"context"
	"time"
)

// TimeRange represents a time window for run history queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RunRecord is the flattened storage form of one window's training run.
// One record exists per (run_id, window_index); records are append-only.
type RunRecord struct {
	ID              int64              `json:"id" db:"id"`
	RunID           string             `json:"run_id" db:"run_id"`
	Variant         string             `json:"variant" db:"variant"`
	WindowIndex     int                `json:"window_index" db:"window_index"`
	TrainStart      int                `json:"train_start" db:"train_start"`
	TrainEnd        int                `json:"train_end" db:"train_end"`
	ValStart        int                `json:"val_start" db:"val_start"`
	ValEnd          int                `json:"val_end" db:"val_end"`
	Status          string             `json:"status" db:"status"`
	FailureKind     *string            `json:"failure_kind,omitempty" db:"failure_kind"`
	FailureReason   *string            `json:"failure_reason,omitempty" db:"failure_reason"`
	Metrics         map[string]float64 `json:"metrics,omitempty" db:"metrics"`
	ArtifactFamily  *string            `json:"artifact_family,omitempty" db:"artifact_family"`
	ArtifactVersion *int               `json:"artifact_version,omitempty" db:"artifact_version"`
	StartedAt       time.Time          `json:"started_at" db:"started_at"`
	FinishedAt      time.Time          `json:"finished_at" db:"finished_at"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// RunsRepo provides training-run persistence for post-hoc analysis
type RunsRepo interface {
	// Insert appends a finished window run record
	Insert(ctx context.Context, record RunRecord) error

	// ListByRun retrieves all window records of one walk-forward run in
	// window order
	ListByRun(ctx context.Context, runID string) ([]RunRecord, error)

	// ListRange retrieves records whose run finished within the range
	ListRange(ctx context.Context, tr TimeRange, limit int) ([]RunRecord, error)

	// CountByStatus returns record counts grouped by terminal status
	CountByStatus(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool      `json:"healthy"`
	Errors         []string  `json:"errors,omitempty"`
	LastCheck      time.Time `json:"last_check"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	// Ping tests basic connectivity to the database
	Ping(ctx context.Context) error

	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck
}
