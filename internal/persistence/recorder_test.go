package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/walkforward/internal/schedule"
	"github.com/quantlab/walkforward/internal/train"
)

// fakeRunsRepo captures inserted records
type fakeRunsRepo struct {
	records []RunRecord
}

func (f *fakeRunsRepo) Insert(ctx context.Context, record RunRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRunsRepo) ListByRun(ctx context.Context, runID string) ([]RunRecord, error) {
	return f.records, nil
}

func (f *fakeRunsRepo) ListRange(ctx context.Context, tr TimeRange, limit int) ([]RunRecord, error) {
	return f.records, nil
}

func (f *fakeRunsRepo) CountByStatus(ctx context.Context, tr TimeRange) (map[string]int64, error) {
	return nil, nil
}

func TestRecorder_SucceededRun(t *testing.T) {
	repo := &fakeRunsRepo{}
	recorder := NewRecorder(repo, "gbst")

	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	run := train.Run{
		Window:     schedule.Window{Index: 2, TrainStart: 40, TrainEnd: 240, ValStart: 241, ValEnd: 261},
		Status:     train.StatusSucceeded,
		Metrics:    map[string]float64{"mse": 0.042},
		Artifact:   &train.ArtifactRef{Family: "gbst", Version: 3},
		StartedAt:  started,
		FinishedAt: started.Add(4 * time.Second),
	}

	require.NoError(t, recorder.RecordRun(context.Background(), "run-1", run))
	require.Len(t, repo.records, 1)

	got := repo.records[0]
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "gbst", got.Variant)
	assert.Equal(t, 2, got.WindowIndex)
	assert.Equal(t, 40, got.TrainStart)
	assert.Equal(t, 261, got.ValEnd)
	assert.Equal(t, "SUCCEEDED", got.Status)
	assert.Nil(t, got.FailureKind)
	require.NotNil(t, got.ArtifactFamily)
	assert.Equal(t, "gbst", *got.ArtifactFamily)
	require.NotNil(t, got.ArtifactVersion)
	assert.Equal(t, 3, *got.ArtifactVersion)
}

func TestRecorder_FailedRun(t *testing.T) {
	repo := &fakeRunsRepo{}
	recorder := NewRecorder(repo, "seqnet")

	run := train.Run{
		Window:        schedule.Window{Index: 1},
		Status:        train.StatusFailed,
		FailureKind:   train.FailureTimeout,
		FailureReason: "window 1 exceeded deadline",
	}

	require.NoError(t, recorder.RecordRun(context.Background(), "run-2", run))
	require.Len(t, repo.records, 1)

	got := repo.records[0]
	assert.Equal(t, "FAILED", got.Status)
	require.NotNil(t, got.FailureKind)
	assert.Equal(t, "timeout", *got.FailureKind)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "deadline")
	assert.Nil(t, got.ArtifactFamily)
}
