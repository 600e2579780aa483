package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/walkforward/internal/persistence"
)

func newMockRepo(t *testing.T) (persistence.RunsRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	return NewRunsRepo(sqlxDB, 5*time.Second), mock
}

func sampleRecord() persistence.RunRecord {
	family := "gbst"
	version := 3
	return persistence.RunRecord{
		RunID:           "0d4f7b2e-run",
		Variant:         "gbst",
		WindowIndex:     2,
		TrainStart:      40,
		TrainEnd:        240,
		ValStart:        241,
		ValEnd:          261,
		Status:          "SUCCEEDED",
		Metrics:         map[string]float64{"mse": 0.042, "ic": 0.11},
		ArtifactFamily:  &family,
		ArtifactVersion: &version,
		StartedAt:       time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:      time.Date(2025, 3, 1, 10, 0, 4, 0, time.UTC),
	}
}

func TestRunsRepo_Insert(t *testing.T) {
	repo, mock := newMockRepo(t)
	record := sampleRecord()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO training_runs")).
		WithArgs(
			record.RunID, record.Variant, record.WindowIndex,
			record.TrainStart, record.TrainEnd, record.ValStart, record.ValEnd,
			record.Status, nil, nil, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
			record.StartedAt, record.FinishedAt,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(17), time.Now()))

	err := repo.Insert(context.Background(), record)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepo_Insert_Duplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	record := sampleRecord()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO training_runs")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Insert(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate run record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func recordColumns() []string {
	return []string{
		"id", "run_id", "variant", "window_index",
		"train_start", "train_end", "val_start", "val_end",
		"status", "failure_kind", "failure_reason", "metrics",
		"artifact_family", "artifact_version",
		"started_at", "finished_at", "created_at",
	}
}

func TestRunsRepo_ListByRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(recordColumns()).
		AddRow(int64(1), "run-1", "gbst", 0,
			0, 200, 201, 221,
			"SUCCEEDED", nil, nil, []byte(`{"mse":0.04}`),
			"gbst", 1,
			now, now.Add(2*time.Second), now).
		AddRow(int64(2), "run-1", "gbst", 1,
			20, 220, 221, 241,
			"FAILED", "training", "singular matrix", nil,
			nil, nil,
			now, now.Add(3*time.Second), now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM training_runs")).
		WithArgs("run-1").
		WillReturnRows(rows)

	records, err := repo.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 0, records[0].WindowIndex)
	assert.Equal(t, "SUCCEEDED", records[0].Status)
	assert.InDelta(t, 0.04, records[0].Metrics["mse"], 1e-12)
	require.NotNil(t, records[0].ArtifactFamily)
	assert.Equal(t, "gbst", *records[0].ArtifactFamily)

	assert.Equal(t, "FAILED", records[1].Status)
	require.NotNil(t, records[1].FailureKind)
	assert.Equal(t, "training", *records[1].FailureKind)
	assert.Nil(t, records[1].ArtifactFamily)
	assert.Nil(t, records[1].Metrics)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepo_ListRange(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := persistence.TimeRange{From: now.Add(-time.Hour), To: now}

	rows := sqlmock.NewRows(recordColumns()).
		AddRow(int64(9), "run-2", "baseline", 3,
			60, 260, 261, 281,
			"SUCCEEDED", nil, nil, []byte(`{"mse":0.05}`),
			"baseline", 4,
			now.Add(-time.Minute), now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM training_runs")).
		WithArgs(tr.From, tr.To, 100).
		WillReturnRows(rows)

	records, err := repo.ListRange(context.Background(), tr, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "run-2", records[0].RunID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepo_CountByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	tr := persistence.TimeRange{
		From: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WithArgs(tr.From, tr.To).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("FAILED", int64(2)).
			AddRow("SUCCEEDED", int64(14)))

	counts, err := repo.CountByStatus(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, int64(14), counts["SUCCEEDED"])
	assert.Equal(t, int64(2), counts["FAILED"])

	assert.NoError(t, mock.ExpectationsWereMet())
}
