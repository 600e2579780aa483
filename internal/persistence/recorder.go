package persistence

import (
	"context"

	"github.com/quantlab/walkforward/internal/train"
)

// Recorder bridges the trainer's RunRecorder hook onto a RunsRepo
type Recorder struct {
	repo    RunsRepo
	variant string
}

// NewRecorder creates a recorder writing to the given repo. The variant
// is stamped onto every record so mixed-variant histories stay queryable.
func NewRecorder(repo RunsRepo, variant string) *Recorder {
	return &Recorder{repo: repo, variant: variant}
}

// RecordRun implements train.RunRecorder
func (r *Recorder) RecordRun(ctx context.Context, runID string, run train.Run) error {
	record := RunRecord{
		RunID:       runID,
		Variant:     r.variant,
		WindowIndex: run.Window.Index,
		TrainStart:  run.Window.TrainStart,
		TrainEnd:    run.Window.TrainEnd,
		ValStart:    run.Window.ValStart,
		ValEnd:      run.Window.ValEnd,
		Status:      string(run.Status),
		Metrics:     run.Metrics,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}

	if run.Status == train.StatusFailed {
		kind := string(run.FailureKind)
		reason := run.FailureReason
		record.FailureKind = &kind
		record.FailureReason = &reason
	}
	if run.Artifact != nil {
		family := run.Artifact.Family
		version := run.Artifact.Version
		record.ArtifactFamily = &family
		record.ArtifactVersion = &version
	}

	return r.repo.Insert(ctx, record)
}
