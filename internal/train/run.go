package train

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/quantlab/walkforward/internal/metrics"
	"github.com/quantlab/walkforward/internal/schedule"
)

// Status is a window's terminal training outcome
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// FailureKind classifies why a window failed
type FailureKind string

const (
	FailureData      FailureKind = "data"
	FailureTraining  FailureKind = "training"
	FailureInference FailureKind = "inference"
	FailureTimeout   FailureKind = "timeout"
	FailureRegistry  FailureKind = "registry"
)

// ArtifactRef points at the registry artifact a successful window produced
type ArtifactRef struct {
	Family  string `json:"family"`
	Version int    `json:"version"`
}

// Run is the immutable record of one window's training attempt. Exactly
// one Run exists per window regardless of outcome.
type Run struct {
	Window        schedule.Window    `json:"window"`
	Status        Status             `json:"status"`
	FailureKind   FailureKind        `json:"failure_kind,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Artifact      *ArtifactRef       `json:"artifact,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// MetricAggregate summarizes one metric across succeeded windows
type MetricAggregate struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Worst  float64 `json:"worst"`
}

// Summary is the complete result of a walk-forward run. Every window
// appears in Runs with its status, so partial failure is fully
// observable even though the run as a whole completes.
type Summary struct {
	RunID         string                     `json:"run_id"`
	Variant       string                     `json:"variant"`
	SchemaVersion string                     `json:"schema_version"`
	Schedule      schedule.Config            `json:"schedule"`
	TotalWindows  int                        `json:"total_windows"`
	Succeeded     int                        `json:"succeeded"`
	Failed        int                        `json:"failed"`
	Runs          []Run                      `json:"runs"`
	Aggregates    map[string]MetricAggregate `json:"aggregates"`
	Warnings      []string                   `json:"warnings,omitempty"`
	StartedAt     time.Time                  `json:"started_at"`
	FinishedAt    time.Time                  `json:"finished_at"`
}

// Event is published to an EventSink as each window finishes
type Event struct {
	RunID string `json:"run_id"`
	Run   Run    `json:"run"`
}

// EventSink receives run events for live observation (e.g. the websocket
// stream). Publish must not block the training loop for long.
type EventSink interface {
	Publish(event Event)
}

type multiSink []EventSink

func (s multiSink) Publish(event Event) {
	for _, sink := range s {
		sink.Publish(event)
	}
}

// MultiSink fans every event out to all given sinks in order, so a run
// can feed a progress bar and the websocket stream at once
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

// RunRecorder durably records finished window runs (e.g. the Postgres
// runs repo). Recording failures are logged and never fail the window.
type RunRecorder interface {
	RecordRun(ctx context.Context, runID string, run Run) error
}

// aggregate computes per-metric mean, standard deviation, and worst case
// across succeeded runs
func aggregate(runs []Run, ms []metrics.Metric) map[string]MetricAggregate {
	out := make(map[string]MetricAggregate, len(ms))
	for _, m := range ms {
		var values []float64
		for _, r := range runs {
			if r.Status != StatusSucceeded {
				continue
			}
			if v, ok := r.Metrics[m.Name]; ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}

		var sum float64
		worst := values[0]
		for _, v := range values {
			sum += v
			if m.Worse(v, worst) {
				worst = v
			}
		}
		mean := sum / float64(len(values))

		var varSum float64
		for _, v := range values {
			d := v - mean
			varSum += d * d
		}

		out[m.Name] = MetricAggregate{
			Mean:   mean,
			StdDev: math.Sqrt(varSum / float64(len(values))),
			Worst:  worst,
		}
	}
	return out
}

// degradationStreak returns the longest run of consecutive strictly
// worsening transitions of the primary metric across succeeded windows,
// in window order.
func degradationStreak(runs []Run, m metrics.Metric) int {
	ordered := make([]Run, 0, len(runs))
	for _, r := range runs {
		if r.Status == StatusSucceeded {
			if _, ok := r.Metrics[m.Name]; ok {
				ordered = append(ordered, r)
			}
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Window.Index < ordered[j].Window.Index
	})

	longest, current := 0, 0
	for i := 1; i < len(ordered); i++ {
		if m.Worse(ordered[i].Metrics[m.Name], ordered[i-1].Metrics[m.Name]) {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 0
		}
	}
	return longest
}
