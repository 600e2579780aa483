// Package train orchestrates walk-forward training: it drives each
// scheduled window through a freshly constructed model adapter, computes
// validation metrics, hands serialized state to the artifact registry,
// and records one TrainingRun per window. A single window's failure is
// recorded, never propagated: the run always processes every window.
package train

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantlab/walkforward/internal/dataset"
	"github.com/quantlab/walkforward/internal/metrics"
	"github.com/quantlab/walkforward/internal/model"
	"github.com/quantlab/walkforward/internal/registry"
	"github.com/quantlab/walkforward/internal/schedule"
	"github.com/quantlab/walkforward/internal/telemetry"
)

// ErrInvalidConfig marks trainer-level configuration errors. Like
// scheduler parameter errors these abort the run before any window is
// processed.
var ErrInvalidConfig = errors.New("invalid trainer config")

// Config holds the trainer's run parameters
type Config struct {
	Schedule schedule.Config
	Target   string
	Model    model.Config

	// Metrics evaluated on each window's validation slice; defaults to
	// MSE when empty. PrimaryMetric drives degradation detection.
	Metrics       []metrics.Metric
	PrimaryMetric string

	// DegradationStreak is how many consecutive worsening windows of the
	// primary metric raise the advisory degradation warning (default 3)
	DegradationStreak int

	// Timeout bounds each window's fit/predict; 0 disables it
	Timeout time.Duration

	// Workers > 1 processes windows in parallel. Per-window results are
	// identical to sequential execution; only artifact version assignment
	// order may differ.
	Workers int
}

// Clock is injectable for deterministic tests
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using wall time
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Trainer runs walk-forward validation over one dataset
type Trainer struct {
	ds       *dataset.Dataset
	factory  model.Factory
	reg      registry.Registry
	cfg      Config
	clock    Clock
	recorder RunRecorder
	sink     EventSink
	tel      *telemetry.Metrics
	logger   zerolog.Logger
}

// New creates a trainer. The factory constructs one fresh adapter per
// window; sharing a fitted adapter across windows is what this design
// exists to prevent.
func New(ds *dataset.Dataset, factory model.Factory, reg registry.Registry, cfg Config) *Trainer {
	return &Trainer{
		ds:      ds,
		factory: factory,
		reg:     reg,
		cfg:     cfg,
		clock:   RealClock{},
		logger:  log.With().Str("component", "trainer").Logger(),
	}
}

// SetClock overrides the clock (for testing)
func (t *Trainer) SetClock(clock Clock) { t.clock = clock }

// SetRecorder attaches a durable run recorder
func (t *Trainer) SetRecorder(recorder RunRecorder) { t.recorder = recorder }

// SetEventSink attaches a live run-event sink
func (t *Trainer) SetEventSink(sink EventSink) { t.sink = sink }

// SetTelemetry attaches Prometheus instrumentation
func (t *Trainer) SetTelemetry(tel *telemetry.Metrics) { t.tel = tel }

// validate resolves defaults and fails fast on invalid configuration
func (t *Trainer) validate() (Config, error) {
	cfg := t.cfg

	if t.ds == nil {
		return cfg, fmt.Errorf("%w: dataset is required", ErrInvalidConfig)
	}
	if t.factory == nil {
		return cfg, fmt.Errorf("%w: adapter factory is required", ErrInvalidConfig)
	}
	if t.reg == nil {
		return cfg, fmt.Errorf("%w: artifact registry is required", ErrInvalidConfig)
	}
	if cfg.Target == "" {
		return cfg, fmt.Errorf("%w: target column is required", ErrInvalidConfig)
	}
	if !t.ds.HasColumn(cfg.Target) {
		return cfg, fmt.Errorf("%w: target column %q not present in dataset", ErrInvalidConfig, cfg.Target)
	}
	if cfg.Timeout < 0 {
		return cfg, fmt.Errorf("%w: timeout must be >= 0", ErrInvalidConfig)
	}
	if cfg.Workers < 0 {
		return cfg, fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfig)
	}

	if len(cfg.Metrics) == 0 {
		cfg.Metrics = []metrics.Metric{metrics.MSE}
	}
	if cfg.PrimaryMetric == "" {
		cfg.PrimaryMetric = cfg.Metrics[0].Name
	}
	found := false
	for _, m := range cfg.Metrics {
		if m.Name == cfg.PrimaryMetric {
			found = true
			break
		}
	}
	if !found {
		return cfg, fmt.Errorf("%w: primary metric %q is not among configured metrics", ErrInvalidConfig, cfg.PrimaryMetric)
	}
	if cfg.DegradationStreak <= 0 {
		cfg.DegradationStreak = 3
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// Run executes the full walk-forward pass. It returns an error only for
// invalid configuration; per-window failures are recorded on the summary.
func (t *Trainer) Run(ctx context.Context) (*Summary, error) {
	cfg, err := t.validate()
	if err != nil {
		return nil, err
	}

	// scheduler construction validates window parameters before any
	// window is processed
	sched, err := schedule.New(cfg.Schedule, t.ds.Len())
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:         uuid.NewString(),
		Variant:       string(t.factory.Variant()),
		SchemaVersion: t.ds.SchemaVersion(),
		Schedule:      cfg.Schedule,
		Aggregates:    make(map[string]MetricAggregate),
		StartedAt:     t.clock.Now().UTC(),
	}

	if cfg.Schedule.OverlappingValidation() {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("validation windows overlap (step_size %d < val_size %d); aggregate statistics are not independent",
				cfg.Schedule.StepSize, cfg.Schedule.ValSize))
	}

	t.logger.Info().
		Str("run_id", summary.RunID).
		Str("variant", summary.Variant).
		Str("mode", string(cfg.Schedule.Mode)).
		Int("workers", cfg.Workers).
		Msg("starting walk-forward run")

	var runs []Run
	if cfg.Workers > 1 {
		runs = t.processParallel(ctx, sched, cfg)
	} else {
		runs = t.processSequential(ctx, sched, cfg)
	}

	for _, run := range runs {
		t.finish(ctx, summary.RunID, run)
		switch run.Status {
		case StatusSucceeded:
			summary.Succeeded++
		default:
			summary.Failed++
		}
	}

	summary.Runs = runs
	summary.TotalWindows = len(runs)
	summary.Aggregates = aggregate(runs, cfg.Metrics)

	primary, _ := metricByName(cfg.Metrics, cfg.PrimaryMetric)
	if streak := degradationStreak(runs, primary); streak >= cfg.DegradationStreak {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("metric %q degraded monotonically across %d consecutive windows", primary.Name, streak))
	}

	summary.FinishedAt = t.clock.Now().UTC()

	t.logger.Info().
		Str("run_id", summary.RunID).
		Int("windows", summary.TotalWindows).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("walk-forward run complete")

	return summary, nil
}

func metricByName(ms []metrics.Metric, name string) (metrics.Metric, bool) {
	for _, m := range ms {
		if m.Name == name {
			return m, true
		}
	}
	return metrics.Metric{}, false
}

func (t *Trainer) processSequential(ctx context.Context, sched *schedule.Scheduler, cfg Config) []Run {
	var runs []Run
	for {
		w, ok := sched.Next()
		if !ok {
			break
		}
		runs = append(runs, t.processWindow(ctx, w, cfg))
	}
	return runs
}

// processParallel fans windows out to a worker pool. Windows are
// logically independent (fresh adapters, disjoint inputs), so ordering
// only matters when assembling the summary.
func (t *Trainer) processParallel(ctx context.Context, sched *schedule.Scheduler, cfg Config) []Run {
	jobs := make(chan schedule.Window)
	results := make(chan Run)

	go func() {
		defer close(jobs)
		for {
			w, ok := sched.Next()
			if !ok {
				return
			}
			jobs <- w
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				results <- t.processWindow(ctx, w, cfg)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var runs []Run
	for run := range results {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Window.Index < runs[j].Window.Index
	})
	return runs
}

// processWindow runs one window end to end. All failures are converted
// into a FAILED run record; nothing escapes to abort the outer loop.
func (t *Trainer) processWindow(ctx context.Context, w schedule.Window, cfg Config) Run {
	run := Run{
		Window:    w,
		StartedAt: t.clock.Now().UTC(),
	}

	fail := func(kind FailureKind, err error) Run {
		run.Status = StatusFailed
		run.FailureKind = kind
		run.FailureReason = err.Error()
		run.FinishedAt = t.clock.Now().UTC()
		t.tel.RecordWindow(string(StatusFailed), run.FinishedAt.Sub(run.StartedAt))
		t.logger.Warn().
			Int("window", w.Index).
			Str("kind", string(kind)).
			Err(err).
			Msg("window failed")
		return run
	}

	trainRows := t.ds.Slice(w.TrainStart, w.TrainEnd)
	valRows := t.ds.Slice(w.ValStart, w.ValEnd)
	if len(trainRows) == 0 {
		return fail(FailureData, &dataset.DataError{Reason: fmt.Sprintf("window %d training slice is empty", w.Index)})
	}
	if len(valRows) == 0 {
		return fail(FailureData, &dataset.DataError{Reason: fmt.Sprintf("window %d validation slice is empty", w.Index)})
	}

	wctx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// per-window seed keeps each window individually reproducible while
	// the whole run stays deterministic for a fixed base seed
	mcfg := cfg.Model
	mcfg.Seed = cfg.Model.Seed + int64(w.Index)
	mcfg.Features = t.ds.Features()
	mcfg.FeaturePrefix = t.ds.FeaturePrefix()

	adapter := t.factory.New()
	if err := adapter.Fit(wctx, trainRows, cfg.Target, mcfg); err != nil {
		return fail(classifyFit(wctx, err), err)
	}

	scores, err := adapter.Predict(valRows)
	if err != nil {
		return fail(classifyPredict(wctx, err), err)
	}
	if err := wctx.Err(); err != nil {
		return fail(FailureTimeout, fmt.Errorf("window %d exceeded deadline: %w", w.Index, err))
	}

	actuals := make([]float64, len(valRows))
	for i, row := range valRows {
		v, ok := row.Values[cfg.Target]
		if !ok {
			return fail(FailureData, &dataset.DataError{Reason: fmt.Sprintf("target column %q missing in validation slice", cfg.Target)})
		}
		actuals[i] = v
	}

	results := make(map[string]float64, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		results[m.Name] = m.Fn(actuals, scores)
	}
	run.Metrics = results

	blob, err := adapter.Serialize()
	if err != nil {
		return fail(FailureTraining, fmt.Errorf("failed to serialize adapter: %w", err))
	}

	meta := registry.Metadata{
		SchemaVersion:  t.ds.SchemaVersion(),
		TrainingWindow: t.bounds(w),
		Metrics:        results,
	}
	family := string(t.factory.Variant())
	version, err := t.reg.Put(ctx, family, blob, meta)
	if err != nil {
		t.tel.RecordPut("failed")
		return fail(FailureRegistry, fmt.Errorf("registry put failed: %w", err))
	}
	t.tel.RecordPut("ok")

	run.Status = StatusSucceeded
	run.Artifact = &ArtifactRef{Family: family, Version: version}
	run.FinishedAt = t.clock.Now().UTC()
	t.tel.RecordWindow(string(StatusSucceeded), run.FinishedAt.Sub(run.StartedAt))

	t.logger.Debug().
		Int("window", w.Index).
		Int("version", version).
		Msg("window succeeded")
	return run
}

// bounds maps a window onto registry metadata: index positions plus the
// inclusive timestamps they cover
func (t *Trainer) bounds(w schedule.Window) registry.WindowBounds {
	return registry.WindowBounds{
		Index:      w.Index,
		TrainStart: w.TrainStart,
		TrainEnd:   w.TrainEnd,
		ValStart:   w.ValStart,
		ValEnd:     w.ValEnd,
		TrainFrom:  t.ds.At(w.TrainStart),
		TrainUntil: t.ds.At(w.TrainEnd - 1),
		ValFrom:    t.ds.At(w.ValStart),
		ValUntil:   t.ds.At(w.ValEnd - 1),
	}
}

func classifyFit(ctx context.Context, err error) FailureKind {
	if isDeadline(ctx, err) {
		return FailureTimeout
	}
	var dataErr *dataset.DataError
	if errors.As(err, &dataErr) {
		return FailureData
	}
	return FailureTraining
}

func classifyPredict(ctx context.Context, err error) FailureKind {
	if isDeadline(ctx, err) {
		return FailureTimeout
	}
	return FailureInference
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// finish records and publishes a completed window run
func (t *Trainer) finish(ctx context.Context, runID string, run Run) {
	if t.recorder != nil {
		if err := t.recorder.RecordRun(ctx, runID, run); err != nil {
			t.logger.Warn().Err(err).Int("window", run.Window.Index).Msg("failed to record run")
		}
	}
	if t.sink != nil {
		t.sink.Publish(Event{RunID: runID, Run: run})
	}
}
