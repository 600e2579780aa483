// Package schedule computes the ordered train/validation windows for
// walk-forward validation. Windows are produced lazily in increasing
// index order; a window is only emitted when its validation range fits
// entirely inside the dataset's time index, and the training range is
// always separated from the validation range by the configured embargo
// gap so forward-looking labels cannot leak into training.
package schedule

import (
	"errors"
	"fmt"
)

// Mode selects how the training window evolves across iterations
type Mode string

const (
	// ModeRolling slides a fixed-size training window forward by step_size
	ModeRolling Mode = "rolling"
	// ModeExpanding anchors the training window at the start of the index
	// and grows it by step_size each iteration
	ModeExpanding Mode = "expanding"
)

// ErrInvalidConfig marks scheduler parameter errors. These are fatal and
// detected before any window is produced.
var ErrInvalidConfig = errors.New("invalid scheduler config")

// Config holds walk-forward window parameters. All sizes are counts of
// time points on the dataset's time index, not wall-clock durations.
type Config struct {
	TrainSize int  `yaml:"train_size" json:"train_size"`
	ValSize   int  `yaml:"val_size" json:"val_size"`
	StepSize  int  `yaml:"step_size" json:"step_size"`
	Embargo   int  `yaml:"embargo" json:"embargo"`
	Mode      Mode `yaml:"mode" json:"mode"`
}

// Validate checks the scheduler parameters. Any violation is wrapped in
// ErrInvalidConfig so callers can fail fast before processing begins.
func (c Config) Validate() error {
	if c.TrainSize <= 0 {
		return fmt.Errorf("%w: train_size must be > 0, got %d", ErrInvalidConfig, c.TrainSize)
	}
	if c.ValSize <= 0 {
		return fmt.Errorf("%w: val_size must be > 0, got %d", ErrInvalidConfig, c.ValSize)
	}
	if c.StepSize <= 0 {
		return fmt.Errorf("%w: step_size must be > 0, got %d", ErrInvalidConfig, c.StepSize)
	}
	if c.Embargo < 0 {
		return fmt.Errorf("%w: embargo must be >= 0, got %d", ErrInvalidConfig, c.Embargo)
	}
	switch c.Mode {
	case ModeRolling, ModeExpanding:
	case "":
		return fmt.Errorf("%w: mode is required (rolling or expanding)", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// OverlappingValidation reports whether consecutive validation slices
// overlap. Overlap is permitted but invalidates independence assumptions
// for aggregate statistics, so the trainer surfaces it as a warning.
func (c Config) OverlappingValidation() bool {
	return c.StepSize < c.ValSize
}

// Window is one train/validation split. Ranges are half-open positions
// on the time index: training rows are [TrainStart, TrainEnd), validation
// rows are [ValStart, ValEnd), and TrainEnd + embargo <= ValStart.
type Window struct {
	Index      int `json:"index"`
	TrainStart int `json:"train_start"`
	TrainEnd   int `json:"train_end"`
	ValStart   int `json:"val_start"`
	ValEnd     int `json:"val_end"`
}

// Scheduler lazily produces the finite window sequence. It is not
// restartable: once exhausted it stays exhausted.
type Scheduler struct {
	cfg  Config
	n    int
	next int
	done bool
}

// New creates a scheduler over a time index of length indexLen.
// Parameter validation happens here so an invalid configuration fails
// before the first window is requested. A dataset shorter than one full
// window yields an empty (but valid) sequence.
func New(cfg Config, indexLen int) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{cfg: cfg, n: indexLen}, nil
}

// Config returns the scheduler's configuration
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Next returns the next window in increasing index order. The second
// return value is false once the sequence is exhausted: the first time a
// window's validation range would run past the end of the index.
func (s *Scheduler) Next() (Window, bool) {
	if s.done {
		return Window{}, false
	}

	i := s.next
	var trainStart, trainEnd int
	switch s.cfg.Mode {
	case ModeExpanding:
		trainStart = 0
		trainEnd = s.cfg.TrainSize + i*s.cfg.StepSize
	default: // ModeRolling
		trainStart = i * s.cfg.StepSize
		trainEnd = trainStart + s.cfg.TrainSize
	}
	valStart := trainEnd + s.cfg.Embargo
	valEnd := valStart + s.cfg.ValSize

	if valEnd > s.n {
		s.done = true
		return Window{}, false
	}

	s.next++
	return Window{
		Index:      i,
		TrainStart: trainStart,
		TrainEnd:   trainEnd,
		ValStart:   valStart,
		ValEnd:     valEnd,
	}, true
}
