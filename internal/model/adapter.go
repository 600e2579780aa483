// Package model defines the capability contract every predictive-model
// variant implements, plus the variants themselves. One adapter instance
// owns the trained state for exactly one window: constructed fresh, fit
// once, predict, serialize, discard. Adapters never touch storage; all
// persistence goes through the artifact registry.
package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantlab/walkforward/internal/dataset"
)

// Variant tags the closed set of model families
type Variant string

const (
	// VariantBaseline predicts per-entity historical target means
	VariantBaseline Variant = "baseline"
	// VariantGBST is a tree ensemble of gradient-boosted regression stumps
	VariantGBST Variant = "gbst"
	// VariantSeqNet is a small recurrent sequence model
	VariantSeqNet Variant = "seqnet"
)

// TrainingError represents an adapter fit failure
type TrainingError struct {
	Reason string
}

func (e *TrainingError) Error() string {
	return "training: " + e.Reason
}

// InferenceError represents a predict failure, typically a feature-schema
// mismatch against the set recorded at fit time
type InferenceError struct {
	Reason string
}

func (e *InferenceError) Error() string {
	return "inference: " + e.Reason
}

// Config holds per-window adapter configuration. The trainer fills
// Features and FeaturePrefix from the dataset contract and derives Seed
// from the run's base seed so repeated runs are reproducible.
type Config struct {
	Seed          int64    `yaml:"seed" json:"seed"`
	Features      []string `yaml:"-" json:"features,omitempty"`
	FeaturePrefix string   `yaml:"-" json:"feature_prefix,omitempty"`

	// gbst
	Rounds       int     `yaml:"rounds" json:"rounds,omitempty"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate,omitempty"`

	// seqnet
	Hidden int `yaml:"hidden" json:"hidden,omitempty"`
	Epochs int `yaml:"epochs" json:"epochs,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.FeaturePrefix == "" {
		c.FeaturePrefix = dataset.DefaultFeaturePrefix
	}
	if c.Rounds <= 0 {
		c.Rounds = 50
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.Hidden <= 0 {
		c.Hidden = 8
	}
	if c.Epochs <= 0 {
		c.Epochs = 10
	}
	return c
}

// Adapter is the uniform fit/predict/serialize contract
type Adapter interface {
	// Variant returns the model family tag
	Variant() Variant

	// Fit trains on the window's training rows. It fails with a
	// TrainingError when rows are empty, below the variant's minimum, or
	// missing declared feature columns. Long fits poll ctx and abandon
	// training once the window deadline passes.
	Fit(ctx context.Context, rows []dataset.Row, target string, cfg Config) error

	// Predict scores rows 1:1 in input order. It fails with an
	// InferenceError when the input's feature-column set differs from the
	// set recorded at fit time.
	Predict(rows []dataset.Row) ([]float64, error)

	// Serialize returns the opaque trained-state payload
	Serialize() ([]byte, error)

	// Tolerance is the numeric tolerance within which a deserialized
	// instance reproduces pre-serialization scores (0 for exact variants)
	Tolerance() float64
}

// Factory constructs one fresh adapter per window. Fresh construction is
// what prevents trained state from leaking across windows.
type Factory interface {
	Variant() Variant
	New() Adapter
}

type variantFactory struct {
	variant Variant
}

func (f variantFactory) Variant() Variant { return f.variant }

func (f variantFactory) New() Adapter {
	switch f.variant {
	case VariantGBST:
		return &gbstAdapter{}
	case VariantSeqNet:
		return &seqnetAdapter{}
	default:
		return &baselineAdapter{}
	}
}

// NewFactory returns the factory for a variant tag
func NewFactory(v Variant) (Factory, error) {
	switch v {
	case VariantBaseline, VariantGBST, VariantSeqNet:
		return variantFactory{variant: v}, nil
	default:
		return nil, fmt.Errorf("unknown model variant %q", v)
	}
}

// Deserialize restores an adapter from a serialized payload
func Deserialize(v Variant, payload []byte) (Adapter, error) {
	factory, err := NewFactory(v)
	if err != nil {
		return nil, err
	}
	adapter := factory.New()
	restorer, ok := adapter.(interface{ restore(payload []byte) error })
	if !ok {
		return nil, fmt.Errorf("variant %q does not support deserialization", v)
	}
	if err := restorer.restore(payload); err != nil {
		return nil, fmt.Errorf("failed to restore %s adapter: %w", v, err)
	}
	return adapter, nil
}

// fitMatrix validates training input and extracts the feature matrix and
// target vector in declared feature order.
func fitMatrix(rows []dataset.Row, target string, cfg Config, minRows int) ([][]float64, []float64, error) {
	if len(rows) == 0 {
		return nil, nil, &TrainingError{Reason: "training rows are empty"}
	}
	if len(rows) < minRows {
		return nil, nil, &TrainingError{Reason: fmt.Sprintf("%d training rows below variant minimum %d", len(rows), minRows)}
	}
	if len(cfg.Features) == 0 {
		return nil, nil, &TrainingError{Reason: "no feature columns declared"}
	}

	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, row := range rows {
		vec := make([]float64, len(cfg.Features))
		for j, feat := range cfg.Features {
			v, ok := row.Values[feat]
			if !ok {
				return nil, nil, &TrainingError{Reason: fmt.Sprintf("feature column %q missing at row %d", feat, i)}
			}
			vec[j] = v
		}
		tv, ok := row.Values[target]
		if !ok {
			return nil, nil, &TrainingError{Reason: fmt.Sprintf("target column %q missing at row %d", target, i)}
		}
		x[i] = vec
		y[i] = tv
	}
	return x, y, nil
}

// predictMatrix validates prediction input against the feature set
// recorded at fit time and extracts the feature matrix.
func predictMatrix(rows []dataset.Row, features []string, prefix string) ([][]float64, error) {
	if len(features) == 0 {
		return nil, &InferenceError{Reason: "adapter has not been fitted"}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	recorded := make(map[string]struct{}, len(features))
	for _, feat := range features {
		recorded[feat] = struct{}{}
	}

	x := make([][]float64, len(rows))
	for i, row := range rows {
		for col := range row.Values {
			if strings.HasPrefix(col, prefix) {
				if _, ok := recorded[col]; !ok {
					return nil, &InferenceError{Reason: fmt.Sprintf("feature column %q was not present at fit time", col)}
				}
			}
		}
		vec := make([]float64, len(features))
		for j, feat := range features {
			v, ok := row.Values[feat]
			if !ok {
				return nil, &InferenceError{Reason: fmt.Sprintf("feature column %q missing at row %d", feat, i)}
			}
			vec[j] = v
		}
		x[i] = vec
	}
	return x, nil
}
