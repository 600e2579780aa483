package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantlab/walkforward/internal/dataset"
)

const baselineMinRows = 1

// baselineState is the serialized form of the baseline variant
type baselineState struct {
	GlobalMean    float64            `json:"global_mean"`
	EntityMeans   map[string]float64 `json:"entity_means"`
	Features      []string           `json:"features"`
	FeaturePrefix string             `json:"feature_prefix"`
}

// baselineAdapter predicts the entity's mean training target, falling
// back to the global mean for entities unseen during training. It is the
// sanity floor every learned variant has to beat.
type baselineAdapter struct {
	state  baselineState
	fitted bool
}

func (a *baselineAdapter) Variant() Variant { return VariantBaseline }

func (a *baselineAdapter) Tolerance() float64 { return 0 }

func (a *baselineAdapter) Fit(ctx context.Context, rows []dataset.Row, target string, cfg Config) error {
	if a.fitted {
		return &TrainingError{Reason: "adapter already fitted"}
	}
	cfg = cfg.withDefaults()

	_, y, err := fitMatrix(rows, target, cfg, baselineMinRows)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	var total float64
	for i, row := range rows {
		sums[row.Entity] += y[i]
		counts[row.Entity]++
		total += y[i]
	}

	means := make(map[string]float64, len(sums))
	for entity, sum := range sums {
		means[entity] = sum / float64(counts[entity])
	}

	a.state = baselineState{
		GlobalMean:    total / float64(len(y)),
		EntityMeans:   means,
		Features:      cfg.Features,
		FeaturePrefix: cfg.FeaturePrefix,
	}
	a.fitted = true
	return nil
}

func (a *baselineAdapter) Predict(rows []dataset.Row) ([]float64, error) {
	if !a.fitted {
		return nil, &InferenceError{Reason: "adapter has not been fitted"}
	}
	if _, err := predictMatrix(rows, a.state.Features, a.state.FeaturePrefix); err != nil {
		return nil, err
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		if m, ok := a.state.EntityMeans[row.Entity]; ok {
			scores[i] = m
		} else {
			scores[i] = a.state.GlobalMean
		}
	}
	return scores, nil
}

func (a *baselineAdapter) Serialize() ([]byte, error) {
	if !a.fitted {
		return nil, fmt.Errorf("cannot serialize unfitted adapter")
	}
	return json.Marshal(a.state)
}

func (a *baselineAdapter) restore(payload []byte) error {
	if err := json.Unmarshal(payload, &a.state); err != nil {
		return err
	}
	a.fitted = true
	return nil
}
