package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/quantlab/walkforward/internal/dataset"
)

const seqnetMinRows = 30

// seqnetState is the serialized form of the recurrent variant
type seqnetState struct {
	Features      []string    `json:"features"`
	FeaturePrefix string      `json:"feature_prefix"`
	Hidden        int         `json:"hidden"`
	Wx            [][]float64 `json:"wx"` // hidden x features
	Wh            [][]float64 `json:"wh"` // hidden x hidden
	B             []float64   `json:"b"`
	Wo            []float64   `json:"wo"`
	Bo            float64     `json:"bo"`
	Mean          []float64   `json:"mean"`
	Std           []float64   `json:"std"`
}

// seqnetAdapter is a small Elman-style recurrent network. Hidden state
// is carried per entity along its chronological row sequence, reset at
// entity boundaries, and trained with one-step truncated gradients.
// Weight init uses the seeded PRNG from Config, so a fixed seed makes
// training deterministic; float accumulation order is fixed too.
type seqnetAdapter struct {
	state  seqnetState
	fitted bool
}

func (a *seqnetAdapter) Variant() Variant { return VariantSeqNet }

// Tolerance allows for float round-trip noise in restored instances
func (a *seqnetAdapter) Tolerance() float64 { return 1e-9 }

func (a *seqnetAdapter) Fit(ctx context.Context, rows []dataset.Row, target string, cfg Config) error {
	if a.fitted {
		return &TrainingError{Reason: "adapter already fitted"}
	}
	cfg = cfg.withDefaults()

	x, y, err := fitMatrix(rows, target, cfg, seqnetMinRows)
	if err != nil {
		return err
	}

	numFeatures := len(cfg.Features)
	hidden := cfg.Hidden

	mean, std := standardize(x, numFeatures)

	rng := rand.New(rand.NewSource(cfg.Seed))
	st := seqnetState{
		Features:      cfg.Features,
		FeaturePrefix: cfg.FeaturePrefix,
		Hidden:        hidden,
		Wx:            randMatrix(rng, hidden, numFeatures),
		Wh:            randMatrix(rng, hidden, hidden),
		B:             make([]float64, hidden),
		Wo:            randVector(rng, hidden),
		Mean:          mean,
		Std:           std,
	}

	lr := cfg.LearningRate * 0.1 // recurrent updates need a gentler rate
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		carry := make(map[string][]float64)
		for i := range x {
			entity := rows[i].Entity
			prev, ok := carry[entity]
			if !ok {
				prev = make([]float64, hidden)
			}

			in := st.normalize(x[i])
			h := st.step(in, prev)
			pred := st.readout(h)
			grad := 2 * (pred - y[i])

			// one-step truncated backprop: h_{t-1} treated as constant
			for k := 0; k < hidden; k++ {
				dh := grad * st.Wo[k] * (1 - h[k]*h[k])
				st.Wo[k] -= lr * grad * h[k]
				for j := 0; j < numFeatures; j++ {
					st.Wx[k][j] -= lr * dh * in[j]
				}
				for j := 0; j < hidden; j++ {
					st.Wh[k][j] -= lr * dh * prev[j]
				}
				st.B[k] -= lr * dh
			}
			st.Bo -= lr * grad

			carry[entity] = h
		}
	}

	a.state = st
	a.fitted = true
	return nil
}

func (a *seqnetAdapter) Predict(rows []dataset.Row) ([]float64, error) {
	if !a.fitted {
		return nil, &InferenceError{Reason: "adapter has not been fitted"}
	}
	x, err := predictMatrix(rows, a.state.Features, a.state.FeaturePrefix)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(rows))
	carry := make(map[string][]float64)
	for i := range x {
		entity := rows[i].Entity
		prev, ok := carry[entity]
		if !ok {
			prev = make([]float64, a.state.Hidden)
		}
		h := a.state.step(a.state.normalize(x[i]), prev)
		scores[i] = a.state.readout(h)
		carry[entity] = h
	}
	return scores, nil
}

func (a *seqnetAdapter) Serialize() ([]byte, error) {
	if !a.fitted {
		return nil, fmt.Errorf("cannot serialize unfitted adapter")
	}
	return json.Marshal(a.state)
}

func (a *seqnetAdapter) restore(payload []byte) error {
	if err := json.Unmarshal(payload, &a.state); err != nil {
		return err
	}
	a.fitted = true
	return nil
}

func (st *seqnetState) normalize(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for j, v := range vec {
		out[j] = (v - st.Mean[j]) / st.Std[j]
	}
	return out
}

func (st *seqnetState) step(in, prev []float64) []float64 {
	h := make([]float64, st.Hidden)
	for k := 0; k < st.Hidden; k++ {
		sum := st.B[k]
		for j, v := range in {
			sum += st.Wx[k][j] * v
		}
		for j, v := range prev {
			sum += st.Wh[k][j] * v
		}
		h[k] = math.Tanh(sum)
	}
	return h
}

func (st *seqnetState) readout(h []float64) float64 {
	out := st.Bo
	for k, v := range h {
		out += st.Wo[k] * v
	}
	return out
}

func standardize(x [][]float64, numFeatures int) (mean, std []float64) {
	mean = make([]float64, numFeatures)
	std = make([]float64, numFeatures)
	n := float64(len(x))

	for j := 0; j < numFeatures; j++ {
		var sum float64
		for i := range x {
			sum += x[i][j]
		}
		mean[j] = sum / n

		var varSum float64
		for i := range x {
			d := x[i][j] - mean[j]
			varSum += d * d
		}
		std[j] = math.Sqrt(varSum / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}
	return mean, std
}

func randMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = randVector(rng, cols)
	}
	return m
}

func randVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 0.1 * (2*rng.Float64() - 1)
	}
	return v
}
