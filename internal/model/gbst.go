package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/quantlab/walkforward/internal/dataset"
)

const (
	gbstMinRows       = 20
	gbstMaxThresholds = 16
)

// stump is one depth-1 regression tree: rows with feature value <=
// Threshold score Left, the rest score Right.
type stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
}

// gbstState is the serialized form of the tree-ensemble variant
type gbstState struct {
	Base          float64  `json:"base"`
	Stumps        []stump  `json:"stumps"`
	Features      []string `json:"features"`
	FeaturePrefix string   `json:"feature_prefix"`
}

// gbstAdapter is a gradient-boosted ensemble of regression stumps.
// Split search iterates features and candidate thresholds in a fixed
// order, so training is fully deterministic for a given input.
type gbstAdapter struct {
	state  gbstState
	fitted bool
}

func (a *gbstAdapter) Variant() Variant { return VariantGBST }

func (a *gbstAdapter) Tolerance() float64 { return 0 }

func (a *gbstAdapter) Fit(ctx context.Context, rows []dataset.Row, target string, cfg Config) error {
	if a.fitted {
		return &TrainingError{Reason: "adapter already fitted"}
	}
	cfg = cfg.withDefaults()

	x, y, err := fitMatrix(rows, target, cfg, gbstMinRows)
	if err != nil {
		return err
	}

	n := len(y)
	base := 0.0
	for _, v := range y {
		base += v
	}
	base /= float64(n)

	residuals := make([]float64, n)
	for i, v := range y {
		residuals[i] = v - base
	}

	thresholds := candidateThresholds(x, len(cfg.Features))

	var stumps []stump
	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		best, ok := bestSplit(x, residuals, thresholds)
		if !ok {
			break // residuals no longer separable, stop early
		}

		best.Left *= cfg.LearningRate
		best.Right *= cfg.LearningRate
		stumps = append(stumps, best)

		for i := range residuals {
			if x[i][best.Feature] <= best.Threshold {
				residuals[i] -= best.Left
			} else {
				residuals[i] -= best.Right
			}
		}
	}

	a.state = gbstState{
		Base:          base,
		Stumps:        stumps,
		Features:      cfg.Features,
		FeaturePrefix: cfg.FeaturePrefix,
	}
	a.fitted = true
	return nil
}

// candidateThresholds picks evenly spaced quantile values per feature
func candidateThresholds(x [][]float64, numFeatures int) [][]float64 {
	out := make([][]float64, numFeatures)
	column := make([]float64, len(x))
	for j := 0; j < numFeatures; j++ {
		for i := range x {
			column[i] = x[i][j]
		}
		sort.Float64s(column)

		uniq := column[:0:0]
		for i, v := range column {
			if i == 0 || v != uniq[len(uniq)-1] {
				uniq = append(uniq, v)
			}
		}
		if len(uniq) < 2 {
			out[j] = nil
			continue
		}

		count := gbstMaxThresholds
		if len(uniq)-1 < count {
			count = len(uniq) - 1
		}
		cands := make([]float64, 0, count)
		for k := 0; k < count; k++ {
			// threshold sits between consecutive unique values so both
			// partitions are non-empty
			pos := (k + 1) * (len(uniq) - 1) / (count + 1)
			if pos >= len(uniq)-1 {
				pos = len(uniq) - 2
			}
			thr := (uniq[pos] + uniq[pos+1]) / 2
			if len(cands) == 0 || thr != cands[len(cands)-1] {
				cands = append(cands, thr)
			}
		}
		out[j] = cands
	}
	return out
}

// bestSplit scans all (feature, threshold) candidates for the split
// minimizing squared residual error. Ties keep the earliest candidate.
func bestSplit(x [][]float64, residuals []float64, thresholds [][]float64) (stump, bool) {
	var best stump
	bestSSE := math.Inf(1)
	found := false

	for j := range thresholds {
		for _, thr := range thresholds[j] {
			var leftSum, rightSum float64
			var leftN, rightN int
			for i := range residuals {
				if x[i][j] <= thr {
					leftSum += residuals[i]
					leftN++
				} else {
					rightSum += residuals[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}

			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)

			var sse float64
			for i := range residuals {
				var d float64
				if x[i][j] <= thr {
					d = residuals[i] - leftMean
				} else {
					d = residuals[i] - rightMean
				}
				sse += d * d
			}

			if sse < bestSSE {
				bestSSE = sse
				best = stump{Feature: j, Threshold: thr, Left: leftMean, Right: rightMean}
				found = true
			}
		}
	}
	return best, found
}

func (a *gbstAdapter) Predict(rows []dataset.Row) ([]float64, error) {
	if !a.fitted {
		return nil, &InferenceError{Reason: "adapter has not been fitted"}
	}
	x, err := predictMatrix(rows, a.state.Features, a.state.FeaturePrefix)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(rows))
	for i := range x {
		score := a.state.Base
		for _, s := range a.state.Stumps {
			if x[i][s.Feature] <= s.Threshold {
				score += s.Left
			} else {
				score += s.Right
			}
		}
		scores[i] = score
	}
	return scores, nil
}

func (a *gbstAdapter) Serialize() ([]byte, error) {
	if !a.fitted {
		return nil, fmt.Errorf("cannot serialize unfitted adapter")
	}
	return json.Marshal(a.state)
}

func (a *gbstAdapter) restore(payload []byte) error {
	if err := json.Unmarshal(payload, &a.state); err != nil {
		return err
	}
	a.fitted = true
	return nil
}
