// Package metrics provides the evaluation metrics the walk-forward
// trainer computes on each window's validation slice. Each metric
// declares its direction so aggregation can report a worst case.
package metrics

import (
	"fmt"
	"math"
	"sort"
)

// Metric evaluates predictions against realized target values. Fn is
// called with equal-length, 1:1 aligned slices.
type Metric struct {
	Name           string
	HigherIsBetter bool
	Fn             func(actual, predicted []float64) float64
}

// Worse reports whether value a is worse than value b under this metric
func (m Metric) Worse(a, b float64) bool {
	if m.HigherIsBetter {
		return a < b
	}
	return a > b
}

// MSE is the mean squared error
var MSE = Metric{
	Name: "mse",
	Fn: func(actual, predicted []float64) float64 {
		var sum float64
		for i := range actual {
			d := actual[i] - predicted[i]
			sum += d * d
		}
		return sum / float64(len(actual))
	},
}

// MAE is the mean absolute error
var MAE = Metric{
	Name: "mae",
	Fn: func(actual, predicted []float64) float64 {
		var sum float64
		for i := range actual {
			sum += math.Abs(actual[i] - predicted[i])
		}
		return sum / float64(len(actual))
	},
}

// RMSE is the root mean squared error
var RMSE = Metric{
	Name: "rmse",
	Fn: func(actual, predicted []float64) float64 {
		return math.Sqrt(MSE.Fn(actual, predicted))
	},
}

// IC is the information coefficient: Spearman rank correlation between
// predicted scores and realized targets.
var IC = Metric{
	Name:           "ic",
	HigherIsBetter: true,
	Fn: func(actual, predicted []float64) float64 {
		return spearman(actual, predicted)
	},
}

// HitRate is the fraction of predictions whose sign matches the realized
// target's sign. Zero targets count as misses.
var HitRate = Metric{
	Name:           "hit_rate",
	HigherIsBetter: true,
	Fn: func(actual, predicted []float64) float64 {
		hits := 0
		for i := range actual {
			if actual[i] > 0 && predicted[i] > 0 || actual[i] < 0 && predicted[i] < 0 {
				hits++
			}
		}
		return float64(hits) / float64(len(actual))
	},
}

var registry = map[string]Metric{
	MSE.Name:     MSE,
	MAE.Name:     MAE,
	RMSE.Name:    RMSE,
	IC.Name:      IC,
	HitRate.Name: HitRate,
}

// ByName resolves metric names to metric implementations
func ByName(names ...string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, name := range names {
		m, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown metric %q", name)
		}
		out = append(out, m)
	}
	return out, nil
}

// spearman computes the Spearman rank correlation of two aligned series.
// Ties receive their average rank. Degenerate (constant) series yield 0.
func spearman(a, b []float64) float64 {
	if len(a) < 2 {
		return 0
	}
	ra := ranks(a)
	rb := ranks(b)

	meanA, meanB := mean(ra), mean(rb)
	var cov, varA, varB float64
	for i := range ra {
		da := ra[i] - meanA
		db := rb[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func ranks(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return values[idx[i]] < values[idx[j]]
	})

	out := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// average rank across the tie group (1-based ranks)
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
