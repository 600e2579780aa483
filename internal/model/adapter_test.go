package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/walkforward/internal/dataset"
)

const testTarget = "target_fwd"

func trainingRows(n int) []dataset.Row {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]dataset.Row, 0, n*2)
	for d := 0; d < n; d++ {
		for _, entity := range []string{"AAPL", "MSFT"} {
			mom := float64(d%7)*0.1 - 0.3
			vol := 0.2 + float64(d%5)*0.05
			target := 0.5*mom - 0.2*vol
			if entity == "MSFT" {
				target += 0.05
			}
			rows = append(rows, dataset.Row{
				Time:   base.AddDate(0, 0, d),
				Entity: entity,
				Values: map[string]float64{
					"feat_mom": mom,
					"feat_vol": vol,
					testTarget: target,
				},
			})
		}
	}
	return rows
}

func fitConfig() Config {
	return Config{
		Seed:     42,
		Features: []string{"feat_mom", "feat_vol"},
	}
}

func TestNewFactory(t *testing.T) {
	for _, v := range []Variant{VariantBaseline, VariantGBST, VariantSeqNet} {
		f, err := NewFactory(v)
		require.NoError(t, err)
		assert.Equal(t, v, f.Variant())
		assert.Equal(t, v, f.New().Variant())
	}

	_, err := NewFactory("lightgbm")
	assert.Error(t, err)
}

func TestFit_EmptyAndTooFewRows(t *testing.T) {
	for _, v := range []Variant{VariantBaseline, VariantGBST, VariantSeqNet} {
		t.Run(string(v), func(t *testing.T) {
			f, err := NewFactory(v)
			require.NoError(t, err)

			var trainErr *TrainingError
			err = f.New().Fit(context.Background(), nil, testTarget, fitConfig())
			assert.ErrorAs(t, err, &trainErr)

			if v != VariantBaseline {
				err = f.New().Fit(context.Background(), trainingRows(3), testTarget, fitConfig())
				assert.ErrorAs(t, err, &trainErr, "rows below variant minimum must fail")
			}
		})
	}
}

func TestFit_MissingFeatureColumn(t *testing.T) {
	rows := trainingRows(30)
	delete(rows[10].Values, "feat_vol")

	adapter := &baselineAdapter{}
	err := adapter.Fit(context.Background(), rows, testTarget, fitConfig())
	var trainErr *TrainingError
	require.ErrorAs(t, err, &trainErr)
	assert.Contains(t, err.Error(), "feat_vol")
}

func TestFit_MissingTargetColumn(t *testing.T) {
	adapter := &baselineAdapter{}
	err := adapter.Fit(context.Background(), trainingRows(10), "target_missing", fitConfig())
	var trainErr *TrainingError
	assert.ErrorAs(t, err, &trainErr)
}

func TestPredict_FeatureSchemaMismatch(t *testing.T) {
	for _, v := range []Variant{VariantBaseline, VariantGBST, VariantSeqNet} {
		t.Run(string(v), func(t *testing.T) {
			f, err := NewFactory(v)
			require.NoError(t, err)
			adapter := f.New()
			require.NoError(t, adapter.Fit(context.Background(), trainingRows(40), testTarget, fitConfig()))

			var infErr *InferenceError

			// dropped feature column
			missing := trainingRows(5)
			for i := range missing {
				delete(missing[i].Values, "feat_mom")
			}
			_, err = adapter.Predict(missing)
			assert.ErrorAs(t, err, &infErr)

			// extra feature column not recorded at fit time
			extra := trainingRows(5)
			for i := range extra {
				extra[i].Values["feat_rsi"] = 50.0
			}
			_, err = adapter.Predict(extra)
			assert.ErrorAs(t, err, &infErr)
		})
	}
}

func TestPredict_BeforeFitFails(t *testing.T) {
	adapter := &gbstAdapter{}
	_, err := adapter.Predict(trainingRows(5))
	var infErr *InferenceError
	assert.ErrorAs(t, err, &infErr)
}

func TestPredict_AlignedWithInput(t *testing.T) {
	for _, v := range []Variant{VariantBaseline, VariantGBST, VariantSeqNet} {
		t.Run(string(v), func(t *testing.T) {
			f, err := NewFactory(v)
			require.NoError(t, err)
			adapter := f.New()
			require.NoError(t, adapter.Fit(context.Background(), trainingRows(40), testTarget, fitConfig()))

			in := trainingRows(7)
			scores, err := adapter.Predict(in)
			require.NoError(t, err)
			assert.Len(t, scores, len(in))
		})
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	for _, v := range []Variant{VariantBaseline, VariantGBST, VariantSeqNet} {
		t.Run(string(v), func(t *testing.T) {
			f, err := NewFactory(v)
			require.NoError(t, err)
			adapter := f.New()
			require.NoError(t, adapter.Fit(context.Background(), trainingRows(40), testTarget, fitConfig()))

			in := trainingRows(10)
			want, err := adapter.Predict(in)
			require.NoError(t, err)

			payload, err := adapter.Serialize()
			require.NoError(t, err)

			restored, err := Deserialize(v, payload)
			require.NoError(t, err)

			got, err := restored.Predict(in)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for i := range want {
				assert.InDelta(t, want[i], got[i], adapter.Tolerance()+1e-15)
			}
		})
	}
}

func TestFit_Deterministic(t *testing.T) {
	for _, v := range []Variant{VariantBaseline, VariantGBST, VariantSeqNet} {
		t.Run(string(v), func(t *testing.T) {
			f, err := NewFactory(v)
			require.NoError(t, err)

			a1 := f.New()
			a2 := f.New()
			require.NoError(t, a1.Fit(context.Background(), trainingRows(40), testTarget, fitConfig()))
			require.NoError(t, a2.Fit(context.Background(), trainingRows(40), testTarget, fitConfig()))

			p1, err := a1.Serialize()
			require.NoError(t, err)
			p2, err := a2.Serialize()
			require.NoError(t, err)
			assert.Equal(t, string(p1), string(p2), "identical input and seed must produce identical state")
		})
	}
}

func TestFit_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := &gbstAdapter{}
	err := adapter.Fit(ctx, trainingRows(40), testTarget, fitConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGBST_LearnsSignal(t *testing.T) {
	adapter := &gbstAdapter{}
	require.NoError(t, adapter.Fit(context.Background(), trainingRows(60), testTarget, fitConfig()))

	baseline := &baselineAdapter{}
	require.NoError(t, baseline.Fit(context.Background(), trainingRows(60), testTarget, fitConfig()))

	holdout := trainingRows(60)[100:]
	gbstScores, err := adapter.Predict(holdout)
	require.NoError(t, err)
	baseScores, err := baseline.Predict(holdout)
	require.NoError(t, err)

	assert.Less(t, mseOf(holdout, gbstScores), mseOf(holdout, baseScores),
		"boosted stumps should beat the entity-mean baseline on a feature-driven target")
}

func mseOf(rows []dataset.Row, scores []float64) float64 {
	var sum float64
	for i, row := range rows {
		d := row.Values[testTarget] - scores[i]
		sum += d * d
	}
	return sum / float64(len(rows))
}

func TestFit_Twice(t *testing.T) {
	adapter := &baselineAdapter{}
	require.NoError(t, adapter.Fit(context.Background(), trainingRows(10), testTarget, fitConfig()))
	err := adapter.Fit(context.Background(), trainingRows(10), testTarget, fitConfig())
	var trainErr *TrainingError
	assert.ErrorAs(t, err, &trainErr)
}
