package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Scheduler) []Window {
	t.Helper()
	var windows []Window
	for {
		w, ok := s.Next()
		if !ok {
			break
		}
		windows = append(windows, w)
	}
	return windows
}

func TestRollingWindows_StopsBeforePartialWindow(t *testing.T) {
	// daily index of 300 points, train=200 val=20 step=20 embargo=1
	s, err := New(Config{TrainSize: 200, ValSize: 20, StepSize: 20, Embargo: 1, Mode: ModeRolling}, 300)
	require.NoError(t, err)

	windows := collect(t, s)
	require.Len(t, windows, 4)

	expected := []Window{
		{Index: 0, TrainStart: 0, TrainEnd: 200, ValStart: 201, ValEnd: 221},
		{Index: 1, TrainStart: 20, TrainEnd: 220, ValStart: 221, ValEnd: 241},
		{Index: 2, TrainStart: 40, TrainEnd: 240, ValStart: 241, ValEnd: 261},
		{Index: 3, TrainStart: 60, TrainEnd: 260, ValStart: 261, ValEnd: 281},
	}
	assert.Equal(t, expected, windows)

	// exhausted schedulers stay exhausted
	_, ok := s.Next()
	assert.False(t, ok)
}

func TestExpandingWindows(t *testing.T) {
	s, err := New(Config{TrainSize: 50, ValSize: 10, StepSize: 10, Embargo: 0, Mode: ModeExpanding}, 100)
	require.NoError(t, err)

	windows := collect(t, s)
	require.Len(t, windows, 5)

	for i, w := range windows {
		assert.Equal(t, 0, w.TrainStart, "expanding mode anchors training at 0")
		assert.Equal(t, 50+i*10, w.TrainEnd)
	}
}

func TestNoLeakageInvariant(t *testing.T) {
	for _, embargo := range []int{0, 1, 5} {
		s, err := New(Config{TrainSize: 30, ValSize: 7, StepSize: 7, Embargo: embargo, Mode: ModeRolling}, 250)
		require.NoError(t, err)

		for _, w := range collect(t, s) {
			assert.LessOrEqual(t, w.TrainEnd+embargo, w.ValStart, "train_end + embargo <= val_start")
			assert.Less(t, w.TrainStart, w.TrainEnd)
			assert.Less(t, w.ValStart, w.ValEnd)
			assert.LessOrEqual(t, w.ValEnd, 250, "val_end within index")
		}
	}
}

func TestDisjointValidationWhenStepCoversVal(t *testing.T) {
	s, err := New(Config{TrainSize: 40, ValSize: 10, StepSize: 10, Embargo: 2, Mode: ModeRolling}, 500)
	require.NoError(t, err)

	windows := collect(t, s)
	require.NotEmpty(t, windows)
	for i := 1; i < len(windows); i++ {
		assert.GreaterOrEqual(t, windows[i].ValStart, windows[i-1].ValEnd,
			"validation slices must be pairwise disjoint when step_size >= val_size")
	}
}

func TestShortDatasetYieldsEmptySequence(t *testing.T) {
	s, err := New(Config{TrainSize: 200, ValSize: 20, StepSize: 20, Embargo: 1, Mode: ModeRolling}, 100)
	require.NoError(t, err)

	windows := collect(t, s)
	assert.Empty(t, windows, "dataset shorter than one window is a valid empty sequence")
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero train_size", Config{TrainSize: 0, ValSize: 5, StepSize: 5, Mode: ModeRolling}},
		{"zero val_size", Config{TrainSize: 10, ValSize: 0, StepSize: 5, Mode: ModeRolling}},
		{"zero step_size", Config{TrainSize: 10, ValSize: 5, StepSize: 0, Mode: ModeRolling}},
		{"negative embargo", Config{TrainSize: 10, ValSize: 5, StepSize: 5, Embargo: -1, Mode: ModeRolling}},
		{"missing mode", Config{TrainSize: 10, ValSize: 5, StepSize: 5}},
		{"unknown mode", Config{TrainSize: 10, ValSize: 5, StepSize: 5, Mode: "sliding"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg, 100)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestOverlappingValidation(t *testing.T) {
	assert.True(t, Config{ValSize: 10, StepSize: 5}.OverlappingValidation())
	assert.False(t, Config{ValSize: 10, StepSize: 10}.OverlappingValidation())
}
