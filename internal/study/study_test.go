package study

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestWithinBounds(t *testing.T) {
	s := NewStudy(Minimize, WithSampler(NewRandomSampler(3)))
	for i := 0; i < 500; i++ {
		trial := s.Ask()
		x, err := trial.SuggestFloat("x", -10, 10)
		require.NoError(t, err)
		lr, err := trial.SuggestLogFloat("lr", 1e-4, 1e-1)
		require.NoError(t, err)
		n, err := trial.SuggestInt("n", 3, 15)
		require.NoError(t, err)
		opt, err := trial.SuggestCategorical("opt", []any{"adam", "sgd"})
		require.NoError(t, err)

		assert.True(t, x >= -10 && x <= 10)
		assert.True(t, lr >= 1e-4 && lr <= 1e-1)
		assert.True(t, n >= 3 && n <= 15)
		assert.Contains(t, []any{"adam", "sgd"}, opt)
		require.NoError(t, s.Tell(trial, x*x))
	}
	assert.Len(t, s.Trials(), 500)
}

func TestSuggestIsStableWithinTrial(t *testing.T) {
	s := NewStudy(Maximize)
	trial := s.Ask()
	a, err := trial.SuggestFloat("x", 0, 1)
	require.NoError(t, err)
	b, err := trial.SuggestFloat("x", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = trial.SuggestFloat("x", 0, 2)
	assert.True(t, errors.Is(err, ErrIncompatibleDistribution))
}

func TestSuggestRejectsBadBounds(t *testing.T) {
	trial := NewStudy(Minimize).Ask()
	_, err := trial.SuggestFloat("x", 2, 1)
	assert.Error(t, err)
	_, err = trial.SuggestLogFloat("lr", 0, 1)
	assert.Error(t, err)
	_, err = trial.SuggestInt("n", 5, 1)
	assert.Error(t, err)
	_, err = trial.SuggestCategorical("c", nil)
	assert.Error(t, err)
}

func TestTellTwiceFails(t *testing.T) {
	s := NewStudy(Minimize)
	trial := s.Ask()
	require.NoError(t, s.Tell(trial, 1))
	assert.True(t, errors.Is(s.Tell(trial, 2), ErrTrialFinished))
	assert.True(t, errors.Is(s.TellFailed(trial), ErrTrialFinished))

	other := NewStudy(Minimize)
	assert.True(t, errors.Is(other.Tell(trial, 1), ErrUnknownTrial))
	assert.True(t, errors.Is(s.Tell(s.Ask(), math.NaN()), ErrInvalidValue))
}

func TestTellPrunedUsesLastIntermediate(t *testing.T) {
	s := NewStudy(Maximize)
	trial := s.Ask()
	require.NoError(t, trial.Report(0, 0.2))
	require.NoError(t, trial.Report(1, 0.4))
	require.NoError(t, s.TellPruned(trial))

	frozen := s.Trials()[0]
	assert.Equal(t, TrialPruned, frozen.State)
	require.NotNil(t, frozen.Value)
	assert.Equal(t, 0.4, *frozen.Value)
	assert.Error(t, trial.Report(2, 0.5))
}

func TestBestTrialHonoursDirection(t *testing.T) {
	for _, tc := range []struct {
		direction Direction
		want      float64
	}{
		{Maximize, 3},
		{Minimize, -1},
	} {
		s := NewStudy(tc.direction)
		for _, v := range []float64{1, 3, -1} {
			require.NoError(t, s.Tell(s.Ask(), v))
		}
		failed := s.Ask()
		require.NoError(t, s.TellFailed(failed))

		best, ok := s.BestTrial()
		require.True(t, ok)
		assert.Equal(t, tc.want, *best.Value, tc.direction.String())
	}

	_, ok := NewStudy(Minimize).BestTrial()
	assert.False(t, ok)
}

func TestTrialsSnapshotsAreCopies(t *testing.T) {
	s := NewStudy(Minimize)
	trial := s.Ask()
	_, err := trial.SuggestFloat("x", 0, 1)
	require.NoError(t, err)

	snap := s.Trials()[0]
	snap.Params["x"] = 42.0
	assert.NotEqual(t, 42.0, s.Trials()[0].Params["x"])
}

func TestIntersectionSpace(t *testing.T) {
	history := []FrozenTrial{
		{State: TrialComplete, Distributions: map[string]ParamDistribution{
			"x": {Kind: ParamFloat, Low: 0, High: 1},
			"y": {Kind: ParamFloat, Low: 0, High: 1},
		}},
		{State: TrialRunning, Distributions: map[string]ParamDistribution{}},
		{State: TrialComplete, Distributions: map[string]ParamDistribution{
			"x": {Kind: ParamFloat, Low: 0, High: 1},
			"y": {Kind: ParamFloat, Low: 0, High: 2},
		}},
	}
	space := intersectionSpace(history)
	assert.Len(t, space, 1)
	assert.Contains(t, space, "x")
}
