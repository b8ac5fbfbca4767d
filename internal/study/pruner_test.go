package study

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeWithCurve(t *testing.T, s *Study, curve ...float64) {
	t.Helper()
	trial := s.Ask()
	for step, v := range curve {
		require.NoError(t, trial.Report(step, v))
	}
	require.NoError(t, s.Tell(trial, curve[len(curve)-1]))
}

func TestMedianPrunerMaximize(t *testing.T) {
	pruner := MedianPruner{StartupTrials: 2, MinTrials: 1}
	s := NewStudy(Maximize, WithPruner(pruner))
	completeWithCurve(t, s, 0.5, 0.6, 0.7)
	completeWithCurve(t, s, 0.4, 0.5, 0.6)
	completeWithCurve(t, s, 0.3, 0.4, 0.5)

	good := s.Ask()
	require.NoError(t, good.Report(0, 0.45))
	assert.False(t, good.ShouldPrune())

	bad := s.Ask()
	require.NoError(t, bad.Report(0, 0.1))
	require.NoError(t, bad.Report(1, 0.2))
	assert.True(t, bad.ShouldPrune())
}

func TestMedianPrunerMinimize(t *testing.T) {
	s := NewStudy(Minimize, WithPruner(MedianPruner{StartupTrials: 1, MinTrials: 1}))
	completeWithCurve(t, s, 1.0, 0.5)

	bad := s.Ask()
	require.NoError(t, bad.Report(0, 2.0))
	assert.True(t, bad.ShouldPrune())

	good := s.Ask()
	require.NoError(t, good.Report(0, 0.9))
	assert.False(t, good.ShouldPrune())
}

func TestMedianPrunerStartupAndWarmup(t *testing.T) {
	s := NewStudy(Maximize, WithPruner(MedianPruner{StartupTrials: 3, WarmupSteps: 0, MinTrials: 1}))
	completeWithCurve(t, s, 1.0)
	trial := s.Ask()
	require.NoError(t, trial.Report(0, 0.0))
	assert.False(t, trial.ShouldPrune(), "not enough completed trials")

	warm := NewStudy(Maximize, WithPruner(MedianPruner{StartupTrials: 1, WarmupSteps: 2, MinTrials: 1}))
	completeWithCurve(t, warm, 1.0, 1.0, 1.0)
	early := warm.Ask()
	require.NoError(t, early.Report(0, 0.0))
	require.NoError(t, early.Report(1, 0.0))
	assert.False(t, early.ShouldPrune(), "inside warmup")
	require.NoError(t, early.Report(2, 0.0))
	assert.True(t, early.ShouldPrune())
}

func TestNopPrunerNeverPrunes(t *testing.T) {
	s := NewStudy(Maximize)
	completeWithCurve(t, s, 10)
	trial := s.Ask()
	require.NoError(t, trial.Report(0, -100))
	assert.False(t, trial.ShouldPrune())
}

func TestMedianOf(t *testing.T) {
	assert.Equal(t, 2.0, medianOf([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, medianOf([]float64{4, 1, 2, 3}))
}
