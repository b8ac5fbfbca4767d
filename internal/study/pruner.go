package study

import "sort"

// Pruner decides whether a running trial should stop early.
type Pruner interface {
	Prune(history []FrozenTrial, trial FrozenTrial, direction Direction) bool
}

type NopPruner struct{}

func (NopPruner) Prune([]FrozenTrial, FrozenTrial, Direction) bool {
	return false
}

// MedianPruner prunes a trial whose best intermediate value is worse than the
// median of the completed trials' values at the same step.
type MedianPruner struct {
	// StartupTrials completed trials are required before anything is pruned.
	StartupTrials int
	// WarmupSteps steps of every trial are never pruned.
	WarmupSteps int
	// MinTrials is the minimum number of completed trials reporting the step.
	MinTrials int
}

func NewMedianPruner() MedianPruner {
	return MedianPruner{StartupTrials: 5, WarmupSteps: 0, MinTrials: 1}
}

func (p MedianPruner) Prune(history []FrozenTrial, trial FrozenTrial, direction Direction) bool {
	step := trial.LastStep()
	if step < 0 || step < p.WarmupSteps {
		return false
	}

	var completed int
	var atStep []float64
	for _, t := range history {
		if t.State != TrialComplete {
			continue
		}
		completed++
		if v, ok := t.Intermediate[step]; ok {
			atStep = append(atStep, v)
		}
	}
	if completed < p.StartupTrials || len(atStep) == 0 || len(atStep) < p.MinTrials {
		return false
	}

	best := bestIntermediate(trial, direction)
	median := medianOf(atStep)
	if direction == Maximize {
		return best < median
	}
	return best > median
}

func bestIntermediate(trial FrozenTrial, direction Direction) float64 {
	first := true
	var best float64
	for _, v := range trial.Intermediate {
		if first || direction.better(v, best) {
			best = v
			first = false
		}
	}
	return best
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
