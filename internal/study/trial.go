package study

import (
	"fmt"
	"math"
)

// Trial is the caller's handle on a running study trial.
type Trial struct {
	study  *Study
	number int
}

func (t *Trial) Number() int {
	return t.number
}

func (t *Trial) SuggestFloat(name string, low, high float64) (float64, error) {
	v, err := t.suggest(name, ParamDistribution{Kind: ParamFloat, Low: low, High: high})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SuggestLogFloat samples in log space; low must be positive.
func (t *Trial) SuggestLogFloat(name string, low, high float64) (float64, error) {
	v, err := t.suggest(name, ParamDistribution{Kind: ParamLogFloat, Low: low, High: high})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (t *Trial) SuggestInt(name string, low, high int64) (int64, error) {
	r := Range[int64]{Low: low, High: high}
	if !r.Valid() {
		return 0, fmt.Errorf("suggest %q: int low %d > high %d", name, low, high)
	}
	v, err := t.suggest(name, ParamDistribution{Kind: ParamInt, Low: float64(r.Low), High: float64(r.High)})
	if err != nil {
		return 0, err
	}
	return r.Clamp(v.(int64)), nil
}

func (t *Trial) SuggestCategorical(name string, choices []any) (any, error) {
	c := make([]any, len(choices))
	copy(c, choices)
	return t.suggest(name, ParamDistribution{Kind: ParamCategorical, Choices: c})
}

// suggest returns the value for name, drawing it on first use. Asking again
// with the same distribution returns the same value.
func (t *Trial) suggest(name string, d ParamDistribution) (any, error) {
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("suggest %q: %w", name, err)
	}
	s := t.study
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookupLocked(t)
	if err != nil {
		return nil, err
	}
	if st.frozen.State != TrialRunning {
		return nil, fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, st.frozen.Number, st.frozen.State)
	}
	if existing, ok := st.frozen.Distributions[name]; ok {
		if !existing.equal(d) {
			return nil, fmt.Errorf("%w: %q", ErrIncompatibleDistribution, name)
		}
		return st.frozen.Params[name], nil
	}

	internal, ok := st.relative[name]
	if rd, known := st.relativeSpace[name]; !known || !rd.equal(d) {
		ok = false
	}
	if !ok {
		internal = s.sampler.SampleIndependent(s.historyLocked(), name, d)
	}
	internal = d.fromUnit(d.toUnit(internal))
	value := d.external(internal)

	st.frozen.Distributions[name] = d
	st.frozen.internal[name] = internal
	st.frozen.Params[name] = value
	return value, nil
}

// Report records an intermediate value at step. A step already reported keeps
// its first value.
func (t *Trial) Report(step int, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	s := t.study
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookupLocked(t)
	if err != nil {
		return err
	}
	if st.frozen.State != TrialRunning {
		return fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, st.frozen.Number, st.frozen.State)
	}
	if _, exists := st.frozen.Intermediate[step]; !exists {
		st.frozen.Intermediate[step] = value
	}
	return nil
}

// ShouldPrune asks the study pruner about the trial's reported values.
func (t *Trial) ShouldPrune() bool {
	s := t.study
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookupLocked(t)
	if err != nil || st.frozen.State != TrialRunning {
		return false
	}
	return s.pruner.Prune(s.historyLocked(), st.frozen.clone(), s.direction)
}

// Params returns the values suggested so far.
func (t *Trial) Params() map[string]any {
	s := t.study
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.lookupLocked(t)
	if err != nil {
		return nil
	}
	return st.frozen.clone().Params
}
