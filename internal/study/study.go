// Package study is a sequential model-based search library with a
// define-by-run ask/tell interface. A Study hands out trials with Ask, the
// caller suggests one value per parameter on the trial, reports intermediate
// values for pruning and closes the trial with Tell.
package study

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Direction is the study's optimization convention.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

// better reports whether a improves on b.
func (d Direction) better(a, b float64) bool {
	if d == Maximize {
		return a > b
	}
	return a < b
}

// TrialState is the study-side lifecycle of a trial.
type TrialState int

const (
	TrialRunning TrialState = iota
	TrialComplete
	TrialPruned
	TrialFail
)

func (s TrialState) String() string {
	switch s {
	case TrialRunning:
		return "running"
	case TrialComplete:
		return "complete"
	case TrialPruned:
		return "pruned"
	case TrialFail:
		return "fail"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrUnknownTrial  = errors.New("trial does not belong to this study")
	ErrTrialFinished = errors.New("trial already finished")
	ErrInvalidValue  = errors.New("objective value must be finite")
)

// FrozenTrial is an immutable snapshot of a trial.
type FrozenTrial struct {
	Number        int
	State         TrialState
	Value         *float64
	Params        map[string]any
	Distributions map[string]ParamDistribution
	Intermediate  map[int]float64

	internal map[string]float64
}

// LastStep returns the highest reported step, or -1.
func (t FrozenTrial) LastStep() int {
	last := -1
	for step := range t.Intermediate {
		if step > last {
			last = step
		}
	}
	return last
}

type Options struct {
	Sampler Sampler
	Pruner  Pruner
}

type Option func(*Options)

func WithSampler(s Sampler) Option {
	return func(o *Options) { o.Sampler = s }
}

func WithPruner(p Pruner) Option {
	return func(o *Options) { o.Pruner = p }
}

// Study owns the trial history and the sampler/pruner pair.
type Study struct {
	direction Direction
	sampler   Sampler
	pruner    Pruner

	mu     sync.Mutex
	trials []*trialState
}

type trialState struct {
	frozen        FrozenTrial
	relative      map[string]float64
	relativeSpace map[string]ParamDistribution
}

// NewStudy creates a study. The default sampler is a RandomSampler seeded with
// 0 and the default pruner never prunes.
func NewStudy(direction Direction, opts ...Option) *Study {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Sampler == nil {
		o.Sampler = NewRandomSampler(0)
	}
	if o.Pruner == nil {
		o.Pruner = NopPruner{}
	}
	return &Study{direction: direction, sampler: o.Sampler, pruner: o.Pruner}
}

func (s *Study) Direction() Direction {
	return s.direction
}

// Ask starts a new trial. When the sampler supports joint proposals the
// values for the parameters shared by all finished trials are drawn here.
func (s *Study) Ask() *Trial {
	s.mu.Lock()
	defer s.mu.Unlock()

	number := len(s.trials)
	st := &trialState{frozen: FrozenTrial{
		Number:        number,
		State:         TrialRunning,
		Params:        map[string]any{},
		Distributions: map[string]ParamDistribution{},
		Intermediate:  map[int]float64{},
		internal:      map[string]float64{},
	}}
	history := s.historyLocked()
	if space := intersectionSpace(history); len(space) > 0 {
		st.relative = s.sampler.SampleRelative(history, space, s.direction)
		st.relativeSpace = space
	}
	s.trials = append(s.trials, st)
	return &Trial{study: s, number: number}
}

// Tell completes a trial with its objective value.
func (s *Study) Tell(t *Trial, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	return s.finish(t, TrialComplete, &value)
}

// TellPruned closes a pruned trial. Its value is the last intermediate value
// when one was reported.
func (s *Study) TellPruned(t *Trial) error {
	return s.finish(t, TrialPruned, nil)
}

// TellFailed closes a trial whose objective could not be evaluated.
func (s *Study) TellFailed(t *Trial) error {
	return s.finish(t, TrialFail, nil)
}

func (s *Study) finish(t *Trial, state TrialState, value *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookupLocked(t)
	if err != nil {
		return err
	}
	if st.frozen.State != TrialRunning {
		return fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, st.frozen.Number, st.frozen.State)
	}
	if state == TrialPruned {
		if last := st.frozen.LastStep(); last >= 0 {
			v := st.frozen.Intermediate[last]
			value = &v
		}
	}
	st.frozen.State = state
	st.frozen.Value = value
	return nil
}

// Trials returns snapshots of every trial in creation order.
func (s *Study) Trials() []FrozenTrial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FrozenTrial, 0, len(s.trials))
	for _, st := range s.trials {
		out = append(out, st.frozen.clone())
	}
	return out
}

// BestTrial returns the best completed trial under the study direction.
func (s *Study) BestTrial() (FrozenTrial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *FrozenTrial
	for _, st := range s.trials {
		if st.frozen.State != TrialComplete || st.frozen.Value == nil {
			continue
		}
		if best == nil || s.direction.better(*st.frozen.Value, *best.Value) {
			f := st.frozen
			best = &f
		}
	}
	if best == nil {
		return FrozenTrial{}, false
	}
	return best.clone(), true
}

func (s *Study) lookupLocked(t *Trial) (*trialState, error) {
	if t == nil || t.study != s || t.number < 0 || t.number >= len(s.trials) {
		return nil, ErrUnknownTrial
	}
	return s.trials[t.number], nil
}

// historyLocked snapshots all trials; samplers and pruners only see copies.
func (s *Study) historyLocked() []FrozenTrial {
	out := make([]FrozenTrial, 0, len(s.trials))
	for _, st := range s.trials {
		out = append(out, st.frozen.clone())
	}
	return out
}

func (t FrozenTrial) clone() FrozenTrial {
	out := t
	out.Params = make(map[string]any, len(t.Params))
	for k, v := range t.Params {
		out.Params[k] = v
	}
	out.Distributions = make(map[string]ParamDistribution, len(t.Distributions))
	for k, v := range t.Distributions {
		out.Distributions[k] = v
	}
	out.Intermediate = make(map[int]float64, len(t.Intermediate))
	for k, v := range t.Intermediate {
		out.Intermediate[k] = v
	}
	out.internal = make(map[string]float64, len(t.internal))
	for k, v := range t.internal {
		out.internal[k] = v
	}
	if t.Value != nil {
		v := *t.Value
		out.Value = &v
	}
	return out
}

// intersectionSpace is the set of parameters every completed trial declared
// with the same distribution.
func intersectionSpace(history []FrozenTrial) map[string]ParamDistribution {
	var space map[string]ParamDistribution
	for _, t := range history {
		if t.State != TrialComplete {
			continue
		}
		if space == nil {
			space = make(map[string]ParamDistribution, len(t.Distributions))
			for name, d := range t.Distributions {
				space[name] = d
			}
			continue
		}
		for name, d := range space {
			other, ok := t.Distributions[name]
			if !ok || !other.equal(d) {
				delete(space, name)
			}
		}
	}
	return space
}

func sortedNames(space map[string]ParamDistribution) []string {
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
