// Package algorithm holds the strategies that choose trial parameters and
// pruning decisions for a sweep.
//
// Calls for a trial id that was never started, a second TrialStart, and any
// call after TrialEnd are scheduler bugs. Implementations panic with an error
// wrapping ErrUnknownTrial, ErrTrialStarted or ErrTrialEnded; callers must not
// recover them.
package algorithm

import (
	"errors"
	"fmt"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/study"
)

var (
	ErrUnknownTrial  = errors.New("unknown trial")
	ErrTrialStarted  = errors.New("trial already started")
	ErrTrialEnded    = errors.New("trial already ended")
	ErrNotRegistered = errors.New("distributions not registered")
)

// Algorithm decides parameter values per trial and whether a trial should be
// pruned given its reports.
type Algorithm interface {
	RegisterDistributions(space domain.SearchSpace)
	TrialStart(trialID int) domain.Params
	ShouldPrune(trialID int, reports []float64) bool
	TrialEnd(trialID int, score *float64)
	Params(trialID int) (domain.Params, bool)
}

// Options configures New.
type Options struct {
	Name      string
	Direction domain.Direction
	Pruner    string
	Seed      int64
}

// New builds the algorithm named by opts.Name.
func New(opts Options) (Algorithm, error) {
	switch opts.Name {
	case domain.AlgorithmMidpoint:
		return NewMidpoint(), nil
	case domain.AlgorithmRandom:
		return NewRandom(opts.Seed), nil
	case "", domain.AlgorithmSearch:
		var pruner study.Pruner = study.NopPruner{}
		switch opts.Pruner {
		case "", domain.PrunerNone:
		case domain.PrunerMedian:
			pruner = study.NewMedianPruner()
		default:
			return nil, fmt.Errorf("unsupported pruner %q", opts.Pruner)
		}
		return NewSearch(opts.Direction, study.NewGPSampler(opts.Seed), pruner), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", opts.Name)
	}
}

type entry struct {
	params domain.Params
	ended  bool
	pruned bool
}

// ledger is the per-trial bookkeeping shared by the variants.
type ledger struct {
	space  domain.SearchSpace
	trials map[int]*entry
}

func (l *ledger) register(space domain.SearchSpace) {
	l.space = space
	l.trials = make(map[int]*entry)
}

func (l *ledger) start(trialID int, params domain.Params) {
	if l.trials == nil {
		panic(ErrNotRegistered)
	}
	if _, ok := l.trials[trialID]; ok {
		panic(fmt.Errorf("%w: %d", ErrTrialStarted, trialID))
	}
	l.trials[trialID] = &entry{params: params}
}

// active returns the entry of a started, not yet ended trial.
func (l *ledger) active(trialID int) *entry {
	e, ok := l.trials[trialID]
	if !ok {
		panic(fmt.Errorf("%w: %d", ErrUnknownTrial, trialID))
	}
	if e.ended {
		panic(fmt.Errorf("%w: %d", ErrTrialEnded, trialID))
	}
	return e
}

func (l *ledger) params(trialID int) (domain.Params, bool) {
	e, ok := l.trials[trialID]
	if !ok {
		return nil, false
	}
	return e.params.Clone(), true
}
