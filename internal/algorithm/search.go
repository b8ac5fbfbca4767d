package algorithm

import (
	"fmt"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/study"
)

// Search delegates to a study: TrialStart asks for a trial and suggests one
// value per distribution, ShouldPrune reports the new values and consults the
// pruner, TrialEnd tells the outcome.
type Search struct {
	ledger
	study   *study.Study
	handles map[int]*handle
}

type handle struct {
	trial    *study.Trial
	reported int
}

func NewSearch(direction domain.Direction, sampler study.Sampler, pruner study.Pruner) *Search {
	return &Search{
		study: study.NewStudy(studyDirection(direction), study.WithSampler(sampler), study.WithPruner(pruner)),
	}
}

func studyDirection(d domain.Direction) study.Direction {
	if d == domain.DirectionMinimize {
		return study.Minimize
	}
	return study.Maximize
}

// Study exposes the underlying study for inspection.
func (s *Search) Study() *study.Study {
	return s.study
}

func (s *Search) RegisterDistributions(space domain.SearchSpace) {
	s.register(space)
	s.handles = make(map[int]*handle)
}

func (s *Search) TrialStart(trialID int) domain.Params {
	if s.trials == nil {
		panic(ErrNotRegistered)
	}
	if _, ok := s.trials[trialID]; ok {
		panic(fmt.Errorf("%w: %d", ErrTrialStarted, trialID))
	}
	trial := s.study.Ask()
	params := domain.Params{}
	for _, p := range s.space.Params() {
		v, err := suggest(trial, p.Name, p.Distribution)
		if err != nil {
			// Distributions are validated on registration.
			panic(fmt.Errorf("suggest %q for trial %d: %w", p.Name, trialID, err))
		}
		params[p.Name] = v
	}
	s.start(trialID, params)
	s.handles[trialID] = &handle{trial: trial}
	return params.Clone()
}

func suggest(trial *study.Trial, name string, d domain.Distribution) (any, error) {
	switch d.Kind {
	case domain.KindUniform:
		return trial.SuggestFloat(name, d.Low, d.High)
	case domain.KindLogUniform:
		return trial.SuggestLogFloat(name, d.Low, d.High)
	case domain.KindIntUniform:
		return trial.SuggestInt(name, int64(d.Low), int64(d.High))
	case domain.KindCategorical:
		return trial.SuggestCategorical(name, d.Choices())
	default:
		return nil, fmt.Errorf("unsupported distribution kind %q", d.Kind)
	}
}

func (s *Search) ShouldPrune(trialID int, reports []float64) bool {
	e := s.active(trialID)
	h := s.handles[trialID]
	for step := h.reported; step < len(reports); step++ {
		// Non-finite values are rejected by the study and never reach the pruner.
		_ = h.trial.Report(step, reports[step])
	}
	if len(reports) > h.reported {
		h.reported = len(reports)
	}
	if h.trial.ShouldPrune() {
		e.pruned = true
		return true
	}
	return false
}

// TrialEnd tells the study the outcome. Pruned trials are told as pruned,
// trials with a score as complete and trials without one as failed.
func (s *Search) TrialEnd(trialID int, score *float64) {
	e := s.active(trialID)
	h := s.handles[trialID]
	e.ended = true

	var err error
	switch {
	case e.pruned:
		err = s.study.TellPruned(h.trial)
	case score != nil:
		err = s.study.Tell(h.trial, *score)
		if err != nil {
			err = s.study.TellFailed(h.trial)
		}
	default:
		err = s.study.TellFailed(h.trial)
	}
	if err != nil {
		panic(fmt.Errorf("tell trial %d: %w", trialID, err))
	}
}

func (s *Search) Params(trialID int) (domain.Params, bool) {
	return s.params(trialID)
}
