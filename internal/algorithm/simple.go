package algorithm

import (
	"math/rand"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

// Midpoint starts every trial at the centre of each distribution and never prunes.
type Midpoint struct {
	ledger
}

func NewMidpoint() *Midpoint {
	return &Midpoint{}
}

func (m *Midpoint) RegisterDistributions(space domain.SearchSpace) {
	m.register(space)
}

func (m *Midpoint) TrialStart(trialID int) domain.Params {
	params := domain.Params{}
	for _, p := range m.space.Params() {
		params[p.Name] = p.Distribution.Midpoint()
	}
	m.start(trialID, params)
	return params.Clone()
}

func (m *Midpoint) ShouldPrune(trialID int, _ []float64) bool {
	m.active(trialID)
	return false
}

func (m *Midpoint) TrialEnd(trialID int, _ *float64) {
	m.active(trialID).ended = true
}

func (m *Midpoint) Params(trialID int) (domain.Params, bool) {
	return m.params(trialID)
}

// Random samples every distribution independently and never prunes.
type Random struct {
	ledger
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) RegisterDistributions(space domain.SearchSpace) {
	r.register(space)
}

func (r *Random) TrialStart(trialID int) domain.Params {
	params := domain.Params{}
	for _, p := range r.space.Params() {
		params[p.Name] = p.Distribution.Sample(r.rng)
	}
	r.start(trialID, params)
	return params.Clone()
}

func (r *Random) ShouldPrune(trialID int, _ []float64) bool {
	r.active(trialID)
	return false
}

func (r *Random) TrialEnd(trialID int, _ *float64) {
	r.active(trialID).ended = true
}

func (r *Random) Params(trialID int) (domain.Params, bool) {
	return r.params(trialID)
}
