package study

import (
	"math"
	"math/rand"
)

// Sampler proposes internal parameter values. SampleRelative draws a joint
// proposal for a search space shared by the finished trials and may return
// nil; parameters it does not cover go through SampleIndependent.
type Sampler interface {
	SampleRelative(history []FrozenTrial, space map[string]ParamDistribution, direction Direction) map[string]float64
	SampleIndependent(history []FrozenTrial, name string, d ParamDistribution) float64
}

// RandomSampler draws every parameter uniformly in its unit encoding, which is
// log-uniform for ParamLogFloat.
type RandomSampler struct {
	rng *rand.Rand
}

func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomSampler) SampleRelative([]FrozenTrial, map[string]ParamDistribution, Direction) map[string]float64 {
	return nil
}

func (r *RandomSampler) SampleIndependent(_ []FrozenTrial, _ string, d ParamDistribution) float64 {
	return d.fromUnit(r.rng.Float64())
}

// GPSampler runs StartupTrials random trials and then picks, out of
// Candidates uniform draws, the one the surrogate scores lowest under
// Acquisition.
type GPSampler struct {
	StartupTrials int
	Candidates    int
	Sigma         float64
	Acquisition   AcquisitionFunc
	Params        AcquisitionParams

	rng    *rand.Rand
	random *RandomSampler
}

func NewGPSampler(seed int64) *GPSampler {
	return &GPSampler{
		StartupTrials: 10,
		Candidates:    256,
		Sigma:         0.25,
		Acquisition:   ExpectedImprovement,
		Params:        DefaultAcquisitionParams(),
		rng:           rand.New(rand.NewSource(seed)),
		random:        NewRandomSampler(seed + 1),
	}
}

func (g *GPSampler) SampleIndependent(history []FrozenTrial, name string, d ParamDistribution) float64 {
	return g.random.SampleIndependent(history, name, d)
}

func (g *GPSampler) SampleRelative(history []FrozenTrial, space map[string]ParamDistribution, direction Direction) map[string]float64 {
	names := sortedNames(space)
	if len(names) == 0 {
		return nil
	}

	var xs [][]float64
	var ys []float64
	for _, t := range history {
		if t.State != TrialComplete || t.Value == nil {
			continue
		}
		x := make([]float64, len(names))
		complete := true
		for i, name := range names {
			v, ok := t.internal[name]
			if !ok {
				complete = false
				break
			}
			x[i] = space[name].toUnit(v)
		}
		if !complete {
			continue
		}
		y := *t.Value
		if direction == Maximize {
			y = -y
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) < g.StartupTrials || len(xs) == 0 {
		return nil
	}

	standardize(ys)
	gp := newGaussianProcess(g.Sigma)
	best := math.MaxFloat64
	for i := range xs {
		gp.Update(xs[i], ys[i])
		best = math.Min(best, ys[i])
	}

	params := g.Params
	params.BestSoFar = best
	params.RandomState = g.rng
	acquisition := g.Acquisition
	if acquisition == nil {
		acquisition = ExpectedImprovement
	}
	candidates := g.Candidates
	if candidates < 1 {
		candidates = 1
	}

	var next []float64
	bestAcquisition := math.Inf(1)
	for j := 0; j < candidates; j++ {
		candidate := make([]float64, len(names))
		for i := range candidate {
			candidate[i] = g.rng.Float64()
		}
		mean, variance := gp.Predict(candidate)
		if a := acquisition(mean, variance, params); a < bestAcquisition || next == nil {
			bestAcquisition = a
			next = candidate
		}
	}

	out := make(map[string]float64, len(names))
	for i, name := range names {
		out[name] = space[name].fromUnit(next[i])
	}
	return out
}

// standardize rescales ys in place to zero mean and unit variance.
func standardize(ys []float64) {
	var mean float64
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))
	var sq float64
	for _, y := range ys {
		sq += (y - mean) * (y - mean)
	}
	sd := math.Sqrt(sq / float64(len(ys)))
	if sd == 0 {
		sd = 1
	}
	for i := range ys {
		ys[i] = (ys[i] - mean) / sd
	}
}
