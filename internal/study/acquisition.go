package study

import (
	"math"
	"math/rand"
)

// AcquisitionFunc scores a candidate from the surrogate's prediction. The
// surrogate works in the minimization convention and lower scores are more
// promising.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams carries the knobs of the built-in acquisition functions.
type AcquisitionParams struct {
	// Beta weights uncertainty in LCB.
	Beta float64
	// Xi is the minimum improvement PI and EI look for.
	Xi float64
	// BestSoFar is the lowest standardized observation; set by the sampler.
	BestSoFar float64
	// RandomState drives Thompson sampling; set by the sampler.
	RandomState *rand.Rand
}

func DefaultAcquisitionParams() AcquisitionParams {
	return AcquisitionParams{Beta: 2.0, Xi: 0.01, BestSoFar: math.MaxFloat64}
}

// LCB is the lower confidence bound, the minimization form of UCB.
func LCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement returns the negated probability of beating BestSoFar by Xi.
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sd := math.Sqrt(variance)
	z := (params.BestSoFar - mean - params.Xi) / sd
	return -normalCDF(z)
}

// ExpectedImprovement returns the negated expected improvement over BestSoFar.
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sd := math.Sqrt(variance)
	imp := params.BestSoFar - mean - params.Xi
	z := imp / sd
	return -(imp*normalCDF(z) + sd*normalPDF(z))
}

// ThompsonSampling draws from the posterior at the candidate.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}
