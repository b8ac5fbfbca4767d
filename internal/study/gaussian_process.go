package study

import "math"

// gaussianProcess is a kernel regression surrogate over the unit hypercube.
// Observations are (x, y) pairs where y is already in the minimization
// convention and standardized.
type gaussianProcess struct {
	X     [][]float64
	Y     []float64
	sigma float64
}

func newGaussianProcess(sigma float64) *gaussianProcess {
	if sigma <= 0 {
		sigma = 1.0
	}
	return &gaussianProcess{sigma: sigma}
}

// rbfKernel returns exp(-|x1-x2|^2 / (2 sigma^2)).
func (gp *gaussianProcess) rbfKernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}
	var sum float64
	for i := range x1 {
		diff := x1[i] - x2[i]
		sum += diff * diff
	}
	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Predict returns the mean and variance at x. With no observations the prior
// (0, 1) is returned.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	if len(gp.X) == 0 {
		return 0, 1
	}
	k := make([]float64, len(gp.X))
	var weight float64
	for i := range gp.X {
		k[i] = gp.rbfKernel(x, gp.X[i])
		weight += k[i]
	}

	n := float64(len(gp.X))
	var sum float64
	for i := range gp.X {
		sum += k[i] * gp.Y[i]
	}
	mean = sum / n

	variance = 1.0 - weight*weight/n
	if variance < minVariance {
		variance = minVariance
	}
	return mean, variance
}

func (gp *gaussianProcess) Update(x []float64, y float64) {
	cp := make([]float64, len(x))
	copy(cp, x)
	gp.X = append(gp.X, cp)
	gp.Y = append(gp.Y, y)
}

const minVariance = 1e-9

func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}
