package runtimeexec

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

// RegisterBuiltins installs the demo objectives: go://quadratic and
// go://sgd_regression.
func RegisterBuiltins(e *LocalExecutor) {
	e.Register("quadratic", Quadratic)
	e.Register("sgd_regression", SGDRegression)
}

// Quadratic scores x with -(x-2)^2, peaking at x=2.
func Quadratic(ctx context.Context, params domain.Params, report ReportFunc) (*float64, error) {
	x, err := floatParam(params, "x")
	if err != nil {
		return nil, err
	}
	score := -(x - 2) * (x - 2)
	report(0, score)
	return &score, nil
}

// SGDRegression fits y = 3x + 1 on a fixed synthetic set with plain SGD and
// reports the validation R^2 after every epoch. Params: alpha (learning rate,
// required), epochs (optional, default 20).
func SGDRegression(ctx context.Context, params domain.Params, report ReportFunc) (*float64, error) {
	alpha, err := floatParam(params, "alpha")
	if err != nil {
		return nil, err
	}
	epochs := 20
	if _, ok := params["epochs"]; ok {
		v, err := floatParam(params, "epochs")
		if err != nil {
			return nil, err
		}
		epochs = int(v)
	}

	rng := rand.New(rand.NewSource(7))
	xs := make([]float64, 200)
	ys := make([]float64, 200)
	for i := range xs {
		xs[i] = rng.Float64()*2 - 1
		ys[i] = 3*xs[i] + 1 + rng.NormFloat64()*0.1
	}
	trainX, trainY := xs[:150], ys[:150]
	validX, validY := xs[150:], ys[150:]

	var w, b float64
	var r2 float64
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range trainX {
			diff := w*trainX[i] + b - trainY[i]
			w -= alpha * diff * trainX[i]
			b -= alpha * diff
		}
		r2 = rSquared(validX, validY, w, b)
		if math.IsNaN(r2) || math.IsInf(r2, 0) {
			return nil, fmt.Errorf("diverged at epoch %d", epoch)
		}
		report(epoch, r2)
	}
	return &r2, nil
}

func rSquared(xs, ys []float64, w, b float64) float64 {
	var mean float64
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))
	var ssRes, ssTot float64
	for i := range xs {
		d := ys[i] - (w*xs[i] + b)
		ssRes += d * d
		m := ys[i] - mean
		ssTot += m * m
	}
	return 1 - ssRes/ssTot
}

func floatParam(params domain.Params, name string) (float64, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	f, ok := domain.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("parameter %q is not numeric: %v", name, v)
	}
	return f, nil
}
