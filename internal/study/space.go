package study

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"golang.org/x/exp/constraints"
)

// ParamKind is the suggest family a parameter was declared with.
type ParamKind string

const (
	ParamFloat       ParamKind = "float"
	ParamLogFloat    ParamKind = "log_float"
	ParamInt         ParamKind = "int"
	ParamCategorical ParamKind = "categorical"
)

var ErrIncompatibleDistribution = errors.New("parameter already suggested with a different distribution")

// Range is an inclusive [Low, High] interval.
type Range[T constraints.Integer | constraints.Float] struct {
	Low  T
	High T
}

func (r Range[T]) Valid() bool {
	return r.Low <= r.High
}

func (r Range[T]) Contains(v T) bool {
	return v >= r.Low && v <= r.High
}

func (r Range[T]) Clamp(v T) T {
	return clamp(v, r.Low, r.High)
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParamDistribution is the study-side description of one suggested parameter.
// Choices is only set for ParamCategorical.
type ParamDistribution struct {
	Kind    ParamKind
	Low     float64
	High    float64
	Choices []any
}

func (d ParamDistribution) validate() error {
	switch d.Kind {
	case ParamFloat, ParamInt:
	case ParamLogFloat:
		if d.Low <= 0 {
			return fmt.Errorf("log_float low must be > 0 (got %g)", d.Low)
		}
	case ParamCategorical:
		if len(d.Choices) == 0 {
			return errors.New("categorical choices must be non-empty")
		}
		return nil
	default:
		return fmt.Errorf("unsupported param kind %q", d.Kind)
	}
	if !(Range[float64]{Low: d.Low, High: d.High}).Valid() || math.IsNaN(d.Low) || math.IsNaN(d.High) {
		return fmt.Errorf("%s low %g > high %g", d.Kind, d.Low, d.High)
	}
	return nil
}

func (d ParamDistribution) equal(other ParamDistribution) bool {
	if d.Kind != other.Kind || d.Low != other.Low || d.High != other.High {
		return false
	}
	return reflect.DeepEqual(d.Choices, other.Choices)
}

// Internal values are float64 for every kind: the value itself for numeric
// kinds and the choice index for categorical. The unit encoding maps the
// internal value onto [0, 1] for the surrogate model.

func (d ParamDistribution) toUnit(internal float64) float64 {
	switch d.Kind {
	case ParamFloat:
		if d.High == d.Low {
			return 0.5
		}
		return (internal - d.Low) / (d.High - d.Low)
	case ParamLogFloat:
		lo, hi := math.Log(d.Low), math.Log(d.High)
		if hi == lo {
			return 0.5
		}
		return (math.Log(internal) - lo) / (hi - lo)
	case ParamInt:
		n := d.High - d.Low + 1
		return (internal - d.Low + 0.5) / n
	case ParamCategorical:
		n := float64(len(d.Choices))
		return (internal + 0.5) / n
	default:
		return 0
	}
}

func (d ParamDistribution) fromUnit(u float64) float64 {
	u = clamp(u, 0, 1)
	switch d.Kind {
	case ParamFloat:
		return clamp(d.Low+u*(d.High-d.Low), d.Low, d.High)
	case ParamLogFloat:
		lo, hi := math.Log(d.Low), math.Log(d.High)
		return clamp(math.Exp(lo+u*(hi-lo)), d.Low, d.High)
	case ParamInt:
		n := d.High - d.Low + 1
		return clamp(d.Low+math.Floor(u*n), d.Low, d.High)
	case ParamCategorical:
		n := float64(len(d.Choices))
		return clamp(math.Floor(u*n), 0, n-1)
	default:
		return 0
	}
}

// external converts an internal value into the value handed to callers.
func (d ParamDistribution) external(internal float64) any {
	switch d.Kind {
	case ParamInt:
		return int64(internal)
	case ParamCategorical:
		return d.Choices[int(internal)]
	default:
		return internal
	}
}
