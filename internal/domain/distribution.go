package domain

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// DistributionKind tags the sampling space of a hyperparameter.
type DistributionKind string

const (
	KindUniform     DistributionKind = "uniform"
	KindLogUniform  DistributionKind = "log_uniform"
	KindIntUniform  DistributionKind = "int_uniform"
	KindCategorical DistributionKind = "categorical"
)

var ErrInvalidDistribution = errors.New("invalid distribution")

// MaxIntBound caps int_uniform bounds at the largest magnitude float64 holds
// exactly, which also keeps High-Low+1 inside int64.
const MaxIntBound = 1 << 53

func (k DistributionKind) Valid() bool {
	switch k {
	case KindUniform, KindLogUniform, KindIntUniform, KindCategorical:
		return true
	default:
		return false
	}
}

// Distribution describes the domain of one hyperparameter. Low and High are
// inclusive bounds for the numeric kinds; Choices is used by categorical only.
// Values are immutable once declared: constructors copy the choices slice and
// accessors hand out copies.
type Distribution struct {
	Kind    DistributionKind
	Low     float64
	High    float64
	choices []any
}

func Uniform(low, high float64) Distribution {
	return Distribution{Kind: KindUniform, Low: low, High: high}
}

func LogUniform(low, high float64) Distribution {
	return Distribution{Kind: KindLogUniform, Low: low, High: high}
}

func IntUniform(low, high int64) Distribution {
	return Distribution{Kind: KindIntUniform, Low: float64(low), High: float64(high)}
}

func Categorical(choices ...any) Distribution {
	c := make([]any, len(choices))
	copy(c, choices)
	return Distribution{Kind: KindCategorical, choices: c}
}

// Choices returns a copy of the categorical choices.
func (d Distribution) Choices() []any {
	out := make([]any, len(d.choices))
	copy(out, d.choices)
	return out
}

func (d Distribution) Validate() error {
	switch d.Kind {
	case KindUniform, KindLogUniform, KindIntUniform:
		if math.IsNaN(d.Low) || math.IsNaN(d.High) || math.IsInf(d.Low, 0) || math.IsInf(d.High, 0) {
			return fmt.Errorf("%w: %s bounds must be finite", ErrInvalidDistribution, d.Kind)
		}
		if d.Low > d.High {
			return fmt.Errorf("%w: %s low %g > high %g", ErrInvalidDistribution, d.Kind, d.Low, d.High)
		}
		if d.Kind == KindLogUniform && d.Low <= 0 {
			return fmt.Errorf("%w: log_uniform low must be > 0 (got %g)", ErrInvalidDistribution, d.Low)
		}
		if d.Kind == KindIntUniform {
			if d.Low != math.Trunc(d.Low) || d.High != math.Trunc(d.High) {
				return fmt.Errorf("%w: int_uniform bounds must be integers", ErrInvalidDistribution)
			}
			if math.Abs(d.Low) > MaxIntBound || math.Abs(d.High) > MaxIntBound {
				return fmt.Errorf("%w: int_uniform bounds must lie within ±2^53", ErrInvalidDistribution)
			}
		}
		return nil
	case KindCategorical:
		if len(d.choices) == 0 {
			return fmt.Errorf("%w: categorical choices must be non-empty", ErrInvalidDistribution)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidDistribution, d.Kind)
	}
}

// Sample draws one value from the domain. Uniform and LogUniform yield float64,
// IntUniform yields int64 and Categorical yields one of its choices.
func (d Distribution) Sample(rng *rand.Rand) any {
	switch d.Kind {
	case KindUniform:
		return clampFloat(d.Low+rng.Float64()*(d.High-d.Low), d.Low, d.High)
	case KindLogUniform:
		lo, hi := math.Log(d.Low), math.Log(d.High)
		return clampFloat(math.Exp(lo+rng.Float64()*(hi-lo)), d.Low, d.High)
	case KindIntUniform:
		lo, hi := int64(d.Low), int64(d.High)
		return lo + rng.Int63n(hi-lo+1)
	case KindCategorical:
		return d.choices[rng.Intn(len(d.choices))]
	default:
		return nil
	}
}

// Midpoint returns the centre of the domain: the arithmetic centre for
// uniform, the geometric centre for log_uniform, the floored centre for
// int_uniform and the middle choice for categorical.
func (d Distribution) Midpoint() any {
	switch d.Kind {
	case KindUniform:
		return d.Low + (d.High-d.Low)/2
	case KindLogUniform:
		return clampFloat(math.Sqrt(d.Low*d.High), d.Low, d.High)
	case KindIntUniform:
		lo, hi := int64(d.Low), int64(d.High)
		return lo + (hi-lo)/2
	case KindCategorical:
		if len(d.choices) == 0 {
			return nil
		}
		return d.choices[(len(d.choices)-1)/2]
	default:
		return nil
	}
}

// Contains reports whether value lies in the declared domain.
func (d Distribution) Contains(value any) bool {
	switch d.Kind {
	case KindUniform, KindLogUniform:
		f, ok := AsFloat(value)
		return ok && f >= d.Low && f <= d.High
	case KindIntUniform:
		f, ok := AsFloat(value)
		return ok && f == math.Trunc(f) && f >= d.Low && f <= d.High
	case KindCategorical:
		return d.IndexOf(value) >= 0
	default:
		return false
	}
}

// IndexOf returns the position of value among the categorical choices, or -1.
func (d Distribution) IndexOf(value any) int {
	for i, choice := range d.choices {
		if sameValue(choice, value) {
			return i
		}
	}
	return -1
}

// String renders the distribution in expression form, e.g. log_uniform(0.001, 0.1).
func (d Distribution) String() string {
	switch d.Kind {
	case KindIntUniform:
		return fmt.Sprintf("%s(%d, %d)", d.Kind, int64(d.Low), int64(d.High))
	case KindCategorical:
		parts := make([]string, 0, len(d.choices))
		for _, c := range d.choices {
			parts = append(parts, formatChoice(c))
		}
		return fmt.Sprintf("%s([%s])", d.Kind, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("%s(%s, %s)", d.Kind, formatFloat(d.Low), formatFloat(d.High))
	}
}

// AsFloat converts the numeric value kinds produced by decoders and samplers.
func AsFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func sameValue(a, b any) bool {
	af, aNum := AsFloat(a)
	bf, bNum := AsFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatChoice(c any) string {
	switch v := c.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		return formatFloat(v)
	default:
		return fmt.Sprint(v)
	}
}
