package distribution

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/units"
)

// Virtual is a parametric distribution shape (spec.md §4.4): it never
// materializes a backing slice, sampling instead through a distuv.Rand on
// every draw.
type Virtual struct {
	name string
	u    units.Units
	dist distuv.Rander

	mean, std engineval.EngineValue
	hasMinMax bool
	min, max  engineval.EngineValue
}

// Uniform builds a Virtual distribution over [low, high], inclusive, in u.
func Uniform(low, high float64, u units.Units) *Virtual {
	return &Virtual{
		name:      "uniform",
		u:         u,
		dist:      distuv.Uniform{Min: low, Max: high},
		mean:      engineval.DecimalScalar{Value: decimalFromFloat((low + high) / 2), U: u},
		std:       engineval.DecimalScalar{Value: decimalFromFloat((high - low) / hypotheticalUniformStdDivisor), U: u},
		hasMinMax: true,
		min:       engineval.DecimalScalar{Value: decimalFromFloat(low), U: u},
		max:       engineval.DecimalScalar{Value: decimalFromFloat(high), U: u},
	}
}

// hypotheticalUniformStdDivisor is sqrt(12): a continuous uniform
// distribution on [low, high] has standard deviation (high-low)/sqrt(12).
const hypotheticalUniformStdDivisor = 3.4641016151377544

// Normal builds a Virtual distribution with the given mean and standard
// deviation in u. Min/Max are unsupported (spec.md §4.4: a normal
// distribution has no finite bound).
func Normal(mean, std float64, u units.Units) *Virtual {
	return &Virtual{
		name: "normal",
		u:    u,
		dist: distuv.Normal{Mu: mean, Sigma: std},
		mean: engineval.DecimalScalar{Value: decimalFromFloat(mean), U: u},
		std:  engineval.DecimalScalar{Value: decimalFromFloat(std), U: u},
	}
}

func (v *Virtual) Tag() engineval.Tag { return engineval.TagDistribution }
func (v *Virtual) Units() units.Units { return v.u }
func (v *Virtual) String() string     { return fmt.Sprintf("virtual(%s) %s", v.name, v.u) }

// SampleOnce implements engineval.Distribution via a fixed-seed fallback
// RNG, matching Realized.SampleOnce's rationale: real call sites should use
// Sample with an explicit per-patch sub-stream.
func (v *Virtual) SampleOnce() (engineval.EngineValue, error) {
	return v.Sample(rand.New(rand.NewSource(1)))
}

// Sample draws one value from the parametric shape using rng. distuv
// distributions read randomness from their embedded Src field, so rng is
// wired in per call rather than fixed at construction, keeping Virtual
// itself stateless with respect to any particular stream.
func (v *Virtual) Sample(rng *rand.Rand) (engineval.EngineValue, error) {
	sampled := withSource(v.dist, rng).Rand()
	return engineval.DecimalScalar{Value: decimalFromFloat(sampled), U: v.u}, nil
}

// GetContents draws k independent values. Virtual always samples with
// replacement regardless of withReplacement (spec.md §4.4: a parametric
// shape has no finite population to exhaust).
func (v *Virtual) GetContents(rng *rand.Rand, k int, withReplacement bool) ([]engineval.EngineValue, error) {
	out := make([]engineval.EngineValue, k)
	for i := range out {
		s, err := v.Sample(rng)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (v *Virtual) Mean() (engineval.EngineValue, error) { return v.mean, nil }
func (v *Virtual) Std() (engineval.EngineValue, error)  { return v.std, nil }
func (v *Virtual) Sum() (engineval.EngineValue, error)  { return nil, ErrUnsupportedOnVirtual }

func (v *Virtual) Min() (engineval.EngineValue, error) {
	if !v.hasMinMax {
		return nil, ErrUnsupportedOnVirtual
	}
	return v.min, nil
}

func (v *Virtual) Max() (engineval.EngineValue, error) {
	if !v.hasMinMax {
		return nil, ErrUnsupportedOnVirtual
	}
	return v.max, nil
}

// withSource returns a distuv.Rander reading from rng, rebuilding the
// concrete distuv type with its Src field set since distuv values carry
// their source by value rather than accepting one per draw.
func withSource(d distuv.Rander, rng *rand.Rand) distuv.Rander {
	switch t := d.(type) {
	case distuv.Uniform:
		t.Src = rng
		return t
	case distuv.Normal:
		t.Src = rng
		return t
	default:
		return d
	}
}
