package distribution

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/units"
)

// Realized is a finite, ordered, indexable distribution of values, all
// sharing a units.Units (spec.md §3 "Distribution value").
type Realized struct {
	values []engineval.EngineValue
	u      units.Units

	statsOnce sync.Once
	statsErr  error
	mean      engineval.EngineValue
	std       engineval.EngineValue
	min       engineval.EngineValue
	max       engineval.EngineValue
	sum       engineval.EngineValue
}

// NewRealized builds a Realized distribution over values, all assumed to
// share u.
func NewRealized(values []engineval.EngineValue, u units.Units) *Realized {
	return &Realized{values: append([]engineval.EngineValue(nil), values...), u: u}
}

func (r *Realized) Tag() engineval.Tag    { return engineval.TagDistribution }
func (r *Realized) Units() units.Units    { return r.u }
func (r *Realized) String() string        { return fmt.Sprintf("realized[%d] %s", len(r.values), r.u) }
func (r *Realized) Len() int              { return len(r.values) }
func (r *Realized) At(i int) engineval.EngineValue { return r.values[i] }

// SampleOnce implements engineval.Distribution using a package-seeded
// fallback RNG. Callers inside the simulation core should prefer Sample
// with an explicit per-patch sub-stream (spec.md §4.4/§9); SampleOnce
// exists only so a DistributionValue can satisfy engineval.EngineValue's
// AsScalar coercion without threading an RNG through that call site.
func (r *Realized) SampleOnce() (engineval.EngineValue, error) {
	return r.Sample(rand.New(rand.NewSource(1)))
}

// Sample draws uniformly over indices, with frequency proportional to
// occurrence count (spec.md §4.4) — i.e. a plain uniform index draw, since
// repeated values already appear multiple times in values.
func (r *Realized) Sample(rng *rand.Rand) (engineval.EngineValue, error) {
	if len(r.values) == 0 {
		return nil, ErrEmpty
	}
	return r.values[rng.Intn(len(r.values))], nil
}

// GetContents returns k draws. withReplacement=true draws independently
// each time; withReplacement=false requires k <= size and returns a
// shuffled prefix of the values (spec.md §4.4).
func (r *Realized) GetContents(rng *rand.Rand, k int, withReplacement bool) ([]engineval.EngineValue, error) {
	if withReplacement {
		out := make([]engineval.EngineValue, k)
		for i := range out {
			v, err := r.Sample(rng)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	if k > len(r.values) {
		return nil, ErrWithoutReplace
	}
	shuffled := append([]engineval.EngineValue(nil), r.values...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:k], nil
}

func (r *Realized) computeStats() {
	r.statsOnce.Do(func() {
		if len(r.values) == 0 {
			r.statsErr = ErrEmpty
			return
		}
		floatsOut := make([]float64, len(r.values))
		for i, v := range r.values {
			f, err := toFloat(v)
			if err != nil {
				r.statsErr = err
				return
			}
			floatsOut[i] = f
		}
		sum := floats.Sum(floatsOut)
		minV := floats.Min(floatsOut)
		maxV := floats.Max(floatsOut)
		mean, std := stat.MeanStdDev(floatsOut, nil)

		r.sum = engineval.DecimalScalar{Value: decimalFromFloat(sum), U: r.u}
		r.mean = engineval.DecimalScalar{Value: decimalFromFloat(mean), U: r.u}
		r.std = engineval.DecimalScalar{Value: decimalFromFloat(std), U: r.u}
		r.min = engineval.DecimalScalar{Value: decimalFromFloat(minV), U: r.u}
		r.max = engineval.DecimalScalar{Value: decimalFromFloat(maxV), U: r.u}
	})
}

func (r *Realized) Mean() (engineval.EngineValue, error) { r.computeStats(); return r.mean, r.statsErr }
func (r *Realized) Std() (engineval.EngineValue, error)  { r.computeStats(); return r.std, r.statsErr }
func (r *Realized) Min() (engineval.EngineValue, error)  { r.computeStats(); return r.min, r.statsErr }
func (r *Realized) Max() (engineval.EngineValue, error)  { r.computeStats(); return r.max, r.statsErr }
func (r *Realized) Sum() (engineval.EngineValue, error)  { r.computeStats(); return r.sum, r.statsErr }

// Add broadcasts o against r: a scalar broadcasts element-wise, an equally
// sized Realized zips pairwise. Spec.md §9's Open Question is resolved in
// favor of pairwise zipping; mismatched sizes are an error.
func (r *Realized) Add(o engineval.EngineValue, conv engineval.Converter) (*Realized, error) {
	return r.elementwise(o, conv, engineval.Add)
}

func (r *Realized) Sub(o engineval.EngineValue, conv engineval.Converter) (*Realized, error) {
	return r.elementwise(o, conv, engineval.Sub)
}

func (r *Realized) Mul(o engineval.EngineValue) (*Realized, error) {
	return r.elementwise(o, nil, func(a, b engineval.EngineValue, _ engineval.Converter) (engineval.EngineValue, error) {
		return engineval.Mul(a, b)
	})
}

func (r *Realized) Div(o engineval.EngineValue) (*Realized, error) {
	return r.elementwise(o, nil, func(a, b engineval.EngineValue, _ engineval.Converter) (engineval.EngineValue, error) {
		return engineval.Div(a, b)
	})
}

func (r *Realized) elementwise(o engineval.EngineValue, conv engineval.Converter, op func(a, b engineval.EngineValue, conv engineval.Converter) (engineval.EngineValue, error)) (*Realized, error) {
	if otherDist, ok := o.(*Realized); ok {
		if otherDist.Len() != r.Len() {
			return nil, ErrSizeMismatch
		}
		out := make([]engineval.EngineValue, r.Len())
		var resultUnits units.Units
		for i := range r.values {
			v, err := op(r.values[i], otherDist.values[i], conv)
			if err != nil {
				return nil, err
			}
			out[i] = v
			resultUnits = v.Units()
		}
		return NewRealized(out, resultUnits), nil
	}
	out := make([]engineval.EngineValue, r.Len())
	var resultUnits units.Units
	for i, v := range r.values {
		result, err := op(v, o, conv)
		if err != nil {
			return nil, err
		}
		out[i] = result
		resultUnits = result.Units()
	}
	return NewRealized(out, resultUnits), nil
}
