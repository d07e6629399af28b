// Package distribution implements the Realized and Virtual distribution
// values of spec.md §4.4: finite, indexable sequences and parametric
// (uniform/normal) shapes, each sampleable against a caller-supplied PRNG
// sub-stream (spec.md §4.4/§9 — never a package-global RNG).
package distribution

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/engineval"
)

// Sentinel errors.
var (
	ErrSizeMismatch         = errors.New("distribution: size mismatch")
	ErrEmpty                = errors.New("distribution: empty realized distribution")
	ErrWithoutReplace       = errors.New("distribution: k exceeds size for sampling without replacement")
	ErrUnsupportedOnVirtual = errors.New("distribution: operation not supported on a virtual distribution")
)

// Distribution is the operation set spec.md §4.4 requires of both
// realized and virtual shapes.
type Distribution interface {
	engineval.EngineValue
	engineval.Distribution

	// Sample draws one value using rng.
	Sample(rng *rand.Rand) (engineval.EngineValue, error)

	// GetContents draws k values using rng. withReplacement=false requires
	// k <= size (Realized only; Virtual always samples with replacement).
	GetContents(rng *rand.Rand, k int, withReplacement bool) ([]engineval.EngineValue, error)

	Mean() (engineval.EngineValue, error)
	Std() (engineval.EngineValue, error)
	Min() (engineval.EngineValue, error)
	Max() (engineval.EngineValue, error)
	Sum() (engineval.EngineValue, error)
}

// SubStream derives a per-patch PRNG sub-stream deterministically from the
// replicate-level seed and a stable key (spec.md §4.4/§9). Documented
// derivation: FNV-1a hash of "seed:key" seeds a math/rand source. This
// makes parallel patch execution reproducible regardless of scheduling
// order (spec.md §5 deterministic-parallelism rule), since every patch
// draws from its own stream rather than contending for a shared one.
func SubStream(seed int64, key string) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s", seed, key)
	return rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec // deterministic, not cryptographic
}

func toFloat(v engineval.EngineValue) (float64, error) {
	switch v.Tag() {
	case engineval.TagInt:
		return float64(v.(engineval.IntScalar).Value), nil
	case engineval.TagDecimal:
		f, _ := v.(engineval.DecimalScalar).Value.Float64()
		return f, nil
	default:
		return 0, errors.Errorf("distribution: cannot treat %s as numeric", v.Tag())
	}
}
