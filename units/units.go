// Package units implements the dimensional-analysis type used throughout
// the simulation core. A Units value is a pair of multisets of atomic unit
// names — a numerator and a denominator — supporting multiply, divide,
// invert, integer exponentiation, and simplification.
//
// Units values are immutable. All operations return a new value; none
// mutate the receiver. This makes Units safe to share across goroutines
// without copying, the same way the teacher treats geometry as read-only
// once built.
package units

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Count is the distinguished empty-unit sentinel used for exponents,
// indices, and other dimensionless quantities.
const Count = ""

// Sentinel errors for unit operations.
var (
	// ErrParse indicates a units string did not match the grammar
	// `num [" / " den]` with `num`/`den` as `" * "`-separated atoms.
	ErrParse = errors.New("units: parse error")

	// ErrBadUnitOperation indicates an operation that units define only
	// for integer exponents was given a non-integer one.
	ErrBadUnitOperation = errors.New("units: bad unit operation")
)

// Units is an immutable dimensional-analysis value: a numerator multiset
// and a denominator multiset of atomic unit names.
type Units struct {
	numerator   []string
	denominator []string
}

// New builds a Units value directly from numerator and denominator atoms.
// The result is not simplified; call Simplify to cancel matching atoms.
func New(numerator, denominator []string) Units {
	return Units{
		numerator:   append([]string(nil), numerator...),
		denominator: append([]string(nil), denominator...),
	}
}

// CountUnits returns the dimensionless sentinel unit.
func CountUnits() Units {
	return Units{}
}

// IsCount reports whether u is the dimensionless sentinel, post-simplify.
func (u Units) IsCount() bool {
	s := u.Simplify()
	return len(s.numerator) == 0 && len(s.denominator) == 0
}

// Parse parses a units string of the form "num" or "num / den", where num
// and den are "*"-separated atomic unit names (e.g. "kg * m / s * s").
// A units string containing more than one "/" is a parse error.
func Parse(s string) (Units, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CountUnits(), nil
	}
	parts := strings.Split(s, "/")
	if len(parts) > 2 {
		return Units{}, errors.Wrapf(ErrParse, "more than one '/' in %q", s)
	}
	num := splitAtoms(parts[0])
	if len(num) == 1 && num[0] == "1" {
		// String writes an empty numerator as "1" (e.g. "1 / s").
		num = nil
	}
	var den []string
	if len(parts) == 2 {
		den = splitAtoms(parts[1])
	}
	return Units{numerator: num, denominator: den}, nil
}

func splitAtoms(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	raw := strings.Split(s, "*")
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Simplify cancels matching atoms between the numerator and denominator and
// returns the canonical (sorted) form.
func (u Units) Simplify() Units {
	numCounts := tally(u.numerator)
	denCounts := tally(u.denominator)

	for atom, n := range numCounts {
		if d, ok := denCounts[atom]; ok {
			cancel := minInt(n, d)
			numCounts[atom] -= cancel
			denCounts[atom] -= cancel
		}
	}
	return Units{
		numerator:   untally(numCounts),
		denominator: untally(denCounts),
	}
}

func tally(atoms []string) map[string]int {
	m := make(map[string]int, len(atoms))
	for _, a := range atoms {
		m[a]++
	}
	return m
}

func untally(counts map[string]int) []string {
	var out []string
	for atom, n := range counts {
		for i := 0; i < n; i++ {
			out = append(out, atom)
		}
	}
	sort.Strings(out)
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Invert swaps numerator and denominator.
func (u Units) Invert() Units {
	return Units{numerator: u.denominator, denominator: u.numerator}
}

// Multiply combines u and o, unioning numerators and denominators
// (multiset sum, i.e. N1⊎N2, D1⊎D2).
func (u Units) Multiply(o Units) Units {
	return Units{
		numerator:   append(append([]string(nil), u.numerator...), o.numerator...),
		denominator: append(append([]string(nil), u.denominator...), o.denominator...),
	}
}

// Divide divides u by o, equivalent to u.Multiply(o.Invert()).
func (u Units) Divide(o Units) Units {
	return u.Multiply(o.Invert())
}

// Pow raises u to the integer power k, scaling each atom's multiplicity by
// k. A negative k swaps the roles of numerator and denominator for the
// scaled atoms (equivalent to inverting when k < 0).
func (u Units) Pow(k int) (Units, error) {
	if k == 0 {
		return CountUnits(), nil
	}
	base := u
	exp := k
	if exp < 0 {
		base = base.Invert()
		exp = -exp
	}
	result := CountUnits()
	for i := 0; i < exp; i++ {
		result = result.Multiply(base)
	}
	return result, nil
}

// Equal reports whether u and o denote the same dimension, i.e. whether
// their simplified canonical forms match.
func (u Units) Equal(o Units) bool {
	a := u.Simplify()
	b := o.Simplify()
	return strings.Join(a.numerator, "\x00") == strings.Join(b.numerator, "\x00") &&
		strings.Join(a.denominator, "\x00") == strings.Join(b.denominator, "\x00")
}

// String returns the canonical string form: simplified, sorted atoms,
// joined with " * " and separated by " / " when a denominator is present.
// Units.Parse(Units.String(u)) == u.Simplify() for any u (the unit
// roundtrip property).
func (u Units) String() string {
	s := u.Simplify()
	if len(s.numerator) == 0 && len(s.denominator) == 0 {
		return ""
	}
	num := strings.Join(s.numerator, " * ")
	if num == "" {
		num = "1"
	}
	if len(s.denominator) == 0 {
		return num
	}
	return num + " / " + strings.Join(s.denominator, " * ")
}

// CacheKey returns a stable string suitable for keying a converter's
// (src-units, dst-units) hot-path cache (§4.2/§9: memoize on simplified
// canonical unit strings).
func (u Units) CacheKey() string {
	return u.String()
}
