// Package engineval implements the tagged EngineValue type: the
// simulation's dimensionally-typed runtime value. A value is a scalar
// (int, decimal, bool, string), an entity reference, or a distribution,
// always paired with a units.Units. Arithmetic is dispatched on the
// operand-tag pair through a widening caster, the way the source's deep
// EngineValue class hierarchy is collapsed into one tagged variant per
// spec.md §9.
package engineval

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/SchmidtDSE/josh-sub003/units"
)

// Tag identifies which variant an EngineValue holds.
type Tag int

const (
	TagInt Tag = iota
	TagDecimal
	TagBool
	TagString
	TagEntityRef
	TagDistribution
)

func (t Tag) String() string {
	switch t {
	case TagInt:
		return "int"
	case TagDecimal:
		return "decimal"
	case TagBool:
		return "bool"
	case TagString:
		return "string"
	case TagEntityRef:
		return "entityRef"
	case TagDistribution:
		return "distribution"
	default:
		return "unknown"
	}
}

// rank orders the numeric widening chain bool -> int -> decimal -> string.
// Only used among tags that participate in the widening caster.
var rank = map[Tag]int{
	TagBool:    0,
	TagInt:     1,
	TagDecimal: 2,
	TagString:  3,
}

// Sentinel errors for value operations (spec.md §7).
var (
	ErrUnitMismatch     = errors.New("engineval: unit mismatch")
	ErrUnsupportedOp    = errors.New("engineval: unsupported operation")
	ErrBadUnitOperation = errors.New("engineval: bad unit operation")
)

// EngineValue is the common interface implemented by every value variant.
type EngineValue interface {
	Tag() Tag
	Units() units.Units
	String() string
}

// EntityHandle is the narrow contract an EntityReferenceValue wraps. It is
// defined here (rather than importing package entity) to keep the
// dependency arrow C2 -> C5 one-directional.
type EntityHandle interface {
	Identifier() string
}

// Distribution is the narrow contract a DistributionValue wraps. The
// concrete Realized/Virtual implementations live in package distribution,
// which imports engineval — not the other way around — preserving the
// spec.md §2 dependency flow C2 -> C4.
type Distribution interface {
	EngineValue
	SampleOnce() (EngineValue, error)
}

// ConversionFunc converts one EngineValue into an equivalent value in
// different units.
type ConversionFunc func(EngineValue) (EngineValue, error)

// Converter is the narrow contract Value arithmetic uses to resolve unit
// mismatches on add/sub. The concrete graph-based implementation lives in
// package convert, which imports engineval — not the other way around —
// preserving the spec.md §2 dependency flow C2 -> C3.
type Converter interface {
	Lookup(src, dst units.Units) (ConversionFunc, error)
}

// IntScalar is a 64-bit integer scalar.
type IntScalar struct {
	Value int64
	U     units.Units
}

func (s IntScalar) Tag() Tag          { return TagInt }
func (s IntScalar) Units() units.Units { return s.U }
func (s IntScalar) String() string    { return fmt.Sprintf("%d %s", s.Value, s.U.String()) }

// DecimalScalar is an arbitrary-precision decimal scalar.
type DecimalScalar struct {
	Value decimal.Decimal
	U     units.Units
}

func (s DecimalScalar) Tag() Tag          { return TagDecimal }
func (s DecimalScalar) Units() units.Units { return s.U }
func (s DecimalScalar) String() string    { return fmt.Sprintf("%s %s", s.Value.String(), s.U.String()) }

// BoolScalar is a boolean scalar. Numeric casts treat it as 0/1.
type BoolScalar struct {
	Value bool
}

func (s BoolScalar) Tag() Tag          { return TagBool }
func (s BoolScalar) Units() units.Units { return units.CountUnits() }
func (s BoolScalar) String() string    { return fmt.Sprintf("%t", s.Value) }

// StringScalar is a string scalar. Strings always carry count units.
type StringScalar struct {
	Value string
}

func (s StringScalar) Tag() Tag          { return TagString }
func (s StringScalar) Units() units.Units { return units.CountUnits() }
func (s StringScalar) String() string    { return s.Value }

// EntityReferenceValue is a handle to a mutable or frozen entity. It never
// participates in arithmetic.
type EntityReferenceValue struct {
	Ref EntityHandle
}

func (e EntityReferenceValue) Tag() Tag          { return TagEntityRef }
func (e EntityReferenceValue) Units() units.Units { return units.CountUnits() }
func (e EntityReferenceValue) String() string {
	if e.Ref == nil {
		return "<nil entity>"
	}
	return fmt.Sprintf("<entity %s>", e.Ref.Identifier())
}

// DistributionValue wraps a realized or virtual distribution.
type DistributionValue struct {
	Dist Distribution
}

func (d DistributionValue) Tag() Tag          { return TagDistribution }
func (d DistributionValue) Units() units.Units { return d.Dist.Units() }
func (d DistributionValue) String() string    { return d.Dist.String() }

// AsScalar samples a distribution once, returning the drawn scalar. It is
// an explicit, caller-invoked coercion — it never happens implicitly
// during arithmetic (spec.md §4.2).
func AsScalar(v EngineValue) (EngineValue, error) {
	if v.Tag() != TagDistribution {
		return v, nil
	}
	dv := v.(DistributionValue)
	return dv.Dist.SampleOnce()
}

// AsDistribution wraps a scalar in a realized distribution of size one. It
// is an explicit, caller-invoked coercion (spec.md §4.2). Callers needing
// an idiomatic Realized wrapper should use distribution.NewRealized
// directly; this helper exists for scalar call sites that only need the
// EngineValue-level contract.
func AsDistribution(v EngineValue, wrap func([]EngineValue, units.Units) Distribution) EngineValue {
	if v.Tag() == TagDistribution {
		return v
	}
	return DistributionValue{Dist: wrap([]EngineValue{v}, v.Units())}
}
