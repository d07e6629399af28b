package engineval

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchmidtDSE/josh-sub003/units"
)

// fakeConverter implements Converter with a single hard-coded rule, enough
// to exercise Add/Sub's unit-mismatch resolution path without importing
// package convert (which would create an import cycle from this test).
type fakeConverter struct {
	src, dst units.Units
	factor   decimal.Decimal
}

func (f fakeConverter) Lookup(src, dst units.Units) (ConversionFunc, error) {
	if src.Equal(f.src) && dst.Equal(f.dst) {
		return func(v EngineValue) (EngineValue, error) {
			d, err := asDecimal(v)
			if err != nil {
				return nil, err
			}
			return DecimalScalar{Value: d.Mul(f.factor), U: dst}, nil
		}, nil
	}
	return nil, assertNoConversion
}

var assertNoConversion = &noConversionErr{}

type noConversionErr struct{}

func (e *noConversionErr) Error() string { return "no conversion" }

func meters() units.Units     { u, _ := units.Parse("m"); return u }
func centimeters() units.Units { u, _ := units.Parse("cm"); return u }

func TestAddSameUnits(t *testing.T) {
	a := IntScalar{Value: 1, U: meters()}
	b := IntScalar{Value: 2, U: meters()}
	sum, err := Add(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.(IntScalar).Value)
}

func TestAddMismatchedUnitsNoConverter(t *testing.T) {
	a := IntScalar{Value: 1, U: meters()}
	b := IntScalar{Value: 1, U: centimeters()}
	_, err := Add(a, b, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnitMismatch)
}

func TestAddWithConverter(t *testing.T) {
	conv := fakeConverter{src: centimeters(), dst: meters(), factor: decimal.NewFromFloat(0.01)}
	a := DecimalScalar{Value: decimal.NewFromInt(1), U: meters()}
	b := DecimalScalar{Value: decimal.NewFromInt(50), U: centimeters()}
	sum, err := Add(a, b, conv)
	require.NoError(t, err)
	got := sum.(DecimalScalar).Value
	assert.True(t, got.Equal(decimal.NewFromFloat(1.5)), "got %s", got)
}

func TestAddIntOperandsWithConverterWidensToDecimal(t *testing.T) {
	conv := fakeConverter{src: centimeters(), dst: meters(), factor: decimal.NewFromFloat(0.01)}
	a := IntScalar{Value: 1, U: meters()}
	b := IntScalar{Value: 50, U: centimeters()}
	sum, err := Add(a, b, conv)
	require.NoError(t, err)
	got := sum.(DecimalScalar).Value
	assert.True(t, got.Equal(decimal.NewFromFloat(1.5)), "got %s", got)
}

func TestSubIntOperandsWithConverterWidensToDecimal(t *testing.T) {
	conv := fakeConverter{src: centimeters(), dst: meters(), factor: decimal.NewFromFloat(0.01)}
	a := IntScalar{Value: 2, U: meters()}
	b := IntScalar{Value: 50, U: centimeters()}
	diff, err := Sub(a, b, conv)
	require.NoError(t, err)
	got := diff.(DecimalScalar).Value
	assert.True(t, got.Equal(decimal.NewFromFloat(1.5)), "got %s", got)
}

func TestAddStringConcatenation(t *testing.T) {
	a := StringScalar{Value: "foo"}
	b := StringScalar{Value: "bar"}
	sum, err := Add(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, "foobar", sum.(StringScalar).Value)
}

func TestAddWidensIntToString(t *testing.T) {
	a := StringScalar{Value: "count="}
	b := IntScalar{Value: 3, U: units.CountUnits()}
	sum, err := Add(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, "count=3", sum.(StringScalar).Value)
}

func TestSubRejectsStrings(t *testing.T) {
	a := StringScalar{Value: "foo"}
	b := StringScalar{Value: "bar"}
	_, err := Sub(a, b, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOp)
}

func TestMulComposesUnits(t *testing.T) {
	a := IntScalar{Value: 2, U: meters()}
	b := IntScalar{Value: 3, U: meters()}
	prod, err := Mul(a, b)
	require.NoError(t, err)
	assert.Equal(t, int64(6), prod.(IntScalar).Value)
	assert.Equal(t, "m * m", prod.Units().String())
}

func TestDivComposesUnits(t *testing.T) {
	a := IntScalar{Value: 10, U: meters()}
	b := IntScalar{Value: 2, U: units.CountUnits()}
	b.U, _ = units.Parse("s")
	quot, err := Div(a, b)
	require.NoError(t, err)
	assert.Equal(t, int64(5), quot.(IntScalar).Value)
	assert.Equal(t, "m / s", quot.Units().String())
}

func TestPowZeroIsUnitless(t *testing.T) {
	a := IntScalar{Value: 5, U: meters()}
	zero := IntScalar{Value: 0, U: units.CountUnits()}
	result, err := Pow(a, zero)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.(IntScalar).Value)
	assert.True(t, result.Units().IsCount())
}

func TestPowRejectsDimensionedExponent(t *testing.T) {
	a := IntScalar{Value: 2, U: units.CountUnits()}
	exp := IntScalar{Value: 2, U: meters()}
	_, err := Pow(a, exp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadUnitOperation)
}

func TestDimensionalAnalysisClosure(t *testing.T) {
	a := DecimalScalar{Value: decimal.NewFromInt(3), U: meters()}
	b := DecimalScalar{Value: decimal.NewFromInt(7), U: meters()}
	sum, err := Add(a, b, nil)
	require.NoError(t, err)
	back, err := Sub(sum, a, nil)
	require.NoError(t, err)
	assert.True(t, back.(DecimalScalar).Value.Equal(b.Value))
}
