package engineval

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// commonNumericTag resolves the tag both operands should be widened to
// before a numeric operation, per the bool -> int -> decimal widening
// order. allowString additionally permits widening up to TagString, which
// only Add uses.
func commonNumericTag(a, b Tag, allowString bool) (Tag, error) {
	ra, aok := rank[a]
	rb, bok := rank[b]
	if !aok || !bok {
		return 0, ErrUnsupportedOp
	}
	target := a
	if rb > ra {
		target = b
	}
	if target == TagString && !allowString {
		return 0, ErrUnsupportedOp
	}
	return target, nil
}

func widenPair(a, b EngineValue, allowString bool) (EngineValue, EngineValue, error) {
	target, err := commonNumericTag(a.Tag(), b.Tag(), allowString)
	if err != nil {
		return nil, nil, err
	}
	wa, err := defaultCaster.widenTo(a, target)
	if err != nil {
		return nil, nil, err
	}
	wb, err := defaultCaster.widenTo(b, target)
	if err != nil {
		return nil, nil, err
	}
	return wa, wb, nil
}

// requireEqualUnits enforces spec.md §4.2's add/sub unit rule: operand
// units must match after a converter lookup. If conv is nil, only
// literally-equal units are accepted.
func requireEqualUnits(a, b EngineValue, conv Converter) (EngineValue, error) {
	if a.Units().Equal(b.Units()) {
		return b, nil
	}
	if conv == nil {
		return nil, errors.Wrapf(ErrUnitMismatch, "%s vs %s", a.Units(), b.Units())
	}
	fn, err := conv.Lookup(b.Units(), a.Units())
	if err != nil {
		return nil, errors.Wrapf(ErrUnitMismatch, "%s vs %s: %v", a.Units(), b.Units(), err)
	}
	converted, err := fn(b)
	if err != nil {
		return nil, errors.Wrap(ErrUnitMismatch, err.Error())
	}
	return converted, nil
}

// Add implements the unified + dispatch of spec.md §4.2: widening cast,
// then (for numeric tags) an equal-units requirement resolved through
// conv, or (for strings) concatenation.
func Add(a, b EngineValue, conv Converter) (EngineValue, error) {
	wa, wb, err := widenPair(a, b, true)
	if err != nil {
		return nil, err
	}
	if wa.Tag() == TagString {
		return StringScalar{Value: wa.(StringScalar).Value + wb.(StringScalar).Value}, nil
	}
	wb, err = requireEqualUnits(wa, wb, conv)
	if err != nil {
		return nil, err
	}
	// A converter lookup can hand back a wider tag than wa started with
	// (every convert.Converter.RegisterScale rule returns DecimalScalar
	// regardless of its input's tag) — re-widen the pair to the tag the
	// conversion actually produced before dispatching on it.
	wa, wb, err = widenPair(wa, wb, false)
	if err != nil {
		return nil, err
	}
	switch wa.Tag() {
	case TagInt:
		return IntScalar{Value: wa.(IntScalar).Value + wb.(IntScalar).Value, U: wa.Units()}, nil
	case TagDecimal:
		return DecimalScalar{Value: wa.(DecimalScalar).Value.Add(wb.(DecimalScalar).Value), U: wa.Units()}, nil
	default:
		return nil, ErrUnsupportedOp
	}
}

// Sub implements the unified - dispatch. Strings do not support
// subtraction (spec.md §4.2: string participates only in add).
func Sub(a, b EngineValue, conv Converter) (EngineValue, error) {
	wa, wb, err := widenPair(a, b, false)
	if err != nil {
		return nil, err
	}
	wb, err = requireEqualUnits(wa, wb, conv)
	if err != nil {
		return nil, err
	}
	// See Add: a converter lookup can widen wb past wa's original tag.
	wa, wb, err = widenPair(wa, wb, false)
	if err != nil {
		return nil, err
	}
	switch wa.Tag() {
	case TagInt:
		return IntScalar{Value: wa.(IntScalar).Value - wb.(IntScalar).Value, U: wa.Units()}, nil
	case TagDecimal:
		return DecimalScalar{Value: wa.(DecimalScalar).Value.Sub(wb.(DecimalScalar).Value), U: wa.Units()}, nil
	default:
		return nil, ErrUnsupportedOp
	}
}

// Mul implements the unified * dispatch: widen, then compose units
// (spec.md §4.2: mul/div compose units).
func Mul(a, b EngineValue) (EngineValue, error) {
	wa, wb, err := widenPair(a, b, false)
	if err != nil {
		return nil, err
	}
	resultUnits := wa.Units().Multiply(wb.Units())
	switch wa.Tag() {
	case TagInt:
		return IntScalar{Value: wa.(IntScalar).Value * wb.(IntScalar).Value, U: resultUnits}, nil
	case TagDecimal:
		return DecimalScalar{Value: wa.(DecimalScalar).Value.Mul(wb.(DecimalScalar).Value), U: resultUnits}, nil
	default:
		return nil, ErrUnsupportedOp
	}
}

// Div implements the unified / dispatch: widen, then compose units.
func Div(a, b EngineValue) (EngineValue, error) {
	wa, wb, err := widenPair(a, b, false)
	if err != nil {
		return nil, err
	}
	resultUnits := wa.Units().Divide(wb.Units())
	switch wa.Tag() {
	case TagInt:
		bi := wb.(IntScalar).Value
		if bi == 0 {
			return nil, errors.New("engineval: integer division by zero")
		}
		return IntScalar{Value: wa.(IntScalar).Value / bi, U: resultUnits}, nil
	case TagDecimal:
		bd := wb.(DecimalScalar).Value
		if bd.IsZero() {
			return nil, errors.New("engineval: decimal division by zero")
		}
		return DecimalScalar{Value: wa.(DecimalScalar).Value.Div(bd), U: resultUnits}, nil
	default:
		return nil, ErrUnsupportedOp
	}
}

// Pow implements the unified ^ dispatch. The exponent must be unit-less
// (count); when the base is an integer scalar the exponent must also be
// integral, otherwise decimal semantics apply (spec.md §4.2).
func Pow(base, exp EngineValue) (EngineValue, error) {
	if exp.Tag() == TagString || base.Tag() == TagString || base.Tag() == TagBool || exp.Tag() == TagBool {
		return nil, ErrUnsupportedOp
	}
	if !exp.Units().IsCount() {
		return nil, errors.Wrap(ErrBadUnitOperation, "exponent must be unit-less")
	}

	switch base.Tag() {
	case TagInt:
		expDec, err := asDecimal(exp)
		if err != nil {
			return nil, err
		}
		if !expDec.Equal(expDec.Truncate(0)) {
			return nil, errors.Wrap(ErrBadUnitOperation, "non-integer exponent on an integer base")
		}
		k := int(expDec.IntPart())
		resultUnits, err := base.Units().Pow(k)
		if err != nil {
			return nil, err
		}
		result := int64(1)
		b := base.(IntScalar).Value
		neg := k < 0
		if neg {
			k = -k
		}
		for i := 0; i < k; i++ {
			result *= b
		}
		if neg {
			return DecimalScalar{Value: decimal.NewFromInt(1).Div(decimal.NewFromInt(result)), U: resultUnits}, nil
		}
		return IntScalar{Value: result, U: resultUnits}, nil
	case TagDecimal:
		expDec, err := asDecimal(exp)
		if err != nil {
			return nil, err
		}
		resultUnits := base.Units()
		if expDec.Equal(expDec.Truncate(0)) {
			if ru, err := base.Units().Pow(int(expDec.IntPart())); err == nil {
				resultUnits = ru
			}
		} else if !base.Units().IsCount() {
			return nil, errors.Wrap(ErrBadUnitOperation, "fractional exponent on a dimensioned base")
		}
		return DecimalScalar{Value: base.(DecimalScalar).Value.Pow(expDec), U: resultUnits}, nil
	default:
		return nil, ErrUnsupportedOp
	}
}

func asDecimal(v EngineValue) (decimal.Decimal, error) {
	switch v.Tag() {
	case TagInt:
		return decimal.NewFromInt(v.(IntScalar).Value), nil
	case TagDecimal:
		return v.(DecimalScalar).Value, nil
	default:
		return decimal.Decimal{}, ErrUnsupportedOp
	}
}
