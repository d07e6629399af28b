package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	u, err := Parse("kg * m / s * s")
	require.NoError(t, err)
	assert.Equal(t, "kg * m / s * s", u.String())
}

func TestParseCount(t *testing.T) {
	u, err := Parse("")
	require.NoError(t, err)
	assert.True(t, u.IsCount())
}

func TestParseTooManySlashes(t *testing.T) {
	_, err := Parse("m / s / s")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestSimplifyCancels(t *testing.T) {
	u := New([]string{"m", "s"}, []string{"s"})
	s := u.Simplify()
	assert.Equal(t, "m", s.String())
}

func TestUnitRoundtrip(t *testing.T) {
	for _, s := range []string{"m", "m * s", "m / s", "kg * m / s * s", ""} {
		u, err := Parse(s)
		require.NoError(t, err)
		reparsed, err := Parse(u.String())
		require.NoError(t, err)
		assert.True(t, reparsed.Equal(u), "roundtrip failed for %q", s)
	}
}

func TestInvert(t *testing.T) {
	u, _ := Parse("m / s")
	inv := u.Invert()
	assert.Equal(t, "s / m", inv.String())
}

func TestMultiplyDivide(t *testing.T) {
	a, _ := Parse("m")
	b, _ := Parse("s")
	assert.Equal(t, "m * s", a.Multiply(b).String())
	assert.Equal(t, "m / s", a.Divide(b).String())
}

func TestPow(t *testing.T) {
	a, _ := Parse("m")
	sq, err := a.Pow(2)
	require.NoError(t, err)
	assert.Equal(t, "m * m", sq.String())

	zero, err := a.Pow(0)
	require.NoError(t, err)
	assert.True(t, zero.IsCount())

	inv, err := a.Pow(-1)
	require.NoError(t, err)
	assert.True(t, inv.Equal(a.Invert()))
}

func TestEqual(t *testing.T) {
	a, _ := Parse("m * s")
	b, _ := Parse("s * m")
	assert.True(t, a.Equal(b))
}
