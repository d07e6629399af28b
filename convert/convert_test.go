package convert

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/units"
)

func parse(t *testing.T, s string) units.Units {
	t.Helper()
	u, err := units.Parse(s)
	require.NoError(t, err)
	return u
}

func TestLookupIdentityNeedsNoEdges(t *testing.T) {
	c := New()
	m := parse(t, "m")
	fn, err := c.Lookup(m, m)
	require.NoError(t, err)
	v, err := fn(engineval.IntScalar{Value: 5, U: m})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.(engineval.IntScalar).Value)
}

func TestLookupNoPathErrors(t *testing.T) {
	c := New()
	m := parse(t, "m")
	s := parse(t, "s")
	_, err := c.Lookup(m, s)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestRegisterScaleDirectConversion(t *testing.T) {
	c := New()
	m := parse(t, "m")
	cm := parse(t, "cm")
	require.NoError(t, c.RegisterScale(m, cm, decimal.NewFromInt(100)))

	fn, err := c.Lookup(cm, m)
	require.NoError(t, err)
	out, err := fn(engineval.DecimalScalar{Value: decimal.NewFromInt(50), U: cm})
	require.NoError(t, err)
	assert.True(t, out.(engineval.DecimalScalar).Value.Equal(decimal.NewFromFloat(0.5)))
}

// TestTransitiveClosure exercises spec.md §8 Property #3: if A->B and B->C
// are registered, Lookup(A, C) must succeed via composition even though no
// direct A->C edge was ever registered.
func TestTransitiveClosure(t *testing.T) {
	c := New()
	km := parse(t, "km")
	m := parse(t, "m")
	cm := parse(t, "cm")
	require.NoError(t, c.RegisterScale(km, m, decimal.NewFromInt(1000)))
	require.NoError(t, c.RegisterScale(m, cm, decimal.NewFromInt(100)))

	fn, err := c.Lookup(km, cm)
	require.NoError(t, err)
	out, err := fn(engineval.DecimalScalar{Value: decimal.NewFromInt(1), U: km})
	require.NoError(t, err)
	assert.True(t, out.(engineval.DecimalScalar).Value.Equal(decimal.NewFromInt(100000)))
}

func TestLookupIsCached(t *testing.T) {
	c := New()
	km := parse(t, "km")
	m := parse(t, "m")
	cm := parse(t, "cm")
	require.NoError(t, c.RegisterScale(km, m, decimal.NewFromInt(1000)))
	require.NoError(t, c.RegisterScale(m, cm, decimal.NewFromInt(100)))

	_, err := c.Lookup(km, cm)
	require.NoError(t, err)
	key := pathKey{km.CacheKey(), cm.CacheKey()}
	c.muCache.RLock()
	_, cached := c.cache[key]
	c.muCache.RUnlock()
	assert.True(t, cached)
}

func TestRegisterInvalidatesCache(t *testing.T) {
	c := New()
	km := parse(t, "km")
	m := parse(t, "m")
	cm := parse(t, "cm")
	require.NoError(t, c.RegisterScale(km, m, decimal.NewFromInt(1000)))
	_, err := c.Lookup(km, m)
	require.NoError(t, err)

	require.NoError(t, c.RegisterScale(m, cm, decimal.NewFromInt(100)))
	fn, err := c.Lookup(km, cm)
	require.NoError(t, err)
	out, err := fn(engineval.DecimalScalar{Value: decimal.NewFromInt(2), U: km})
	require.NoError(t, err)
	assert.True(t, out.(engineval.DecimalScalar).Value.Equal(decimal.NewFromInt(200000)))
}

func TestDuplicateRegisterErrors(t *testing.T) {
	c := New()
	m := parse(t, "m")
	cm := parse(t, "cm")
	require.NoError(t, c.RegisterScale(m, cm, decimal.NewFromInt(100)))
	err := c.Register(m, cm, func(v engineval.EngineValue) (engineval.EngineValue, error) { return v, nil })
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

// TestScenarioS2 mirrors spec.md §8 Scenario S2: 1m + 50cm converts to 1.5m
// through the registered converter, and 1m + 1year is a unit mismatch the
// converter cannot resolve.
func TestScenarioS2(t *testing.T) {
	c, err := StandardBuilder()
	require.NoError(t, err)

	m := parse(t, "m")
	cm := parse(t, "cm")
	a := engineval.DecimalScalar{Value: decimal.NewFromInt(1), U: m}
	b := engineval.DecimalScalar{Value: decimal.NewFromInt(50), U: cm}
	sum, err := engineval.Add(a, b, c)
	require.NoError(t, err)
	assert.True(t, sum.(engineval.DecimalScalar).Value.Equal(decimal.NewFromFloat(1.5)))

	year := parse(t, "year")
	yr := engineval.DecimalScalar{Value: decimal.NewFromInt(1), U: year}
	_, err = engineval.Add(a, yr, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, engineval.ErrUnitMismatch)
}
