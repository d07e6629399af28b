package grid

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
	"github.com/SchmidtDSE/josh-sub003/units"
)

func meters() units.Units {
	u, _ := units.Parse("m")
	return u
}

func TestDenseSetAndGetAt(t *testing.T) {
	d := NewDense(meters(), entity.GeoKey{})
	key := entity.GeoKey{GridX: 1, GridY: 2, GridZ: 0}
	d.Set(key, 0, 3.5)

	v, err := d.GetAt(key, 0)
	require.NoError(t, err)
	dec := v.(engineval.DecimalScalar)
	assert.True(t, dec.Value.Equal(decimal.NewFromFloat(3.5)))
	assert.True(t, dec.U.Equal(meters()))
}

func TestDenseGetAtMissingStepErrors(t *testing.T) {
	d := NewDense(meters(), entity.GeoKey{})
	_, err := d.GetAt(entity.GeoKey{}, 5)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestDenseGetAtOutOfBoundsErrors(t *testing.T) {
	d := NewDense(meters(), entity.GeoKey{})
	d.Set(entity.GeoKey{GridX: 0}, 0, 1.0)

	_, err := d.GetAt(entity.GeoKey{GridX: 9}, 0)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestDenseOriginOffsetsIndex(t *testing.T) {
	origin := entity.GeoKey{GridX: 10, GridY: 10}
	d := NewDense(meters(), origin)
	key := entity.GeoKey{GridX: 11, GridY: 10}
	d.Set(key, 0, 42)

	v, err := d.GetAt(key, 0)
	require.NoError(t, err)
	assert.True(t, v.(engineval.DecimalScalar).Value.Equal(decimal.NewFromFloat(42)))
}
