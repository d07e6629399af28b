// Package grid implements the sealed external-data contract of spec.md
// §6: an opaque DataGridLayer the preprocessor (out of scope) produces
// from NetCDF/GeoTIFF, and a reference in-memory implementation the core
// can be tested against without any geospatial I/O.
package grid

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bitbucket.org/ctessum/sparse"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
	"github.com/SchmidtDSE/josh-sub003/units"
)

// ErrNoData is returned by Dense.GetAt when no value was ever set for a
// (key, step) pair, the DataMissing taxonomy of spec.md §7.
var ErrNoData = errors.New("grid: no data for this (key, step)")

// DataGridLayer is the sealed contract named in spec.md §6: a single
// named external variable addressable by grid cell and timestep. The
// core never constructs one except the Dense reference implementation
// below; real layers are supplied by the preprocessor.
type DataGridLayer interface {
	GetAt(key entity.GeoKey, step int64) (engineval.EngineValue, error)
}

// Dense is a reference DataGridLayer backed by one *sparse.DenseArray per
// timestep, addressed (GridZ, GridY, GridX) the way the teacher's
// CTMData.data ctmVariable entries are addressed in vargrid.go — a 3D
// dense array per named variable, values read with DenseArray.Get(z,y,x).
// Unlike the teacher (one array per simulation run), Dense keys a
// separate array per step, since spec.md's DataGridLayer is explicitly
// step-addressed.
type Dense struct {
	Units units.Units

	steps map[int64]*sparse.DenseArray
	origin entity.GeoKey // GridX/Y/Z of array index (0,0,0), for offset addressing
}

// NewDense builds an empty Dense layer. origin is the GeoKey the array's
// (0,0,0) index corresponds to, letting patches addressed by arbitrary
// (possibly negative) GeoKey coordinates map onto a zero-based array.
func NewDense(u units.Units, origin entity.GeoKey) *Dense {
	return &Dense{Units: u, steps: make(map[int64]*sparse.DenseArray), origin: origin}
}

// SetStep installs the dense array backing step, replacing any array
// previously installed for that step. dims is (nz, ny, nx), matching the
// teacher's sparse.ZerosDense(dims...) construction order in
// LoadCTMData.
func (d *Dense) SetStep(step int64, nz, ny, nx int) *sparse.DenseArray {
	arr := sparse.ZerosDense(nz, ny, nx)
	d.steps[step] = arr
	return arr
}

// Set stores a single cell's value for step, creating the step's backing
// array on first use sized just large enough to hold key.
func (d *Dense) Set(key entity.GeoKey, step int64, value float64) {
	arr, ok := d.steps[step]
	if !ok {
		z, y, x := d.index(key)
		arr = sparse.ZerosDense(z+1, y+1, x+1)
		d.steps[step] = arr
	}
	z, y, x := d.index(key)
	arr.Set(value, z, y, x)
}

func (d *Dense) index(key entity.GeoKey) (z, y, x int) {
	return int(key.GridZ - d.origin.GridZ), int(key.GridY - d.origin.GridY), int(key.GridX - d.origin.GridX)
}

// GetAt implements DataGridLayer.
func (d *Dense) GetAt(key entity.GeoKey, step int64) (engineval.EngineValue, error) {
	arr, ok := d.steps[step]
	if !ok {
		return nil, errors.Wrapf(ErrNoData, "step %d", step)
	}
	z, y, x := d.index(key)
	shape := arr.Shape
	if z < 0 || y < 0 || x < 0 || z >= shape[0] || y >= shape[1] || x >= shape[2] {
		return nil, errors.Wrapf(ErrNoData, "key %+v step %d out of bounds", key, step)
	}
	return engineval.DecimalScalar{Value: decimal.NewFromFloat(arr.Get(z, y, x)), U: d.Units}, nil
}
