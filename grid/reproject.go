package grid

import (
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/pkg/errors"
)

// Reproject converts geometry from fromCRS to toCRS, both Proj4 strings,
// the way the teacher's webMapTrans/loadPopulation/loadMortality
// transform population and mortality shapefile geometry into the CTM
// grid's spatial reference (vargrid.go). This backs the DSL's
// `grid.inputCrs`/`grid.targetCrs` options (spec.md §6) for patch
// geometry supplied in a different projection than the simulation grid.
func Reproject(geometry geom.Polygonal, fromCRS, toCRS string) (geom.Polygonal, error) {
	src, err := proj.Parse(fromCRS)
	if err != nil {
		return nil, errors.Wrap(err, "grid: parsing source CRS")
	}
	dst, err := proj.Parse(toCRS)
	if err != nil {
		return nil, errors.Wrap(err, "grid: parsing target CRS")
	}
	trans, err := src.NewTransform(dst)
	if err != nil {
		return nil, errors.Wrap(err, "grid: building CRS transform")
	}
	gg, err := geometry.Transform(trans)
	if err != nil {
		return nil, errors.Wrap(err, "grid: transforming geometry")
	}
	out, ok := gg.(geom.Polygonal)
	if !ok {
		return nil, errors.New("grid: transform did not yield a polygonal result")
	}
	return out, nil
}
