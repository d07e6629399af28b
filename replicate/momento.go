package replicate

import (
	"github.com/ctessum/geom"
	"github.com/pkg/errors"
)

// MomentoShape enumerates the footprint shapes a Momento can describe.
type MomentoShape string

const (
	MomentoShapeCircle    MomentoShape = "circle"
	MomentoShapeRectangle MomentoShape = "rectangle"
)

// Momento is a serializable key standing in for a geometry, suitable for
// memoizing repeated spatial queries (spec.md §4.7: "equal momentos must
// yield identical query results"). Its fields are exported so
// encoding/json can marshal it, and they are all comparable scalars, so the
// struct itself works directly as a Go map key without marshaling.
type Momento struct {
	Shape    MomentoShape
	CenterX  float64
	CenterY  float64
	Diameter float64
	CRS      string
}

// Geometry builds the query geometry a Momento describes. Only the circle
// and rectangle shapes are accepted, and both yield the same axis-aligned
// square of side Diameter centred on (CenterX, CenterY): a circle momento
// queries its bounding square, not a circular footprint.
func (m Momento) Geometry() (geom.Polygonal, error) {
	r := m.Diameter / 2
	switch m.Shape {
	case MomentoShapeRectangle, MomentoShapeCircle:
		return geom.Polygon([][]geom.Point{{
			{X: m.CenterX - r, Y: m.CenterY - r},
			{X: m.CenterX + r, Y: m.CenterY - r},
			{X: m.CenterX + r, Y: m.CenterY + r},
			{X: m.CenterX - r, Y: m.CenterY + r},
			{X: m.CenterX - r, Y: m.CenterY - r},
		}}), nil
	default:
		return nil, errors.Errorf("replicate: unknown momento shape %q", m.Shape)
	}
}
