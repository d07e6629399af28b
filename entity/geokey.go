package entity

import "fmt"

// GeoKey is the stable coordinate identity of a grid cell: a patch's
// position, or the zero value for non-gridded entities (the simulation
// entity, agents addressed only through their parent patch). It is
// comparable, so it doubles as a map key for ownership tracking, snapshot
// lookups, and PRNG sub-stream derivation (spec.md §4.4/§9).
type GeoKey struct {
	GridX, GridY, GridZ int32
}

func (k GeoKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.GridX, k.GridY, k.GridZ)
}
