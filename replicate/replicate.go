// Package replicate implements the Prototype and Replicate of spec.md §4.7:
// entity construction templates and the per-simulation container of live
// patches, frozen timestep snapshots, and the spatial index queries run
// against them.
package replicate

import (
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/entity"
)

// Sentinel errors.
var (
	ErrNoMatch          = errors.New("replicate: no patch matches the query")
	ErrAmbiguousMatch   = errors.New("replicate: more than one patch matches the query")
	ErrRequiresGeometry = errors.New("replicate: prototype requires a geometry to build")
	ErrRequiresParent   = errors.New("replicate: prototype requires a parent entity to build")
)

// Prototype is a construction template for one entity kind (spec.md §4.7).
// Building a patch requires a geometry; building an agent requires a
// parent. Prototype implements entity.Builder so entity.CreateN can
// construct from it without entity importing replicate.
type Prototype struct {
	Identifier       string
	Kind             entity.Kind
	RequiresParent   bool
	RequiresGeometry bool
	AttrNames        []string
	Build_           func(parent *entity.Entity, geometry geom.Polygonal, key entity.GeoKey) (*entity.Entity, error)
}

// Build implements entity.Builder against the currently live parent; it
// has no geometry or key of its own to offer (agents created this way
// inherit their parent's footprint contextually, not structurally).
func (p *Prototype) Build(parent *entity.Entity) (*entity.Entity, error) {
	if p.RequiresParent && parent == nil {
		return nil, errors.Wrapf(ErrRequiresParent, "%s", p.Identifier)
	}
	if p.RequiresGeometry {
		return nil, errors.Wrapf(ErrRequiresGeometry, "%s: call BuildWithGeometry", p.Identifier)
	}
	return p.Build_(parent, nil, entity.GeoKey{})
}

// BuildWithGeometry constructs a patch-kind entity, which must carry its
// own footprint and grid key.
func (p *Prototype) BuildWithGeometry(geometry geom.Polygonal, key entity.GeoKey) (*entity.Entity, error) {
	if p.RequiresGeometry && geometry == nil {
		return nil, errors.Wrapf(ErrRequiresGeometry, "%s", p.Identifier)
	}
	return p.Build_(nil, geometry, key)
}

// Snapshot is one timestep's frozen state: every live patch (and,
// recursively, every inner entity) projected into an entity.Frozen,
// addressed by GeoKey (spec.md §3 "snapshot is Map<GeoKey, FrozenEntity>").
type Snapshot map[entity.GeoKey]*entity.Frozen

// Replicate is the container of live patches and historical snapshots for
// one simulation run (spec.md §4.7, §3).
type Replicate struct {
	mu        sync.RWMutex
	patches   map[entity.GeoKey]*entity.Entity
	index     *rtree.Rtree
	timesteps map[int64]Snapshot
	current   int64

	// GridMutator is an optional hook invoked by callers (never by this
	// package's own operations) between timesteps to mutate the live
	// patch set — the pluggable-regridding surface carried over from the
	// teacher's VarGridConfig.MutateGrid/PopConcMutator machinery, scoped
	// down to a single hook point since full variable-resolution
	// regridding is out of scope.
	GridMutator func(r *Replicate) error
}

// New builds an empty Replicate starting at step 0.
func New() *Replicate {
	return &Replicate{
		patches:   make(map[entity.GeoKey]*entity.Entity),
		index:     rtree.NewTree(25, 50),
		timesteps: make(map[int64]Snapshot),
	}
}

// CurrentStep returns the absolute timestep the Replicate is positioned at.
func (r *Replicate) CurrentStep() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// AddPatch inserts a live patch into the grid and spatial index, keyed by
// its GeoKey.
func (r *Replicate) AddPatch(p *entity.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches[p.Key] = p
	r.index.Insert(p)
}

// GetCurrentPatches returns every live patch (spec.md §4.7
// "getCurrentPatches"). Shadowing decoration is the caller's
// responsibility (package stepper wraps each in a shadow.State).
func (r *Replicate) GetCurrentPatches() []*entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(r.patches))
	for _, p := range r.patches {
		out = append(out, p)
	}
	return out
}

// QueryPatch returns the single live patch whose footprint contains point,
// failing if zero or more than one match (spec.md §4.7 "queryPatch").
// Patches are non-overlapping grid cells, so a bounding-box hit from the
// spatial index is exact; this mirrors the teacher's own use of
// SearchIntersect as the sole membership test in CellIntersections
// (framework.go), rather than layering a second polygon-point predicate
// the pack never demonstrates.
func (r *Replicate) QueryPatch(point geom.Point) (*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hits := r.index.SearchIntersect(point.Bounds())
	switch len(hits) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return hits[0].(*entity.Entity), nil
	default:
		return nil, ErrAmbiguousMatch
	}
}

// PriorPatches returns frozen entities from step-1 whose footprint
// intersects geometry (spec.md §4.7 "priorPatches").
func (r *Replicate) PriorPatches(geometry geom.Polygonal) ([]*entity.Frozen, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.timesteps[r.current-1]
	if !ok {
		return nil, errors.Wrapf(ErrNoMatch, "no snapshot for step %d", r.current-1)
	}
	var out []*entity.Frozen
	for _, f := range snap {
		if f.Geometry() != nil && geometry.Intersection(f.Geometry()) != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// PriorPatchesByMomento is PriorPatches addressed by a serializable
// Momento rather than a live geometry, the cache key CachingBridge memoizes
// against (spec.md §4.7).
func (r *Replicate) PriorPatchesByMomento(m Momento) ([]*entity.Frozen, error) {
	g, err := m.Geometry()
	if err != nil {
		return nil, err
	}
	return r.PriorPatches(g)
}

// SaveTimestep freezes every live patch (and, through whatever the freeze
// callback attaches, its nested agents) into the step snapshot, then advances the
// clock (spec.md §4.7 "saveTimestep"). freeze is supplied by the caller
// (package stepper holds the shadow.State per patch needed to read
// resolved values); Replicate itself has no visibility into shadowing.
func (r *Replicate) SaveTimestep(step int64, freeze func(p *entity.Entity) (*entity.Frozen, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(Snapshot, len(r.patches))
	for key, p := range r.patches {
		fz, err := freeze(p)
		if err != nil {
			return errors.Wrapf(err, "freeze patch %s", key)
		}
		snap[key] = fz
	}
	r.timesteps[step] = snap
	r.current = step + 1
	return nil
}

// Snapshot returns the frozen state recorded for step, if any.
func (r *Replicate) Snapshot(step int64) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.timesteps[step]
	return s, ok
}
