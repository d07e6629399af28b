// Package bridge implements the Bridge façade of spec.md §4.9: the sole
// surface the interpreter (out of scope, §1) drives the core through.
// Bridge never parses the DSL and never constructs a Stepper or Replicate
// itself — it wraps ones already built and adds the caching/lazy-loading
// behavior spec.md §4.9 describes for prior-patch queries and external
// resources.
package bridge

import (
	"context"
	"sync"

	"github.com/ctessum/geom"
	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/config"
	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
	"github.com/SchmidtDSE/josh-sub003/grid"
	"github.com/SchmidtDSE/josh-sub003/replicate"
	"github.com/SchmidtDSE/josh-sub003/shadow"
	"github.com/SchmidtDSE/josh-sub003/stepper"
	"github.com/SchmidtDSE/josh-sub003/units"
)

// Sentinel errors (spec.md §7).
var (
	ErrUnknownPrototype = errors.New("bridge: no prototype registered under this name")
	ErrUnknownResource  = errors.New("bridge: external resource getter returned no layer for this name")
)

// ExternalResourceGetter is the pluggable contract Bridge.GetExternal
// delegates to on first reference to a resource name (spec.md §4.9
// "External resources are loaded lazily").
type ExternalResourceGetter interface {
	Get(name string) (grid.DataGridLayer, error)
}

// Bridge is the façade of spec.md §4.9. Every operation it exposes is
// named after the spec's own vocabulary; nothing here is additional
// surface beyond what §4.9 lists.
type Bridge interface {
	StartStep(ctx context.Context) error
	EndStep() error
	IsComplete() bool

	CurrentTimestep() int64
	PriorTimestep() (int64, error)
	StartTimestep(ctx context.Context) error
	EndTimestep() error
	AbsoluteTimestep() int64

	GetPatch(point geom.Point) (*entity.Entity, error)
	GetCurrentPatches() []*entity.Entity
	GetPriorPatchesByGeometry(geometry geom.Polygonal) ([]*entity.Frozen, error)
	GetPriorPatchesByMomento(m replicate.Momento) ([]*entity.Frozen, error)

	Convert(value engineval.EngineValue, newUnits units.Units) (engineval.EngineValue, error)
	GetExternal(key entity.GeoKey, name string, step int64) (engineval.EngineValue, error)
	GetConfigOptional(name string) (engineval.EngineValue, bool)
	GetPrototype(name string) (*replicate.Prototype, error)
	GetEngineValueFactory() engineval.Factory
}

var _ Bridge = (*CachingBridge)(nil)

// CachingBridge is the reference Bridge (spec.md §4.9's "caching bridge
// variant" — the only variant this module ships, since an uncached
// variant would just skip the two maps below).
type CachingBridge struct {
	Stepper       *stepper.Stepper
	Converter     engineval.Converter
	External      ExternalResourceGetter
	Config        config.ConfigGetter
	SerialPatches bool

	prototypesMu sync.RWMutex
	prototypes   map[string]*replicate.Prototype

	momentoMu sync.RWMutex
	momentoCache map[replicate.Momento][]entity.GeoKey

	resourceMu sync.RWMutex
	resources  map[string]grid.DataGridLayer

	factory engineval.Factory
}

// New builds a CachingBridge over an already-constructed Stepper.
// external/cfg may be nil; GetExternal then always fails with
// ErrUnknownResource and GetConfigOptional always reports not-found.
func New(s *stepper.Stepper, conv engineval.Converter, external ExternalResourceGetter, cfg config.ConfigGetter) *CachingBridge {
	return &CachingBridge{
		Stepper:      s,
		Converter:    conv,
		External:     external,
		Config:       cfg,
		prototypes:   make(map[string]*replicate.Prototype),
		momentoCache: make(map[replicate.Momento][]entity.GeoKey),
		resources:    make(map[string]grid.DataGridLayer),
		factory:      engineval.NewFactory(),
	}
}

// RegisterPrototype makes name resolvable via GetPrototype.
func (b *CachingBridge) RegisterPrototype(name string, p *replicate.Prototype) {
	b.prototypesMu.Lock()
	defer b.prototypesMu.Unlock()
	b.prototypes[name] = p
}

// StartStep runs one absolute timestep of the simulation (spec.md §4.8's
// Perform, §4.9's startStep). EndStep is the commit half of the pair,
// kept separate so a caller can interleave bookkeeping — e.g. reading
// back the snapshot just produced — between the two, even though the
// physics itself completes synchronously inside StartStep.
func (b *CachingBridge) StartStep(ctx context.Context) error {
	return b.Stepper.Perform(ctx, b.SerialPatches)
}

// EndStep runs the optional between-timesteps grid mutation hook (spec.md
// §11 "Dynamic-grid style mutation hook surface") and drops any
// prior-patch cache entries, since the set of GeoKeys a momento resolves
// to can change once MutateGrid adds or removes patches.
func (b *CachingBridge) EndStep() error {
	r := b.Stepper.Replicate
	if r.GridMutator != nil {
		if err := r.GridMutator(r); err != nil {
			return errors.Wrap(err, "bridge: grid mutator")
		}
	}
	b.momentoMu.Lock()
	b.momentoCache = make(map[replicate.Momento][]entity.GeoKey)
	b.momentoMu.Unlock()
	return nil
}

// StartTimestep/EndTimestep alias StartStep/EndStep: the DSL's
// `steps.low`/`steps.high` vocabulary and spec.md §4.9's separate
// startStep/startTimestep names both denote the single loop granularity
// this core implements (one Stepper.Perform call advances the Replicate's
// clock by exactly one absolute timestep — spec.md §4.8 defines no finer
// "step" inside a timestep that the bridge exposes independently).
func (b *CachingBridge) StartTimestep(ctx context.Context) error { return b.StartStep(ctx) }
func (b *CachingBridge) EndTimestep() error                      { return b.EndStep() }

// IsComplete reports whether the configured inclusive step range
// (steps.low/steps.high, spec.md §6) has been exhausted. Absent
// "steps.high", the simulation never reports complete on its own.
func (b *CachingBridge) IsComplete() bool {
	high, ok := b.stepsHigh()
	if !ok {
		return false
	}
	return b.CurrentTimestep() > high
}

func (b *CachingBridge) stepsLow() int64 {
	if b.Config == nil {
		return 0
	}
	v, ok := b.Config.GetOptional("steps.low")
	if !ok {
		return 0
	}
	i, ok := v.(engineval.IntScalar)
	if !ok {
		return 0
	}
	return i.Value
}

func (b *CachingBridge) stepsHigh() (int64, bool) {
	if b.Config == nil {
		return 0, false
	}
	v, ok := b.Config.GetOptional("steps.high")
	if !ok {
		return 0, false
	}
	i, ok := v.(engineval.IntScalar)
	if !ok {
		return 0, false
	}
	return i.Value, true
}

// AbsoluteTimestep returns the core's own zero-based step counter
// (Replicate.CurrentStep — the same value stepper.Perform calls
// "absolute" internally).
func (b *CachingBridge) AbsoluteTimestep() int64 {
	return b.Stepper.Replicate.CurrentStep()
}

// CurrentTimestep translates the internal zero-based counter into the
// DSL's configured logical range (steps.low-offset), the user-facing
// number a `steps.low = 2020` simulation would report at its first step.
func (b *CachingBridge) CurrentTimestep() int64 {
	return b.stepsLow() + b.AbsoluteTimestep()
}

// PriorTimestep is CurrentTimestep minus one, failing with
// shadow.ErrNoPriorValue before the first completed step — the same
// taxonomy entry spec.md §7 uses for any prior.* access with no prior
// snapshot.
func (b *CachingBridge) PriorTimestep() (int64, error) {
	if b.AbsoluteTimestep() == 0 {
		return 0, shadow.ErrNoPriorValue
	}
	return b.CurrentTimestep() - 1, nil
}

// GetPatch implements spec.md §4.9's getPatch(point).
func (b *CachingBridge) GetPatch(point geom.Point) (*entity.Entity, error) {
	return b.Stepper.Replicate.QueryPatch(point)
}

// GetCurrentPatches implements spec.md §4.9's getCurrentPatches().
func (b *CachingBridge) GetCurrentPatches() []*entity.Entity {
	return b.Stepper.Replicate.GetCurrentPatches()
}

// GetPriorPatchesByGeometry implements the geometry-addressed half of
// spec.md §4.9's getPriorPatches(geom|momento). It is not memoized — only
// the momento-addressed form is, since a live geom.Polygonal is not a
// comparable cache key.
func (b *CachingBridge) GetPriorPatchesByGeometry(geometry geom.Polygonal) ([]*entity.Frozen, error) {
	return b.Stepper.Replicate.PriorPatches(geometry)
}

// GetPriorPatchesByMomento implements the momento-addressed half of
// spec.md §4.9's getPriorPatches, memoizing which GeoKeys a momento
// resolves to and rehydrating the Frozen values from the current snapshot
// on every call (SPEC_FULL.md §10), so a cached momento always reflects
// the latest saved timestep even though the geometric match itself is
// computed once.
func (b *CachingBridge) GetPriorPatchesByMomento(m replicate.Momento) ([]*entity.Frozen, error) {
	if keys, ok := b.cachedKeys(m); ok {
		return b.rehydrate(keys)
	}

	fzs, err := b.Stepper.Replicate.PriorPatchesByMomento(m)
	if err != nil {
		return nil, err
	}
	keys := make([]entity.GeoKey, len(fzs))
	for i, fz := range fzs {
		keys[i] = fz.Key()
	}
	b.momentoMu.Lock()
	b.momentoCache[m] = keys
	b.momentoMu.Unlock()
	return fzs, nil
}

func (b *CachingBridge) cachedKeys(m replicate.Momento) ([]entity.GeoKey, bool) {
	b.momentoMu.RLock()
	defer b.momentoMu.RUnlock()
	keys, ok := b.momentoCache[m]
	return keys, ok
}

func (b *CachingBridge) rehydrate(keys []entity.GeoKey) ([]*entity.Frozen, error) {
	step := b.Stepper.Replicate.CurrentStep() - 1
	snap, ok := b.Stepper.Replicate.Snapshot(step)
	if !ok {
		return nil, errors.Wrapf(replicate.ErrNoMatch, "no snapshot for step %d", step)
	}
	out := make([]*entity.Frozen, 0, len(keys))
	for _, k := range keys {
		if fz, ok := snap[k]; ok {
			out = append(out, fz)
		}
	}
	return out, nil
}

// Convert implements spec.md §4.9's convert(value, newUnits) via the
// injected Converter.
func (b *CachingBridge) Convert(value engineval.EngineValue, newUnits units.Units) (engineval.EngineValue, error) {
	if value.Units().Equal(newUnits) {
		return value, nil
	}
	fn, err := b.Converter.Lookup(value.Units(), newUnits)
	if err != nil {
		return nil, err
	}
	return fn(value)
}

// GetExternal implements spec.md §4.9's getExternal(key, name, step),
// loading name's backing DataGridLayer on first reference and serving it
// from an in-memory map thereafter.
func (b *CachingBridge) GetExternal(key entity.GeoKey, name string, step int64) (engineval.EngineValue, error) {
	layer, err := b.resourceFor(name)
	if err != nil {
		return nil, err
	}
	return layer.GetAt(key, step)
}

func (b *CachingBridge) resourceFor(name string) (grid.DataGridLayer, error) {
	b.resourceMu.RLock()
	layer, ok := b.resources[name]
	b.resourceMu.RUnlock()
	if ok {
		return layer, nil
	}

	b.resourceMu.Lock()
	defer b.resourceMu.Unlock()
	if layer, ok := b.resources[name]; ok {
		return layer, nil
	}
	if b.External == nil {
		return nil, errors.Wrapf(ErrUnknownResource, "%s", name)
	}
	layer, err := b.External.Get(name)
	if err != nil {
		return nil, errors.Wrapf(err, "loading external resource %q", name)
	}
	b.resources[name] = layer
	return layer, nil
}

// GetConfigOptional implements spec.md §4.9's getConfigOptional.
func (b *CachingBridge) GetConfigOptional(name string) (engineval.EngineValue, bool) {
	if b.Config == nil {
		return nil, false
	}
	return b.Config.GetOptional(name)
}

// GetPrototype implements spec.md §4.9's getPrototype(name).
func (b *CachingBridge) GetPrototype(name string) (*replicate.Prototype, error) {
	b.prototypesMu.RLock()
	defer b.prototypesMu.RUnlock()
	p, ok := b.prototypes[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPrototype, "%s", name)
	}
	return p, nil
}

// GetEngineValueFactory implements spec.md §4.9's getEngineValueFactory().
func (b *CachingBridge) GetEngineValueFactory() engineval.Factory {
	return b.factory
}
