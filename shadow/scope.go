package shadow

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
)

// ErrUnresolvedName is returned when a name matches none of the ordered
// lookup tiers spec.md §4.5 defines.
var ErrUnresolvedName = errors.New("shadow: name does not resolve in this scope")

// Globals supplies the simulation-wide synthetic constants (year,
// stepCount, ...) a Scope falls back to after local attributes and the
// here/meta names (spec.md §4.5).
type Globals interface {
	Lookup(name string) (engineval.EngineValue, error)
}

// EntityScope implements entity.Scope with an ordered lookup: local
// attributes on this entity, then the synthetic names "here" and "meta",
// then global constants. Lookup resolves no "prior" or "current" name;
// prior-step values are read only through PriorScope.LookupPrior.
type EntityScope struct {
	Ctx    Ctx
	Self   *State
	Here   *State // containing patch; nil for the simulation entity itself
	Meta   *State // simulation entity; nil only in degenerate standalone tests
	Global Globals
	Rng    *rand.Rand // this patch's deterministic sub-stream (spec.md §4.4/§9); nil outside a Stepper-driven substep
}

// Rand returns the deterministic per-patch PRNG sub-stream threaded
// through this scope, for handlers that sample a distribution via
// distribution.Distribution.Sample(rng) rather than the fixed-seed
// engineval.Distribution.SampleOnce fallback (spec.md §4.4/§9's
// reproducible-parallelism rule). Handlers reach it the same way they
// reach LookupPrior: a type assertion against the narrow interface this
// method satisfies.
func (sc EntityScope) Rand() *rand.Rand {
	return sc.Rng
}

// Lookup implements entity.Scope.
func (sc EntityScope) Lookup(name string) (engineval.EngineValue, error) {
	if idx, ok := sc.Self.Entity().AttrIndex(name); ok {
		return sc.Self.CurrentIndex(sc.Ctx, idx, sc)
	}

	switch name {
	case "here":
		return sc.entityRef(sc.Here)
	case "meta":
		return sc.entityRef(sc.Meta)
	}

	if sc.Global != nil {
		if v, err := sc.Global.Lookup(name); err == nil {
			return v, nil
		}
	}
	return nil, errors.Wrapf(ErrUnresolvedName, "%s", name)
}

func (sc EntityScope) entityRef(target *State) (engineval.EngineValue, error) {
	if target == nil {
		return nil, errors.Wrapf(ErrUnresolvedName, "no target entity in scope")
	}
	return engineval.EntityReferenceValue{Ref: target.Entity()}, nil
}

// PriorScope is the scope used to evaluate prior.x / prior.<attr> lookups:
// a dotted "prior" access resolves against Self's PriorIndex instead of
// CurrentIndex. Handlers author prior.<attr> as a distinct synthetic
// namespace, compiled elsewhere into calls against this type.
type PriorScope struct {
	Self *State
}

// LookupPrior resolves attr against the prior snapshot, raising
// ErrNoPriorValue per spec.md §4.6 if none exists (including at the first
// step, where PriorIndex's underlying prior source is nil).
func (p PriorScope) LookupPrior(attr string) (engineval.EngineValue, error) {
	idx, ok := p.Self.Entity().AttrIndex(attr)
	if !ok {
		return nil, errors.Wrapf(entity.ErrUnknownAttr, "%s", attr)
	}
	return p.Self.PriorIndex(idx)
}

// CombinedScope is the full entity.Scope handlers actually run against: the
// local/here/meta/global tiers of EntityScope plus the prior.* tier of
// PriorScope, exposed to handlers via a LookupPrior type assertion (spec.md
// §4.5 "synthetic names (here/meta/prior/current)"). Lookup re-implements
// the local-attribute-first check directly (rather than delegating to
// EntityScope.Lookup) so nested CurrentIndex calls receive this combined
// scope, not the embedded EntityScope alone — otherwise a handler called
// from within a nested resolution would lose access to LookupPrior.
type CombinedScope struct {
	EntityScope
	PriorScope
}

// Lookup implements entity.Scope.
func (c CombinedScope) Lookup(name string) (engineval.EngineValue, error) {
	if idx, ok := c.EntityScope.Self.Entity().AttrIndex(name); ok {
		return c.EntityScope.Self.CurrentIndex(c.EntityScope.Ctx, idx, c)
	}
	return c.EntityScope.Lookup(name)
}
