// Package stepper implements the Stepper of spec.md §4.8: one absolute
// timestep's constant/init prelude, its [start, step, end] substep loop
// across the simulation entity and its patches, recursive agent discovery
// nested under each patch, and the incremental export hook that freezes a
// patch the moment its final-event substep ends.
package stepper

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SchmidtDSE/josh-sub003/distribution"
	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
	"github.com/SchmidtDSE/josh-sub003/replicate"
	"github.com/SchmidtDSE/josh-sub003/shadow"
)

// Sentinel errors (spec.md §7).
var (
	ErrStepAlreadyActive = errors.New("stepper: a step is already in progress")
)

// PatchExportCallback is the optional incremental export hook (spec.md
// §4.8 "Incremental export hook"). It is invoked once a patch's
// final-event substep ends; the Frozen it returns is inserted directly
// into the replicate's snapshot map instead of the stepper's own default
// freeze.
type PatchExportCallback func(patch *entity.Entity, step int64) (*entity.Frozen, error)

// Stepper drives one Replicate through successive absolute timesteps.
// Nothing here is package-global state (spec.md §9): every field is owned
// by one Stepper value, safe to run multiple independent simulations
// side by side.
type Stepper struct {
	Replicate  *replicate.Replicate
	Simulation *entity.Entity
	Global     shadow.Globals
	Export     PatchExportCallback
	Logger     *zap.Logger

	// Seed derives every patch's deterministic PRNG sub-stream via
	// distribution.SubStream(Seed, patch.Key.String()) (spec.md §4.4/§9):
	// two Stepper runs with the same Seed draw identical distribution
	// samples per patch regardless of serialPatches, since each patch's
	// stream depends only on (Seed, GeoKey), never on goroutine scheduling.
	Seed int64

	mu     sync.Mutex
	active bool

	simState *shadow.State

	statesMu    sync.Mutex
	patchStates map[entity.GeoKey]*shadow.State
	agentStates map[string]*shadow.State

	ownerSeq uint64

	frozenMu sync.Mutex
	frozen   map[entity.GeoKey]*entity.Frozen
}

// New builds a Stepper driving replicate, with sim as the single
// simulation-wide entity. global supplies constant lookups (year,
// stepCount, ...) outside the local/here/meta tiers; it may be nil.
func New(r *replicate.Replicate, sim *entity.Entity, global shadow.Globals) *Stepper {
	logger := zap.NewNop()
	return &Stepper{
		Replicate:   r,
		Simulation:  sim,
		Global:      global,
		Logger:      logger,
		simState:    shadow.NewState(sim),
		patchStates: make(map[entity.GeoKey]*shadow.State),
		agentStates: make(map[string]*shadow.State),
		frozen:      make(map[entity.GeoKey]*entity.Frozen),
	}
}

func (s *Stepper) nextOwner() uint64 {
	return atomic.AddUint64(&s.ownerSeq, 1)
}

// patchRand derives key's deterministic sub-stream for this Stepper's Seed.
// A fresh *rand.Rand is built per call rather than cached on the State, so
// a patch's stream replays identically from the top of each substep it
// participates in, instead of accumulating draws across substeps/timesteps
// in an order that would depend on which events happened to be declared.
func (s *Stepper) patchRand(key entity.GeoKey) *rand.Rand {
	return distribution.SubStream(s.Seed, key.String())
}

// simulationRand is the simulation entity's own sub-stream, keyed
// separately from any patch's GeoKey (the simulation has none of its own).
func (s *Stepper) simulationRand() *rand.Rand {
	return distribution.SubStream(s.Seed, "simulation")
}

func (s *Stepper) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// patchStateFor returns the shadow.State tracking p across timesteps,
// creating one the first time p is seen (or reusing a GeoKey slot whose
// live entity was swapped out by an export/reuse cycle).
func (s *Stepper) patchStateFor(p *entity.Entity) *shadow.State {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	st, ok := s.patchStates[p.Key]
	if ok && st.Entity() == p {
		return st
	}
	st = shadow.NewState(p)
	s.patchStates[p.Key] = st
	return st
}

// agentStateFor returns the shadow.State tracking an agent entity across
// substeps/timesteps, keyed by its immutable sequence id. isNew reports
// whether this call created the state (the agent's first-ever discovery),
// which processAgent uses to decide whether the agent still owes itself an
// EventInit substep.
func (s *Stepper) agentStateFor(a *entity.Entity) (st *shadow.State, isNew bool) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	st, ok := s.agentStates[a.Identifier()]
	if ok {
		return st, false
	}
	st = shadow.NewState(a)
	s.agentStates[a.Identifier()] = st
	return st, true
}

// Perform executes one absolute timestep (spec.md §4.8 steps 1-4).
func (s *Stepper) Perform(ctx context.Context, serialPatches bool) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrStepAlreadyActive
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	absolute := s.Replicate.CurrentStep()
	s.logger().Debug("stepper: entering step", zap.Int64("step", absolute))

	declared := s.declaredPatchEvents()
	final := finalEvent(declared)

	if absolute == 0 {
		if err := s.runConstantPrelude(ctx); err != nil {
			return errors.Wrap(err, "constant prelude")
		}
		if err := s.runEvent(ctx, entity.EventInit, final, serialPatches); err != nil {
			return errors.Wrap(err, "init prelude")
		}
	}

	for _, ev := range []entity.Event{entity.EventStart, entity.EventStep, entity.EventEnd} {
		if !declared[ev] {
			continue
		}
		if err := s.runEvent(ctx, ev, final, serialPatches); err != nil {
			return errors.Wrapf(err, "event %s", ev)
		}
	}

	s.logger().Debug("stepper: closing step", zap.Int64("step", absolute), zap.String("finalEvent", string(final)))
	if err := s.Replicate.SaveTimestep(absolute, s.freezeFunc()); err != nil {
		return errors.Wrap(err, "save timestep")
	}

	s.frozenMu.Lock()
	s.frozen = make(map[entity.GeoKey]*entity.Frozen)
	s.frozenMu.Unlock()
	return nil
}

// declaredPatchEvents reports which of [start, step, end] any live patch
// declares a handler for (spec.md §4.8 step 3: "for each event... that any
// patch-level handler declares").
func (s *Stepper) declaredPatchEvents() map[entity.Event]bool {
	out := map[entity.Event]bool{}
	for _, p := range s.Replicate.GetCurrentPatches() {
		for _, ev := range []entity.Event{entity.EventStart, entity.EventStep, entity.EventEnd} {
			if p.HasEvent(ev) {
				out[ev] = true
			}
		}
	}
	return out
}

// finalEvent picks end > step > start > init, per spec.md §4.8's
// "Incremental export hook" rule.
func finalEvent(declared map[entity.Event]bool) entity.Event {
	for _, ev := range []entity.Event{entity.EventEnd, entity.EventStep, entity.EventStart} {
		if declared[ev] {
			return ev
		}
	}
	return entity.EventInit
}

// runConstantPrelude resolves every simulation attribute with only an
// unqualified handler (spec.md §4.8 step 2a). No agent discovery runs for
// the simulation entity; it has no geographic footprint to nest agents
// under.
func (s *Stepper) runConstantPrelude(ctx context.Context) error {
	return s.runSimulationEvent(ctx, entity.EventConstant, nil)
}

// runEvent runs event on the simulation entity, then on every patch
// (spec.md §4.8 step 3), in parallel unless serialPatches.
func (s *Stepper) runEvent(ctx context.Context, event, final entity.Event, serialPatches bool) error {
	prior := s.priorSimulation()
	if err := s.runSimulationEvent(ctx, event, prior); err != nil {
		return err
	}
	return s.runPatches(ctx, event, final, serialPatches)
}

func (s *Stepper) priorSimulation() shadow.PriorSource {
	step := s.Replicate.CurrentStep() - 1
	if step < 0 {
		return nil
	}
	// The simulation entity has no GeoKey of its own; its prior snapshot
	// tracking is out of scope for Replicate (a patch/agent container), so
	// simulation-level prior.* reads are unsupported beyond the zero value
	// already enforced by a nil PriorSource (ErrNoPriorValue).
	return nil
}

func (s *Stepper) runSimulationEvent(ctx context.Context, event entity.Event, prior shadow.PriorSource) error {
	owner := s.nextOwner()
	octx, err := s.simState.StartSubstep(shadow.NewCtx(owner), event, prior)
	if err != nil {
		return errors.Wrap(err, "simulation startSubstep")
	}
	defer s.simState.EndSubstep()

	scope := shadow.CombinedScope{
		EntityScope: shadow.EntityScope{Ctx: octx, Self: s.simState, Here: nil, Meta: s.simState, Global: s.Global, Rng: s.simulationRand()},
		PriorScope:  shadow.PriorScope{Self: s.simState},
	}
	return resolveAll(octx, s.simState, scope)
}

// resolveAll iterates an entity's attribute table by index, JIT-resolving
// every slot (spec.md §4.8 step 2 "resolve_all_attributes"). An attribute
// with no handler group declared for the active substep is left
// unresolved rather than treated as a failure — most attributes only
// react to a subset of events.
func resolveAll(ctx shadow.Ctx, state *shadow.State, scope entity.Scope) error {
	n := state.Entity().AttrCount()
	for idx := 0; idx < n; idx++ {
		_, err := state.CurrentIndex(ctx, idx, scope)
		if errors.Is(err, entity.ErrNoHandler) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "resolve attribute %q", state.Entity().AttrName(idx))
		}
	}
	return nil
}

// runPatches executes update_entity(patch, event) for every live patch,
// in parallel (errgroup) unless serialPatches (spec.md §5, §9 "task pool"
// redesign flag).
func (s *Stepper) runPatches(ctx context.Context, event, final entity.Event, serialPatches bool) error {
	patches := s.Replicate.GetCurrentPatches()
	ownership := &sync.Map{}

	if serialPatches {
		for _, p := range patches {
			if err := s.updateEntity(ctx, p, event, final, ownership); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range patches {
		p := p
		g.Go(func() error {
			return s.updateEntity(gctx, p, event, final, ownership)
		})
	}
	return g.Wait()
}

// updateEntity implements spec.md §4.8's four-step per-patch substep
// execution.
func (s *Stepper) updateEntity(ctx context.Context, patch *entity.Entity, event, final entity.Event, ownership *sync.Map) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := s.patchStateFor(patch)
	owner := s.nextOwner()

	prior := s.priorFor(patch.Key)
	octx, err := st.StartSubstep(shadow.NewCtx(owner), event, prior)
	if err != nil {
		return errors.Wrapf(err, "patch %s startSubstep", patch.Key)
	}

	rng := s.patchRand(patch.Key)
	scope := shadow.CombinedScope{
		EntityScope: shadow.EntityScope{Ctx: octx, Self: st, Here: st, Meta: s.simState, Global: s.Global, Rng: rng},
		PriorScope:  shadow.PriorScope{Self: st},
	}
	if err := resolveAll(octx, st, scope); err != nil {
		st.EndSubstep()
		return errors.Wrapf(err, "patch %s", patch.Key)
	}

	if err := s.discoverAndProcessAgents(patch, st, event, octx, ownership, rng); err != nil {
		st.EndSubstep()
		return errors.Wrapf(err, "patch %s agent discovery", patch.Key)
	}

	st.EndSubstep()

	if event == final {
		fz, err := s.exportPatch(patch, st)
		if err != nil {
			return errors.Wrapf(err, "patch %s export", patch.Key)
		}
		s.frozenMu.Lock()
		s.frozen[patch.Key] = fz
		s.frozenMu.Unlock()
	}
	return nil
}

func (s *Stepper) priorFor(key entity.GeoKey) shadow.PriorSource {
	step := s.Replicate.CurrentStep() - 1
	if step < 0 {
		return nil
	}
	snap, ok := s.Replicate.Snapshot(step)
	if !ok {
		return nil
	}
	fz, ok := snap[key]
	if !ok {
		return nil
	}
	return fz
}

// exportPatch runs the optional PatchExportCallback, falling back to a
// direct freeze of the patch's resolved values and discovered agents.
func (s *Stepper) exportPatch(patch *entity.Entity, st *shadow.State) (*entity.Frozen, error) {
	if s.Export != nil {
		return s.Export(patch, s.Replicate.CurrentStep())
	}
	return s.defaultFreeze(patch, st)
}

func (s *Stepper) defaultFreeze(patch *entity.Entity, st *shadow.State) (*entity.Frozen, error) {
	children := s.frozenChildrenOf(patch, st)
	return entity.Freeze(patch, st.ResolvedValues(), children), nil
}

// frozenChildrenOf freezes every agent discovered under patch this
// substep, from the resolved values already captured on its shadow.State.
func (s *Stepper) frozenChildrenOf(patch *entity.Entity, patchState *shadow.State) []*entity.Frozen {
	var refs []*entity.Entity
	for _, v := range patchState.ResolvedValues() {
		if v == nil {
			continue
		}
		refs = append(refs, flattenEntityRefs(v)...)
	}
	out := make([]*entity.Frozen, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, a := range refs {
		if seen[a.Identifier()] {
			continue
		}
		seen[a.Identifier()] = true
		ast, _ := s.agentStateFor(a)
		out = append(out, entity.Freeze(a, ast.ResolvedValues(), s.frozenChildrenOf(a, ast)))
	}
	return out
}

// lister is the narrow contract distribution.Realized satisfies, used to
// flatten entity-valued distributions without stepper importing package
// distribution for its concrete type.
type lister interface {
	Len() int
	At(int) engineval.EngineValue
}

// flattenEntityRefs collects every entity reference nested in v, descending
// through realized distributions (spec.md §4.8 step 3 "flatten
// distributions"). Virtual distributions have no discrete contents to
// flatten and are skipped.
func flattenEntityRefs(v engineval.EngineValue) []*entity.Entity {
	switch v.Tag() {
	case engineval.TagEntityRef:
		ref, ok := v.(engineval.EntityReferenceValue)
		if !ok || ref.Ref == nil {
			return nil
		}
		e, ok := ref.Ref.(*entity.Entity)
		if !ok {
			return nil
		}
		return []*entity.Entity{e}
	case engineval.TagDistribution:
		dv, ok := v.(engineval.DistributionValue)
		if !ok {
			return nil
		}
		l, ok := dv.Dist.(lister)
		if !ok {
			return nil
		}
		var out []*entity.Entity
		for i := 0; i < l.Len(); i++ {
			out = append(out, flattenEntityRefs(l.At(i))...)
		}
		return out
	default:
		return nil
	}
}

// freezeFunc adapts the stepper's incrementally-exported patches into the
// freeze callback Replicate.SaveTimestep expects, falling back to a fresh
// default freeze for any patch with no frozen record from this step's
// final event.
func (s *Stepper) freezeFunc() func(p *entity.Entity) (*entity.Frozen, error) {
	return func(p *entity.Entity) (*entity.Frozen, error) {
		s.frozenMu.Lock()
		fz, ok := s.frozen[p.Key]
		s.frozenMu.Unlock()
		if ok {
			return fz, nil
		}
		return s.defaultFreeze(p, s.patchStateFor(p))
	}
}
