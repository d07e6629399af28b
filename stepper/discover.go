package stepper

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/entity"
	"github.com/SchmidtDSE/josh-sub003/shadow"
)

// discoverAndProcessAgents implements spec.md §4.8 step 3: collect every
// entity-valued attribute's contents from patch's just-resolved values,
// deduplicate by sequence id, and drive each newly-claimed agent through
// its own startSubstep -> resolve_all_attributes -> recurse -> endSubstep
// cycle. ownership is the cross-thread claim map (one sync.Map per
// substep, shared by every patch goroutine this call — spec.md §9's
// "atomic hash set of sequence-ids" redesign flag).
//
// Recursion is an explicit work stack, not Go call-stack recursion (§9
// "explicit work stack" redesign flag). Agents whose claim finds them
// already owned by this same patch's processing (created mid-handler,
// already mid-resolution) are pushed to a deferred queue and have only
// their attributes resolved at the end of the scan, replacing the
// source's ad hoc already-has-a-substep skip (§9 Open Question). rng is
// patch's own deterministic sub-stream (spec.md §4.4/§9); every agent
// nested under this patch draws from that same stream rather than one
// derived per agent, since agent sequence ids are assigned at creation
// time and are not themselves reproducible across runs.
func (s *Stepper) discoverAndProcessAgents(patch *entity.Entity, patchState *shadow.State, event entity.Event, ctx shadow.Ctx, ownership *sync.Map, rng *rand.Rand) error {
	seen := make(map[string]bool)
	var stack []*entity.Entity
	for _, v := range patchState.ResolvedValues() {
		if v == nil {
			continue
		}
		for _, a := range flattenEntityRefs(v) {
			if seen[a.Identifier()] {
				continue
			}
			seen[a.Identifier()] = true
			stack = append(stack, a)
		}
	}

	var deferred []*entity.Entity

	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		owner, loaded := ownership.LoadOrStore(a.Identifier(), ctx.owner)
		if loaded {
			if owner.(uint64) == ctx.owner {
				deferred = append(deferred, a)
			}
			// Owned by a different patch/thread this substep: losers skip
			// silently (spec.md §4.8 "Ownership map invariants").
			continue
		}

		children, err := s.processAgent(a, patch, event, ctx, rng)
		if err != nil {
			return err
		}
		for _, c := range children {
			if seen[c.Identifier()] {
				continue
			}
			seen[c.Identifier()] = true
			stack = append(stack, c)
		}
	}

	for _, a := range deferred {
		ast, _ := s.agentStateFor(a)
		scope := shadow.CombinedScope{
			EntityScope: shadow.EntityScope{Ctx: ctx, Self: ast, Here: patchState, Meta: s.simState, Global: s.Global, Rng: rng},
			PriorScope:  shadow.PriorScope{Self: ast},
		}
		if err := resolveAll(ctx, ast, scope); err != nil {
			return errors.Wrapf(err, "deferred agent %s", a.Identifier())
		}
	}
	return nil
}

// processAgent runs one newly-claimed agent's own substep (start ->
// resolve -> endSubstep) and returns the entity-valued contents of its
// own attributes, to be pushed onto the caller's work stack for nested
// discovery.
//
// An agent discovered for the very first time (isNew) never went through
// the absolute-timestep-0 init prelude that patches get (spec.md §4.8 step
// 1) — it did not exist yet. Since resolveAll treats a missing handler for
// the active event as "skip" rather than fatal, an init-only attribute on
// a freshly created agent would otherwise never resolve. So a newly
// discovered agent runs its own EventInit substep here, in the same patch
// substep its creator is executing (spec.md §8 scenario "new agents have
// their init handlers resolved in the same step substep the creator is
// executing"), before running the substep it was actually discovered in.
func (s *Stepper) processAgent(a *entity.Entity, parentPatch *entity.Entity, event entity.Event, ctx shadow.Ctx, rng *rand.Rand) ([]*entity.Entity, error) {
	ast, isNew := s.agentStateFor(a)
	patchState := s.patchStateFor(parentPatch)

	if isNew && event != entity.EventInit {
		if err := s.runAgentSubstep(a, ast, patchState, entity.EventInit, ctx, rng); err != nil {
			return nil, errors.Wrapf(err, "agent %s init", a.Identifier())
		}
	}

	if err := s.runAgentSubstep(a, ast, patchState, event, ctx, rng); err != nil {
		return nil, err
	}

	var children []*entity.Entity
	for _, v := range ast.ResolvedValues() {
		if v == nil {
			continue
		}
		children = append(children, flattenEntityRefs(v)...)
	}
	return children, nil
}

// runAgentSubstep drives one agent through a single startSubstep ->
// resolve_all_attributes -> endSubstep cycle for event.
func (s *Stepper) runAgentSubstep(a *entity.Entity, ast *shadow.State, patchState *shadow.State, event entity.Event, ctx shadow.Ctx, rng *rand.Rand) error {
	prior := s.priorAgent(a)
	_, err := ast.StartSubstep(ctx, event, prior)
	if err != nil {
		return errors.Wrapf(err, "agent %s startSubstep", a.Identifier())
	}
	defer ast.EndSubstep()

	scope := shadow.CombinedScope{
		EntityScope: shadow.EntityScope{Ctx: ctx, Self: ast, Here: patchState, Meta: s.simState, Global: s.Global, Rng: rng},
		PriorScope:  shadow.PriorScope{Self: ast},
	}
	if err := resolveAll(ctx, ast, scope); err != nil {
		return errors.Wrapf(err, "agent %s", a.Identifier())
	}
	return nil
}

// priorAgent looks up an agent's prior snapshot by scanning every frozen
// patch's children for a matching id. Agents are not addressed directly
// in the snapshot map (only patches are, by GeoKey), so this is a linear
// scan bounded by the prior step's patch count, acceptable since prior
// lookups only happen once per agent per substep.
func (s *Stepper) priorAgent(a *entity.Entity) shadow.PriorSource {
	step := s.Replicate.CurrentStep() - 1
	if step < 0 {
		return nil
	}
	snap, ok := s.Replicate.Snapshot(step)
	if !ok {
		return nil
	}
	for _, fz := range snap {
		if found := findChild(fz, a.Identifier()); found != nil {
			return found
		}
	}
	return nil
}

func findChild(fz *entity.Frozen, id string) *entity.Frozen {
	if fz.Identifier() == id {
		return fz
	}
	for _, c := range fz.Children() {
		if found := findChild(c, id); found != nil {
			return found
		}
	}
	return nil
}
