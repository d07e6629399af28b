// Package shadow implements the shadowing record of spec.md §4.6: the
// mediator between a live entity and every attribute read/write during a
// substep, including JIT handler resolution, cycle detection, and the
// prior/current separation tested by spec.md §8 Property #4.
package shadow

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
)

// Sentinel errors (spec.md §7).
var (
	ErrResolutionCycle  = errors.New("shadow: resolution cycle detected")
	ErrNoPriorValue     = errors.New("shadow: no prior value for this attribute")
	ErrSubstepViolation = errors.New("shadow: substep already active or not active")
)

// PriorSource is the read-only prior-snapshot view a State consults for
// prior.* lookups (spec.md §4.6). entity.Frozen satisfies it.
type PriorSource interface {
	AttributeValueByIndex(idx int) (engineval.EngineValue, error)
}

// Ctx identifies the caller resolving attributes on a State, and whether
// that resolution should bypass cycle detection. Go has neither a
// re-entrant sync.Mutex nor portable goroutine-local storage, so instead of
// a package-global "current thread" notion (ruled out by §9's
// mutable-global-state redesign flag), the stepper assigns a stable owner
// id per concurrent resolver (one per goroutine working a patch, or a
// nested id for an agent resolved within it) and passes it into every
// Current/Write call. The actual per-thread resolution stack (spec.md
// §4.6) lives on State itself, keyed by owner, since a Scope's nested
// lookups re-enter State.CurrentIndex directly rather than threading a
// stack value back out through the narrow Scope interface.
type Ctx struct {
	owner       uint64
	bypassCycle bool
}

// NewCtx starts a resolution context for owner (typically a stable
// per-goroutine or per-task id assigned by the stepper; it need not be a
// real OS thread id, only unique per concurrent resolver).
func NewCtx(owner uint64) Ctx {
	return Ctx{owner: owner}
}

// Meta returns a copy of ctx with the cycle-bypass escape hatch enabled,
// for the documented meta.* access pattern (spec.md §4.6).
func (c Ctx) Meta() Ctx {
	c.bypassCycle = true
	return c
}

// State is the shadowing record for one live entity across one substep
// (spec.md §3, §4.6). It is safe for concurrent use: lockedBy implements
// the "re-entrant on the same thread" rule via Ctx.owner comparison rather
// than a platform thread id.
type State struct {
	mu sync.Mutex

	inner       *entity.Entity
	values      []engineval.EngineValue
	resolved    []bool
	substep     *entity.Event
	priorSource PriorSource

	lockedBy   uint64
	lockHeld   bool
	resolvedMu sync.Mutex

	stackMu  sync.Mutex
	stacks   map[uint64][]int
}

// NewState wraps e in a fresh shadowing record with no active substep.
func NewState(e *entity.Entity) *State {
	n := e.AttrCount()
	return &State{
		inner:    e,
		values:   make([]engineval.EngineValue, n),
		resolved: make([]bool, n),
		stacks:   make(map[uint64][]int),
	}
}

// Entity returns the wrapped live entity.
func (s *State) Entity() *entity.Entity { return s.inner }

// StartSubstep begins a substep, acquiring the entity lock for ctx.owner
// and installing prior as the source for prior.* reads. It fails with
// ErrSubstepViolation if a substep is already active.
func (s *State) StartSubstep(ctx Ctx, event entity.Event, prior PriorSource) (Ctx, error) {
	s.mu.Lock()
	if s.lockHeld {
		s.mu.Unlock()
		return ctx, ErrSubstepViolation
	}
	s.lockHeld = true
	s.lockedBy = ctx.owner
	ev := event
	s.substep = &ev
	s.priorSource = prior
	s.mu.Unlock()

	s.resolvedMu.Lock()
	for i := range s.resolved {
		s.resolved[i] = false
	}
	s.resolvedMu.Unlock()
	return NewCtx(ctx.owner), nil
}

// EndSubstep releases the lock and clears resolution state, per spec.md
// §3's "ending clears resolved and releases the lock."
func (s *State) EndSubstep() {
	s.mu.Lock()
	s.lockHeld = false
	s.substep = nil
	s.priorSource = nil
	s.mu.Unlock()

	s.resolvedMu.Lock()
	for i := range s.resolved {
		s.resolved[i] = false
	}
	s.resolvedMu.Unlock()
}

// ActiveSubstep reports the currently active event, if any.
func (s *State) ActiveSubstep() (entity.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.substep == nil {
		return "", false
	}
	return *s.substep, true
}

func (s *State) ownedBy(owner uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockHeld && s.lockedBy == owner
}

// Current implements current.x: return the resolved value if present, else
// JIT-resolve by selecting and running the attribute's handler for the
// active substep, memoizing the result (spec.md §4.6).
func (s *State) Current(ctx Ctx, attr string, scope entity.Scope) (engineval.EngineValue, error) {
	idx, ok := s.inner.AttrIndex(attr)
	if !ok {
		return nil, errors.Wrapf(entity.ErrUnknownAttr, "%s", attr)
	}
	return s.CurrentIndex(ctx, idx, scope)
}

// CurrentIndex is Current addressed by attribute index, used by the
// stepper's resolve_all_attributes loop (spec.md §4.8 step 2) which
// iterates by index rather than by name.
func (s *State) CurrentIndex(ctx Ctx, idx int, scope entity.Scope) (engineval.EngineValue, error) {
	if !s.ownedBy(ctx.owner) {
		return nil, ErrSubstepViolation
	}

	s.resolvedMu.Lock()
	if s.resolved[idx] {
		v := s.values[idx]
		s.resolvedMu.Unlock()
		return v, nil
	}
	s.resolvedMu.Unlock()

	if err := s.pushResolving(ctx, idx); err != nil {
		return nil, err
	}
	defer s.popResolving(ctx, idx)

	substep, ok := s.ActiveSubstep()
	if !ok {
		return nil, ErrSubstepViolation
	}
	fn, err := s.inner.SelectHandler(idx, substep, scope)
	if err != nil {
		return nil, err
	}
	v, err := fn(scope)
	if err != nil {
		return nil, err
	}

	s.resolvedMu.Lock()
	s.values[idx] = v
	s.resolved[idx] = true
	s.resolvedMu.Unlock()
	return v, nil
}

// pushResolving records idx as being resolved by ctx.owner, failing with
// ErrResolutionCycle if idx is already on that owner's stack (unless ctx
// bypasses cycle checks, the documented meta.* escape hatch).
func (s *State) pushResolving(ctx Ctx, idx int) error {
	s.stackMu.Lock()
	defer s.stackMu.Unlock()
	stack := s.stacks[ctx.owner]
	if !ctx.bypassCycle {
		for _, seen := range stack {
			if seen == idx {
				return errors.Wrapf(ErrResolutionCycle, "attribute index %d", idx)
			}
		}
	}
	s.stacks[ctx.owner] = append(stack, idx)
	return nil
}

func (s *State) popResolving(ctx Ctx, idx int) {
	s.stackMu.Lock()
	defer s.stackMu.Unlock()
	stack := s.stacks[ctx.owner]
	if n := len(stack); n > 0 && stack[n-1] == idx {
		s.stacks[ctx.owner] = stack[:n-1]
	}
}

// WriteIndex implements an explicit write: only legal inside an active
// substep owned by ctx; marks the attribute resolved (spec.md §4.6).
func (s *State) WriteIndex(ctx Ctx, idx int, v engineval.EngineValue) error {
	if !s.ownedBy(ctx.owner) {
		return ErrSubstepViolation
	}
	s.resolvedMu.Lock()
	s.values[idx] = v
	s.resolved[idx] = true
	s.resolvedMu.Unlock()
	return nil
}

// PriorIndex implements prior.x: the value from the prior snapshot, or
// ErrNoPriorValue if it never existed there (including at the first step).
func (s *State) PriorIndex(idx int) (engineval.EngineValue, error) {
	s.mu.Lock()
	prior := s.priorSource
	s.mu.Unlock()
	if prior == nil {
		return nil, ErrNoPriorValue
	}
	v, err := prior.AttributeValueByIndex(idx)
	if err != nil {
		return nil, errors.Wrap(ErrNoPriorValue, err.Error())
	}
	return v, nil
}

// ResolvedValues returns a snapshot of the resolved attribute slots, used
// by the stepper to build a Frozen record at freeze time. Unresolved slots
// are nil.
func (s *State) ResolvedValues() []engineval.EngineValue {
	s.resolvedMu.Lock()
	defer s.resolvedMu.Unlock()
	return append([]engineval.EngineValue(nil), s.values...)
}
