// Package entity implements the Entity and handler-resolution machinery of
// spec.md §4.5: attributes addressed by stable index, grouped handlers
// selected by event and compiled selector, and the ordered name-lookup
// scope handlers evaluate in.
package entity

import (
	"github.com/ctessum/geom"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/units"
)

// Sentinel errors.
var (
	ErrNoHandler    = errors.New("entity: no handler group for this (attribute, event)")
	ErrUnknownAttr  = errors.New("entity: unknown attribute name")
	ErrNilBuilder   = errors.New("entity: nil builder")
)

// Scope is the ordered name lookup handlers evaluate in: local attributes,
// then synthetic names (here/meta/prior/current), then global constants
// (spec.md §4.5). Defined here rather than implemented here so package
// shadow (which needs live resolution state) can satisfy it without entity
// importing shadow.
type Scope interface {
	Lookup(name string) (engineval.EngineValue, error)
}

// CompiledSelector is a handler guard: DSL-level boolean expressions are
// compiled elsewhere into this shape. A nil selector marks an unconditional
// entry.
type CompiledSelector func(Scope) (bool, error)

// HandlerFunc computes an attribute's value for one substep evaluation.
type HandlerFunc func(Scope) (engineval.EngineValue, error)

// HandlerEntry pairs an optional selector with the handler it guards.
type HandlerEntry struct {
	Selector CompiledSelector
	Fn       HandlerFunc
}

// HandlerGroup is the ordered list of candidate handlers for one
// (attribute, event) pair; the first truthy (or unconditional) entry wins
// (spec.md §4.5 step 3).
type HandlerGroup struct {
	Entries []HandlerEntry
}

// Builder constructs a new Entity from a parent, implemented by
// replicate.Prototype. Defined here (not imported from replicate) so
// CreateN can live in package entity without entity depending on replicate,
// which already depends on entity.
type Builder interface {
	Build(parent *Entity) (*Entity, error)
}

// Entity is a live or template record: name, kind, optional geographic
// footprint, attribute table, and per-attribute handler groups keyed by
// event. Live attribute *values* are not stored here — they live in the
// shadowing record (package shadow) that wraps an Entity during a substep.
type Entity struct {
	ID       uuid.UUID
	Name     string
	Kind     Kind
	Geometry geom.Polygonal
	Key      GeoKey

	attrs    *attrTable
	handlers []map[Event]HandlerGroup
}

// New builds a template Entity with the given attribute names fixed for
// its lifetime. Geometry may be nil for non-spatial entities (simulation,
// agents addressed only via their parent patch).
func New(name string, kind Kind, geometry geom.Polygonal, key GeoKey, attrNames []string) *Entity {
	return &Entity{
		ID:       uuid.New(),
		Name:     name,
		Kind:     kind,
		Geometry: geometry,
		Key:      key,
		attrs:    newAttrTable(attrNames),
		handlers: make([]map[Event]HandlerGroup, len(attrNames)),
	}
}

// Identifier implements engineval.EntityHandle.
func (e *Entity) Identifier() string { return e.ID.String() }

// Bounds implements the rtree.Comparable contract the teacher's Cell type
// satisfies by embedding geom.Polygonal directly; Entity composes instead
// of embeds (Geometry is optional and nil for non-spatial entities), so
// Bounds is forwarded explicitly.
func (e *Entity) Bounds() *geom.Bounds {
	if e.Geometry == nil {
		return nil
	}
	return e.Geometry.Bounds()
}

func (e *Entity) AttrIndex(name string) (int, bool) { return e.attrs.Index(name) }
func (e *Entity) AttrName(idx int) string           { return e.attrs.Name(idx) }
func (e *Entity) AttrCount() int                    { return e.attrs.Len() }

// SetHandlers registers the handler group for (attr, event), overwriting
// any group previously registered for the same pair.
func (e *Entity) SetHandlers(attr string, event Event, group HandlerGroup) error {
	idx, ok := e.attrs.Index(attr)
	if !ok {
		return errors.Wrapf(ErrUnknownAttr, "%s", attr)
	}
	if e.handlers[idx] == nil {
		e.handlers[idx] = make(map[Event]HandlerGroup)
	}
	e.handlers[idx][event] = group
	return nil
}

// SelectHandler implements the event-selection and in-group selector
// evaluation of spec.md §4.5: if substep is EventConstant only the
// constant group participates; otherwise only the substep's own event
// group is considered (no fallback to constant). Within the chosen group,
// the first entry whose selector is nil or evaluates truthy wins.
func (e *Entity) SelectHandler(attrIdx int, substep Event, scope Scope) (HandlerFunc, error) {
	if attrIdx < 0 || attrIdx >= len(e.handlers) {
		return nil, errors.Wrapf(ErrUnknownAttr, "index %d", attrIdx)
	}
	groups := e.handlers[attrIdx]
	if groups == nil {
		return nil, ErrNoHandler
	}
	group, ok := groups[substep]
	if !ok {
		return nil, ErrNoHandler
	}
	for _, entry := range group.Entries {
		if entry.Selector == nil {
			return entry.Fn, nil
		}
		truthy, err := entry.Selector(scope)
		if err != nil {
			return nil, err
		}
		if truthy {
			return entry.Fn, nil
		}
	}
	return nil, ErrNoHandler
}

// HasEvent reports whether any attribute on this entity declares a handler
// for the given event, used by the stepper to decide which of
// [start, step, end] actually run (spec.md §4.8 step 3).
func (e *Entity) HasEvent(event Event) bool {
	for _, groups := range e.handlers {
		if groups == nil {
			continue
		}
		if _, ok := groups[event]; ok {
			return true
		}
	}
	return false
}

// CreateN implements the spec.md §4.5 creation operator: build n entities
// from b, wrap them as a distribution-valued EngineValue. wrap is supplied
// by the caller (typically distribution.NewRealized) so entity need not
// import package distribution.
func CreateN(n int, b Builder, parent *Entity, u units.Units, wrap func([]engineval.EngineValue, units.Units) engineval.Distribution) (engineval.EngineValue, error) {
	if b == nil {
		return nil, ErrNilBuilder
	}
	vals := make([]engineval.EngineValue, n)
	for i := 0; i < n; i++ {
		built, err := b.Build(parent)
		if err != nil {
			return nil, errors.Wrapf(err, "create entity %d/%d", i+1, n)
		}
		vals[i] = engineval.EntityReferenceValue{Ref: built}
	}
	return engineval.DistributionValue{Dist: wrap(vals, u)}, nil
}
