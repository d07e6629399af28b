package entity

import (
	"github.com/ctessum/geom"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/engineval"
)

// ErrAttributeNotFound is returned by Frozen.AttributeValueByName for an
// unknown name and by Frozen.AttributeValueByIndex for an out-of-range index.
var ErrAttributeNotFound = errors.New("entity: attribute not found on frozen snapshot")

// Frozen is the one-way, read-only projection of a live entity's resolved
// attribute values (spec.md §3 "Freezing is a one-way projection"). It
// backs prior-snapshot queries and the export stream (spec.md §6).
type Frozen struct {
	id       uuid.UUID
	name     string
	kind     Kind
	geometry geom.Polygonal
	key      GeoKey
	attrs    *attrTable
	values   []engineval.EngineValue
	children []*Frozen
}

// Freeze projects a live entity's currently-resolved attribute values
// (indexed the same way as e's attribute table) into an immutable Frozen
// record, together with its already-frozen children (nested agents).
func Freeze(e *Entity, values []engineval.EngineValue, children []*Frozen) *Frozen {
	return &Frozen{
		id:       e.ID,
		name:     e.Name,
		kind:     e.Kind,
		geometry: e.Geometry,
		key:      e.Key,
		attrs:    e.attrs,
		values:   append([]engineval.EngineValue(nil), values...),
		children: append([]*Frozen(nil), children...),
	}
}

// Freeze on an already-frozen entity is a no-op identity projection,
// satisfying spec.md §8 Property #7 (freeze(freeze(e)) == freeze(e)): a
// Frozen record has no further mutable state to re-project.
func (f *Frozen) Freeze() *Frozen { return f }

func (f *Frozen) Identifier() string { return f.id.String() }
func (f *Frozen) Name() string       { return f.name }
func (f *Frozen) EntityType() Kind   { return f.kind }
func (f *Frozen) Geometry() geom.Polygonal { return f.geometry }
func (f *Frozen) Key() GeoKey        { return f.key }
func (f *Frozen) Children() []*Frozen {
	return append([]*Frozen(nil), f.children...)
}

// AttributeValueByName and AttributeValueByIndex resolve a name or an
// integer index to the frozen value (spec.md §6 "getAttributeValue(name|index)").
func (f *Frozen) AttributeValueByName(name string) (engineval.EngineValue, error) {
	idx, ok := f.attrs.Index(name)
	if !ok {
		return nil, errors.Wrapf(ErrAttributeNotFound, "%s", name)
	}
	return f.AttributeValueByIndex(idx)
}

func (f *Frozen) AttributeValueByIndex(idx int) (engineval.EngineValue, error) {
	if idx < 0 || idx >= len(f.values) {
		return nil, errors.Wrapf(ErrAttributeNotFound, "index %d", idx)
	}
	return f.values[idx], nil
}
