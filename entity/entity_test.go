package entity

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/units"
)

type constScope struct{}

func (constScope) Lookup(name string) (engineval.EngineValue, error) {
	return nil, errors.New("unused")
}

func newTestEntity() *Entity {
	return New("tree", KindAgent, nil, GeoKey{}, []string{"age", "height"})
}

func TestAttrIndexRoundtrip(t *testing.T) {
	e := newTestEntity()
	idx, ok := e.AttrIndex("height")
	require.True(t, ok)
	assert.Equal(t, "height", e.AttrName(idx))
}

func TestSetHandlersUnknownAttrErrors(t *testing.T) {
	e := newTestEntity()
	err := e.SetHandlers("nope", EventInit, HandlerGroup{})
	assert.Error(t, err)
}

func TestSelectHandlerNoGroupForEvent(t *testing.T) {
	e := newTestEntity()
	idx, _ := e.AttrIndex("age")
	require.NoError(t, e.SetHandlers("age", EventInit, HandlerGroup{
		Entries: []HandlerEntry{{Fn: func(Scope) (engineval.EngineValue, error) {
			return engineval.IntScalar{Value: 0, U: units.CountUnits()}, nil
		}}},
	}))
	_, err := e.SelectHandler(idx, EventStep, constScope{})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestSelectHandlerUnconditionalWins(t *testing.T) {
	e := newTestEntity()
	idx, _ := e.AttrIndex("age")
	require.NoError(t, e.SetHandlers("age", EventInit, HandlerGroup{
		Entries: []HandlerEntry{{Fn: func(Scope) (engineval.EngineValue, error) {
			return engineval.IntScalar{Value: 7, U: units.CountUnits()}, nil
		}}},
	}))
	fn, err := e.SelectHandler(idx, EventInit, constScope{})
	require.NoError(t, err)
	v, err := fn(constScope{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.(engineval.IntScalar).Value)
}

func TestSelectHandlerFirstTruthySelectorWins(t *testing.T) {
	e := newTestEntity()
	idx, _ := e.AttrIndex("age")
	falseSelector := func(Scope) (bool, error) { return false, nil }
	trueSelector := func(Scope) (bool, error) { return true, nil }
	require.NoError(t, e.SetHandlers("age", EventStep, HandlerGroup{
		Entries: []HandlerEntry{
			{Selector: falseSelector, Fn: func(Scope) (engineval.EngineValue, error) {
				return engineval.IntScalar{Value: 1, U: units.CountUnits()}, nil
			}},
			{Selector: trueSelector, Fn: func(Scope) (engineval.EngineValue, error) {
				return engineval.IntScalar{Value: 2, U: units.CountUnits()}, nil
			}},
			{Fn: func(Scope) (engineval.EngineValue, error) {
				return engineval.IntScalar{Value: 3, U: units.CountUnits()}, nil
			}},
		},
	}))
	fn, err := e.SelectHandler(idx, EventStep, constScope{})
	require.NoError(t, err)
	v, err := fn(constScope{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.(engineval.IntScalar).Value)
}

func TestHasEvent(t *testing.T) {
	e := newTestEntity()
	require.NoError(t, e.SetHandlers("age", EventStep, HandlerGroup{}))
	assert.True(t, e.HasEvent(EventStep))
	assert.False(t, e.HasEvent(EventEnd))
}

type fakeBuilder struct{ n int }

func (b *fakeBuilder) Build(parent *Entity) (*Entity, error) {
	b.n++
	return New("sapling", KindAgent, nil, GeoKey{}, []string{"age"}), nil
}

func TestCreateNReturnsDistributionOfDistinctEntities(t *testing.T) {
	b := &fakeBuilder{}
	u := units.CountUnits()
	wrap := func(vals []engineval.EngineValue, u units.Units) engineval.Distribution {
		return fakeDist{vals: vals, u: u}
	}
	v, err := CreateN(3, b, nil, u, wrap)
	require.NoError(t, err)
	dv := v.(engineval.DistributionValue)
	fd := dv.Dist.(fakeDist)
	assert.Len(t, fd.vals, 3)
	ids := map[string]bool{}
	for _, val := range fd.vals {
		ref := val.(engineval.EntityReferenceValue).Ref
		ids[ref.Identifier()] = true
	}
	assert.Len(t, ids, 3)
}

type fakeDist struct {
	vals []engineval.EngineValue
	u    units.Units
}

func (f fakeDist) Tag() engineval.Tag { return engineval.TagDistribution }
func (f fakeDist) Units() units.Units { return f.u }
func (f fakeDist) String() string     { return "fakeDist" }
func (f fakeDist) SampleOnce() (engineval.EngineValue, error) {
	if len(f.vals) == 0 {
		return nil, errors.New("empty")
	}
	return f.vals[0], nil
}

func TestFreezeIdempotent(t *testing.T) {
	e := newTestEntity()
	vals := []engineval.EngineValue{engineval.IntScalar{Value: 1, U: units.CountUnits()}}
	fz := Freeze(e, vals, nil)
	assert.Equal(t, fz, fz.Freeze())
}

func TestFrozenAttributeValueByName(t *testing.T) {
	e := newTestEntity()
	vals := []engineval.EngineValue{
		engineval.IntScalar{Value: 2, U: units.CountUnits()},
		engineval.IntScalar{Value: 5, U: units.CountUnits()},
	}
	fz := Freeze(e, vals, nil)
	v, err := fz.AttributeValueByName("height")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.(engineval.IntScalar).Value)

	_, err = fz.AttributeValueByName("nope")
	assert.ErrorIs(t, err, ErrAttributeNotFound)
}
