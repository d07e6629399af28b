package bridge

import (
	"context"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchmidtDSE/josh-sub003/config"
	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
	"github.com/SchmidtDSE/josh-sub003/grid"
	"github.com/SchmidtDSE/josh-sub003/replicate"
	"github.com/SchmidtDSE/josh-sub003/shadow"
	"github.com/SchmidtDSE/josh-sub003/stepper"
	"github.com/SchmidtDSE/josh-sub003/units"
)

func noUnits() units.Units { return units.CountUnits() }

func square(x, y, size float64) geom.Polygonal {
	return geom.Polygon([][]geom.Point{{
		{X: x, Y: y}, {X: x + size, Y: y}, {X: x + size, Y: y + size}, {X: x, Y: y + size}, {X: x, Y: y},
	}})
}

func newPatch(key entity.GeoKey, x, y, size float64) *entity.Entity {
	p := entity.New("patch", entity.KindPatch, square(x, y, size), key, []string{"age"})
	_ = p.SetHandlers("age", entity.EventInit, entity.HandlerGroup{
		Entries: []entity.HandlerEntry{{Fn: func(entity.Scope) (engineval.EngineValue, error) {
			return engineval.IntScalar{Value: 0, U: noUnits()}, nil
		}}},
	})
	return p
}

func newSimulation() *entity.Entity {
	return entity.New("simulation", entity.KindSimulation, nil, entity.GeoKey{}, nil)
}

func newBridge() (*CachingBridge, *replicate.Replicate) {
	r := replicate.New()
	r.AddPatch(newPatch(entity.GeoKey{GridX: 0}, 0, 0, 1))
	s := stepper.New(r, newSimulation(), nil)
	cfg := config.Static{}
	cfg.Set("steps.low", engineval.IntScalar{Value: 2020})
	b := New(s, nil, nil, cfg)
	return b, r
}

func TestStartStepAdvancesClock(t *testing.T) {
	b, r := newBridge()
	require.NoError(t, b.StartStep(context.Background()))
	assert.Equal(t, int64(1), r.CurrentStep())
}

func TestCurrentTimestepOffsetByStepsLow(t *testing.T) {
	b, _ := newBridge()
	assert.Equal(t, int64(2020), b.CurrentTimestep())
	require.NoError(t, b.StartStep(context.Background()))
	assert.Equal(t, int64(2021), b.CurrentTimestep())
}

func TestPriorTimestepBeforeFirstStepErrors(t *testing.T) {
	b, _ := newBridge()
	_, err := b.PriorTimestep()
	assert.ErrorIs(t, err, shadow.ErrNoPriorValue)
}

func TestPriorTimestepAfterFirstStep(t *testing.T) {
	b, _ := newBridge()
	require.NoError(t, b.StartStep(context.Background()))
	prior, err := b.PriorTimestep()
	require.NoError(t, err)
	assert.Equal(t, int64(2020), prior)
}

func TestIsCompleteWithoutConfiguredHighNeverCompletes(t *testing.T) {
	b, _ := newBridge()
	require.NoError(t, b.StartStep(context.Background()))
	assert.False(t, b.IsComplete())
}

func TestIsCompleteRespectsStepsHigh(t *testing.T) {
	b, _ := newBridge()
	b.Config.(config.Static).Set("steps.high", engineval.IntScalar{Value: 2020})

	assert.False(t, b.IsComplete())
	require.NoError(t, b.StartStep(context.Background()))
	assert.True(t, b.IsComplete())
}

func TestGetPatchFindsContainingCell(t *testing.T) {
	b, _ := newBridge()
	p, err := b.GetPatch(geom.Point{X: 0.5, Y: 0.5})
	require.NoError(t, err)
	assert.Equal(t, entity.GeoKey{GridX: 0}, p.Key)
}

func TestGetPriorPatchesByMomentoCachesKeysAndRehydratesValues(t *testing.T) {
	b, _ := newBridge()
	require.NoError(t, b.StartStep(context.Background()))

	m := replicate.Momento{Shape: replicate.MomentoShapeRectangle, CenterX: 0.5, CenterY: 0.5, Diameter: 2}
	first, err := b.GetPriorPatchesByMomento(m)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, b.StartStep(context.Background()))
	second, err := b.GetPriorPatchesByMomento(m)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Key(), second[0].Key())
}

func TestGetExternalLoadsLazilyThenCaches(t *testing.T) {
	r := replicate.New()
	r.AddPatch(newPatch(entity.GeoKey{GridX: 0}, 0, 0, 1))
	s := stepper.New(r, newSimulation(), nil)

	calls := 0
	layer := grid.NewDense(noUnits(), entity.GeoKey{})
	layer.Set(entity.GeoKey{GridX: 0}, 0, 7)
	ext := fakeExternal{fn: func(name string) (grid.DataGridLayer, error) {
		calls++
		return layer, nil
	}}
	b := New(s, nil, ext, nil)

	v, err := b.GetExternal(entity.GeoKey{GridX: 0}, "wind", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.(engineval.DecimalScalar).Value.IntPart())

	_, err = b.GetExternal(entity.GeoKey{GridX: 0}, "wind", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetExternalUnknownResourceErrors(t *testing.T) {
	r := replicate.New()
	s := stepper.New(r, newSimulation(), nil)
	b := New(s, nil, nil, nil)

	_, err := b.GetExternal(entity.GeoKey{}, "missing", 0)
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestGetPrototypeUnknownErrors(t *testing.T) {
	b, _ := newBridge()
	_, err := b.GetPrototype("tree")
	assert.ErrorIs(t, err, ErrUnknownPrototype)
}

func TestRegisterAndGetPrototype(t *testing.T) {
	b, _ := newBridge()
	proto := &replicate.Prototype{Identifier: "tree", Kind: entity.KindAgent}
	b.RegisterPrototype("tree", proto)

	got, err := b.GetPrototype("tree")
	require.NoError(t, err)
	assert.Same(t, proto, got)
}

type fakeExternal struct {
	fn func(name string) (grid.DataGridLayer, error)
}

func (f fakeExternal) Get(name string) (grid.DataGridLayer, error) { return f.fn(name) }
