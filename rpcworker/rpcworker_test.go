package rpcworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/entity"
	"github.com/SchmidtDSE/josh-sub003/replicate"
	"github.com/SchmidtDSE/josh-sub003/stepper"
	"github.com/SchmidtDSE/josh-sub003/units"
)

func noUnits() units.Units { return units.CountUnits() }

func newPatch(key entity.GeoKey) *entity.Entity {
	p := entity.New("patch", entity.KindPatch, nil, key, []string{"age"})
	_ = p.SetHandlers("age", entity.EventInit, entity.HandlerGroup{
		Entries: []entity.HandlerEntry{{Fn: func(entity.Scope) (engineval.EngineValue, error) {
			return engineval.IntScalar{Value: 0, U: noUnits()}, nil
		}}},
	})
	return p
}

func TestPerformStepAdvancesClock(t *testing.T) {
	r := replicate.New()
	r.AddPatch(newPatch(entity.GeoKey{GridX: 0}))
	sim := entity.New("simulation", entity.KindSimulation, nil, entity.GeoKey{}, nil)
	s := stepper.New(r, sim, nil)

	w := NewWorker(s)
	var reply StepReply
	require.NoError(t, w.PerformStep(&StepRequest{SerialPatches: true}, &reply))
	assert.Equal(t, int64(1), reply.AbsoluteTimestep)
}

func TestPerformStepSequentialCallsAdvanceEachTimestep(t *testing.T) {
	r := replicate.New()
	r.AddPatch(newPatch(entity.GeoKey{GridX: 0}))
	sim := entity.New("simulation", entity.KindSimulation, nil, entity.GeoKey{}, nil)
	s := stepper.New(r, sim, nil)

	w := NewWorker(s)
	var reply StepReply
	require.NoError(t, w.PerformStep(&StepRequest{SerialPatches: true}, &reply))

	// A second call after the first succeeds should simply run the next
	// timestep, not error.
	require.NoError(t, w.PerformStep(&StepRequest{SerialPatches: true}, &reply))
	assert.Equal(t, int64(2), reply.AbsoluteTimestep)
}
