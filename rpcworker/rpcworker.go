// Package rpcworker is a minimal net/rpc façade over a Stepper, letting a
// simulation's absolute-timestep loop be driven from a separate process
// (SPEC_FULL.md §11 "Distributed worker façade"). It is not the "web
// server mode" spec.md §1 excludes — there is no DSL, no multi-simulation
// registry, and no HTTP surface beyond the RPC transport itself; it is the
// single building block a distributed placement layer (also out of scope)
// would compose with.
package rpcworker

import (
	"context"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/SchmidtDSE/josh-sub003/stepper"
)

// RPCPort is the default port a Worker listens on, matching the teacher's
// sr.RPCPort default.
var RPCPort = "6060"

// Empty is used for content-less RPC calls, carried over from the
// teacher's sr.Empty.
type Empty struct{}

// StepRequest is the input to Worker.PerformStep.
type StepRequest struct {
	SerialPatches bool
}

// StepReply is the output of Worker.PerformStep.
type StepReply struct {
	AbsoluteTimestep int64
}

// Worker performs one Stepper.Perform call per RPC request against a
// locally held Stepper/Replicate. It should not be interacted with
// directly outside of rpc.Call, but its methods are exported to meet
// net/rpc's requirements, the same constraint the teacher's sr.Worker
// documents for its own Calculate method.
type Worker struct {
	Stepper *stepper.Stepper

	mu sync.Mutex
}

// NewWorker wraps an already-constructed Stepper for RPC dispatch.
func NewWorker(s *stepper.Stepper) *Worker {
	return &Worker{Stepper: s}
}

// PerformStep runs one absolute timestep, meeting net/rpc's
// func(*T, *U) error method shape the way the teacher's Worker.Calculate
// does. Calls are serialized against this Worker's own mutex: Stepper
// already rejects re-entrant Perform calls, but holding the lock here
// turns a racing second RPC request into a queued one instead of an
// ErrStepAlreadyActive error.
func (w *Worker) PerformStep(req *StepRequest, reply *StepReply) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.Stepper.Perform(context.Background(), req.SerialPatches); err != nil {
		return errors.Wrap(err, "rpcworker: perform step")
	}
	reply.AbsoluteTimestep = w.Stepper.Replicate.CurrentStep()
	return nil
}

// Exit shuts down the worker process, carried over from the teacher's
// sr.Worker.Exit.
func (w *Worker) Exit(in, out *Empty) error {
	os.Exit(0)
	return nil
}

// Listen directs w to start listening for requests over port, mirroring
// the teacher's sr.Worker.Listen (rpc.Register + HandleHTTP + a plain
// net.Listen/http.Serve loop).
func (w *Worker) Listen(port string) error {
	if err := rpc.Register(w); err != nil {
		return errors.Wrap(err, "rpcworker: register")
	}
	rpc.HandleHTTP()
	l, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return errors.Wrap(err, "rpcworker: listen")
	}
	return http.Serve(l, nil)
}
