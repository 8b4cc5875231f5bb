// Package anyrnn implements the recurrent cells used by
// the speech encoders and decoders.
//
// Cells are Blocks: they are stepped over packed sequence
// batches by Map, and support sequences that terminate at
// different timesteps through PresentMaps.
package anyrnn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A PresentMap indicates which sequences of a batch are
// still running.
// A true value indicates present.
type PresentMap []bool

// NumPresent counts the present sequences.
func (p PresentMap) NumPresent() int {
	var i int
	for _, x := range p {
		if x {
			i++
		}
	}
	return i
}

// A State stores a batch of internal Block states.
//
// Only sequences which have not terminated are stored.
// As sequences end, the state is shrunk with Reduce.
type State interface {
	Present() PresentMap

	// Reduce creates a copy of the State with a new
	// PresentMap.
	// The new PresentMap must be a subset of Present().
	Reduce(PresentMap) State
}

// A StateGrad is an upstream gradient for a State.
type StateGrad interface {
	Present() PresentMap

	// Expand inserts zero gradients so that the result
	// covers every sequence in the PresentMap.
	// It is the inverse of State.Reduce().
	Expand(PresentMap) StateGrad
}

// A Block is a differentiable unit in an RNN.
// It receives an input/state batch and produces a batch
// of outputs and new states.
type Block interface {
	// Start produces the start state with a batch size of n.
	Start(n int) State

	// PropagateStart back-propagates through the start
	// state.
	PropagateStart(s StateGrad, g anydiff.Grad)

	// Step applies the block for a single timestep.
	Step(s State, in anyvec.Vector) Res
}

// A Res is the output of a Block for one timestep.
type Res interface {
	State() State
	Output() anyvec.Vector

	// Vars returns the variables upon which the output
	// depends, including variables from previous states.
	Vars() anydiff.VarSet

	// Propagate propagates the gradient for one timestep.
	// It takes an upstream vector u for the output and an
	// upstream StateGrad s for the output state (nil means
	// zero), adding partials to g.
	//
	// It returns a downstream vector for the input and a
	// StateGrad for the previous timestep.
	// Both u and s may be modified.
	Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector, StateGrad)
}
