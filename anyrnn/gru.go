package anyrnn

import (
	"errors"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var g GRU
	serializer.RegisterTypedDeserializer(g.SerializerType(), DeserializeGRU)
}

// GRU is a gated recurrent unit:
//
//	r  := sigmoid(Wr*x + Ur*h + br)
//	z  := sigmoid(Wz*x + Uz*h + bz)
//	h~ := tanh(Wh*x + r.*(Uh*h) + bh)
//	h' := (1-z).*h~ + z.*h
type GRU struct {
	Reset     *Gate
	Update    *Gate
	Candidate *Gate
}

// DeserializeGRU deserializes a GRU.
func DeserializeGRU(d []byte) (*GRU, error) {
	var res GRU
	if err := serializer.DeserializeAny(d, &res.Reset, &res.Update, &res.Candidate); err != nil {
		return nil, essentials.AddCtx("deserialize GRU", err)
	}
	for _, g := range []*Gate{res.Update, res.Candidate} {
		if g.InCount != res.Reset.InCount || g.OutCount != res.Reset.OutCount {
			return nil, errors.New("deserialize GRU: mismatched gate sizes")
		}
	}
	return &res, nil
}

// NewGRU creates a randomized GRU.
func NewGRU(c anyvec.Creator, in, hidden int, paramInit float64) *GRU {
	return &GRU{
		Reset:     NewGate(c, in, hidden, neuralsp.Sigmoid, paramInit),
		Update:    NewGate(c, in, hidden, neuralsp.Sigmoid, paramInit),
		Candidate: NewGate(c, in, hidden, neuralsp.Tanh, paramInit),
	}
}

// HiddenSize returns the size of the hidden state.
func (g *GRU) HiddenSize() int {
	return g.Reset.OutCount
}

// Start returns zero hidden vectors.
func (g *GRU) Start(n int) State {
	return zeroStart(g.Reset.Biases.Vector.Creator(), n, g.HiddenSize())
}

// PropagateStart does nothing, since the start state is
// constant.
func (g *GRU) PropagateStart(s StateGrad, grad anydiff.Grad) {
}

// Step performs one timestep.
func (g *GRU) Step(s State, in anyvec.Vector) Res {
	return stepCell(s, in, g.StepRes)
}

// StepRes computes the next hidden state.
func (g *GRU) StepRes(in anydiff.Res, state []anydiff.Res, n int) []anydiff.Res {
	hidden := state[0]
	reset := g.Reset.Apply(in, hidden, n)
	update := g.Update.Apply(in, hidden, n)
	candidate := g.Candidate.Finish(anydiff.Add(
		g.Candidate.InputPart(in),
		anydiff.Mul(reset, g.Candidate.StatePart(hidden)),
	), n)
	newHidden := anydiff.Add(
		anydiff.Mul(anydiff.Complement(update), candidate),
		anydiff.Mul(update, hidden),
	)
	return []anydiff.Res{newHidden}
}

// Parameters returns the parameters of every gate.
func (g *GRU) Parameters() []*anydiff.Var {
	return neuralsp.AllParameters(g.Reset, g.Update, g.Candidate)
}

// SerializerType returns the unique ID used to serialize
// a GRU with the serializer package.
func (g *GRU) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyrnn.GRU"
}

// Serialize serializes the GRU.
func (g *GRU) Serialize() ([]byte, error) {
	return serializer.SerializeAny(g.Reset, g.Update, g.Candidate)
}
