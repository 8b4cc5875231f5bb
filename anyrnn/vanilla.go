package anyrnn

import (
	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var v Vanilla
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVanilla)
}

// Vanilla is an Elman RNN:
//
//	h' := tanh(Wi*x + Ws*h + b)
type Vanilla struct {
	Gate *Gate
}

// DeserializeVanilla deserializes a Vanilla cell.
func DeserializeVanilla(d []byte) (*Vanilla, error) {
	var res Vanilla
	if err := serializer.DeserializeAny(d, &res.Gate); err != nil {
		return nil, essentials.AddCtx("deserialize Vanilla", err)
	}
	return &res, nil
}

// NewVanilla creates a randomized Vanilla cell.
func NewVanilla(c anyvec.Creator, in, hidden int, paramInit float64) *Vanilla {
	return &Vanilla{Gate: NewGate(c, in, hidden, neuralsp.Tanh, paramInit)}
}

// HiddenSize returns the size of the hidden state.
func (v *Vanilla) HiddenSize() int {
	return v.Gate.OutCount
}

// Start returns zero hidden vectors.
func (v *Vanilla) Start(n int) State {
	return zeroStart(v.Gate.Biases.Vector.Creator(), n, v.HiddenSize())
}

// PropagateStart does nothing.
func (v *Vanilla) PropagateStart(s StateGrad, g anydiff.Grad) {
}

// Step performs one timestep.
func (v *Vanilla) Step(s State, in anyvec.Vector) Res {
	return stepCell(s, in, v.StepRes)
}

// StepRes computes the next hidden state.
func (v *Vanilla) StepRes(in anydiff.Res, state []anydiff.Res, n int) []anydiff.Res {
	return []anydiff.Res{v.Gate.Apply(in, state[0], n)}
}

// Parameters returns the gate's parameters.
func (v *Vanilla) Parameters() []*anydiff.Var {
	return v.Gate.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a Vanilla with the serializer package.
func (v *Vanilla) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyrnn.Vanilla"
}

// Serialize serializes the cell.
func (v *Vanilla) Serialize() ([]byte, error) {
	return serializer.SerializeAny(v.Gate)
}
