package anyrnn

import (
	"errors"
	"math"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var g Gate
	serializer.RegisterTypedDeserializer(g.SerializerType(), DeserializeGate)
}

// A Gate computes an activation of an affine function of
// the current input and the previous hidden state:
//
//	out := a(Wi*input + Ws*state + b)
//
// Gates are the building blocks of every cell in this
// package.
type Gate struct {
	InCount  int
	OutCount int

	InputWeights *anydiff.Var
	StateWeights *anydiff.Var
	Biases       *anydiff.Var
	Activation   neuralsp.Layer
}

// DeserializeGate deserializes a Gate.
func DeserializeGate(d []byte) (*Gate, error) {
	var inW, stW, b *anyvecsave.S
	var a neuralsp.Layer
	if err := serializer.DeserializeAny(d, &inW, &stW, &b, &a); err != nil {
		return nil, essentials.AddCtx("deserialize Gate", err)
	}

	outCount := b.Vector.Len()
	inCount := inW.Vector.Len() / outCount
	if stW.Vector.Len() != outCount*outCount {
		return nil, errors.New("deserialize Gate: incorrect state matrix size")
	}
	if inW.Vector.Len() != inCount*outCount {
		return nil, errors.New("deserialize Gate: incorrect input matrix size")
	}

	return &Gate{
		InCount:      inCount,
		OutCount:     outCount,
		InputWeights: anydiff.NewVar(inW.Vector),
		StateWeights: anydiff.NewVar(stW.Vector),
		Biases:       anydiff.NewVar(b.Vector),
		Activation:   a,
	}, nil
}

// NewGate creates a randomized Gate.
//
// With a positive paramInit, every parameter is uniform in
// [-paramInit, paramInit).
// Otherwise weights are scaled normals and biases are 0.
func NewGate(c anyvec.Creator, in, out int, act neuralsp.Layer, paramInit float64) *Gate {
	res := NewGateZero(c, in, out, act)
	if paramInit > 0 {
		for _, p := range res.Parameters() {
			neuralsp.UniformInit(p.Vector, paramInit)
		}
		return res
	}
	anyvec.Rand(res.StateWeights.Vector, anyvec.Normal, nil)
	anyvec.Rand(res.InputWeights.Vector, anyvec.Normal, nil)
	res.StateWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(out))))
	res.InputWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	return res
}

// NewGateZero creates a zero'd out Gate.
func NewGateZero(c anyvec.Creator, in, out int, act neuralsp.Layer) *Gate {
	return &Gate{
		InCount:      in,
		OutCount:     out,
		InputWeights: anydiff.NewVar(c.MakeVector(in * out)),
		StateWeights: anydiff.NewVar(c.MakeVector(out * out)),
		Biases:       anydiff.NewVar(c.MakeVector(out)),
		Activation:   act,
	}
}

// Apply computes the gate for a batch of n inputs and
// states.
func (g *Gate) Apply(in, state anydiff.Res, n int) anydiff.Res {
	return g.Finish(anydiff.Add(g.InputPart(in), g.StatePart(state)), n)
}

// InputPart computes Wi*input.
func (g *Gate) InputPart(in anydiff.Res) anydiff.Res {
	return applyWeights(g.InCount, g.OutCount, g.InputWeights, in)
}

// StatePart computes Ws*state.
func (g *Gate) StatePart(state anydiff.Res) anydiff.Res {
	return applyWeights(g.OutCount, g.OutCount, g.StateWeights, state)
}

// Finish adds the biases to a weighted sum and applies
// the activation.
func (g *Gate) Finish(sum anydiff.Res, n int) anydiff.Res {
	return g.Activation.Apply(anydiff.AddRepeated(sum, g.Biases), n)
}

// Parameters returns the input weights, state weights,
// and biases.
func (g *Gate) Parameters() []*anydiff.Var {
	return []*anydiff.Var{g.InputWeights, g.StateWeights, g.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Gate with the serializer package.
func (g *Gate) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyrnn.Gate"
}

// Serialize serializes the gate.
func (g *Gate) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: g.InputWeights.Vector},
		&anyvecsave.S{Vector: g.StateWeights.Vector},
		&anyvecsave.S{Vector: g.Biases.Vector},
		g.Activation,
	)
}

func applyWeights(in, out int, weights anydiff.Res, batch anydiff.Res) anydiff.Res {
	weightMat := &anydiff.Matrix{Data: weights, Rows: out, Cols: in}
	inMat := &anydiff.Matrix{Data: batch, Rows: batch.Output().Len() / in, Cols: in}
	return anydiff.MatMul(false, true, inMat, weightMat).Data
}
