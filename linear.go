package neuralsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var l Linear
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLinear)
}

// Linear is an affine map applied to every vector in a
// batch, as used for projections between recurrent
// layers and for output heads.
type Linear struct {
	InCount  int
	OutCount int
	Weights  *anydiff.Var
	Biases   *anydiff.Var
}

// DeserializeLinear attempts to deserialize a Linear.
func DeserializeLinear(d []byte) (*Linear, error) {
	var weights, biases *anyvecsave.S
	if err := serializer.DeserializeAny(d, &weights, &biases); err != nil {
		return nil, essentials.AddCtx("deserialize Linear", err)
	}
	inCount := weights.Vector.Len() / biases.Vector.Len()
	outCount := biases.Vector.Len()
	if inCount*outCount != weights.Vector.Len() {
		return nil, errors.New("deserialize Linear: invalid matrix dimensions")
	}
	return &Linear{
		InCount:  inCount,
		OutCount: outCount,
		Weights:  anydiff.NewVar(weights.Vector),
		Biases:   anydiff.NewVar(biases.Vector),
	}, nil
}

// NewLinear creates a randomized Linear layer.
//
// If paramInit is positive, weights and biases are drawn
// uniformly from [-paramInit, paramInit).
// Otherwise, weights are normal with variance 1/in and
// biases are zero.
func NewLinear(c anyvec.Creator, in, out int, paramInit float64) *Linear {
	res := NewLinearZero(c, in, out)
	if paramInit > 0 {
		UniformInit(res.Weights.Vector, paramInit)
		UniformInit(res.Biases.Vector, paramInit)
	} else {
		anyvec.Rand(res.Weights.Vector, anyvec.Normal, nil)
		res.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	}
	return res
}

// NewLinearZero creates a zero'd out Linear layer.
func NewLinearZero(c anyvec.Creator, in, out int) *Linear {
	return &Linear{
		InCount:  in,
		OutCount: out,
		Weights:  anydiff.NewVar(c.MakeVector(in * out)),
		Biases:   anydiff.NewVar(c.MakeVector(out)),
	}
}

// Apply applies the layer to a batch of inputs.
func (l *Linear) Apply(in anydiff.Res, batch int) anydiff.Res {
	if batch*l.InCount != in.Output().Len() {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batch*l.InCount, in.Output().Len()))
	}
	weightMat := &anydiff.Matrix{
		Data: l.Weights,
		Rows: l.OutCount,
		Cols: l.InCount,
	}
	inMat := &anydiff.Matrix{
		Data: in,
		Rows: batch,
		Cols: l.InCount,
	}
	weighted := anydiff.MatMul(false, true, inMat, weightMat)
	return anydiff.AddRepeated(weighted.Data, l.Biases)
}

// Parameters returns the weights and biases, in that
// order.
func (l *Linear) Parameters() []*anydiff.Var {
	return []*anydiff.Var{l.Weights, l.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Linear with the serializer package.
func (l *Linear) SerializerType() string {
	return "github.com/YYTtyy/neural-sp.Linear"
}

// Serialize serializes the layer.
func (l *Linear) Serialize() ([]byte, error) {
	weights := &anyvecsave.S{Vector: l.Weights.Vector}
	biases := &anyvecsave.S{Vector: l.Biases.Vector}
	return serializer.SerializeAny(weights, biases)
}

// UniformInit fills v with values drawn uniformly from
// [-scale, scale).
func UniformInit(v anyvec.Vector, scale float64) {
	c := v.Creator()
	anyvec.Rand(v, anyvec.Uniform, nil)
	v.Scale(c.MakeNumeric(2 * scale))
	v.AddScalar(c.MakeNumeric(-scale))
}
