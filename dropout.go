package neuralsp

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Dropout
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDropout)
}

// A Dropout layer zeroes each input component with
// probability Rate while training.
//
// Kept components are scaled by 1/(1-Rate), so the layer
// is the identity when Training is false.
type Dropout struct {
	Training bool
	Rate     float64
}

// DeserializeDropout deserializes a Dropout.
// The result is never in training mode.
func DeserializeDropout(d []byte) (*Dropout, error) {
	var rate serializer.Float64
	if err := serializer.DeserializeAny(d, &rate); err != nil {
		return nil, essentials.AddCtx("deserialize Dropout", err)
	}
	return &Dropout{Rate: float64(rate)}, nil
}

// Apply applies the layer.
func (d *Dropout) Apply(in anydiff.Res, n int) anydiff.Res {
	if !d.Training || d.Rate <= 0 {
		return in
	}
	c := in.Output().Creator()
	keepProb := 1 - d.Rate
	mask := c.MakeVector(in.Output().Len())
	anyvec.Rand(mask, anyvec.Uniform, nil)
	anyvec.LessThan(mask, c.MakeNumeric(keepProb))
	mask.Scale(c.MakeNumeric(1 / keepProb))
	return anydiff.Mul(in, anydiff.NewConst(mask))
}

// SerializerType returns the unique ID used to serialize
// a Dropout with the serializer package.
func (d *Dropout) SerializerType() string {
	return "github.com/YYTtyy/neural-sp.Dropout"
}

// Serialize serializes the Dropout.
func (d *Dropout) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Float64(d.Rate))
}
