package neuralsp

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/serializer"
)

func init() {
	var s SumMixer
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeSumMixer)
	var c ConcatMixer
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConcatMixer)
}

// A Mixer combines batches of inputs from two different
// sources into a single vector.
type Mixer interface {
	Mix(in1, in2 anydiff.Res, batch int) anydiff.Res
}

// A SumMixer adds its inputs component-wise.
// It is used to merge the two directions of a
// bidirectional layer without doubling its width.
type SumMixer struct{}

// DeserializeSumMixer deserializes a SumMixer.
func DeserializeSumMixer(d []byte) (SumMixer, error) {
	return SumMixer{}, nil
}

// Mix returns in1 + in2.
func (s SumMixer) Mix(in1, in2 anydiff.Res, batch int) anydiff.Res {
	if in1.Output().Len() != in2.Output().Len() {
		panic("mixed inputs must have equal lengths")
	}
	return anydiff.Add(in1, in2)
}

// SerializerType returns the unique ID used to serialize
// a SumMixer with the serializer package.
func (s SumMixer) SerializerType() string {
	return "github.com/YYTtyy/neural-sp.SumMixer"
}

// Serialize serializes the instance.
func (s SumMixer) Serialize() ([]byte, error) {
	return []byte{}, nil
}

// A ConcatMixer mixes inputs by concatenating them.
type ConcatMixer struct{}

// DeserializeConcatMixer deserializes a ConcatMixer.
func DeserializeConcatMixer(d []byte) (ConcatMixer, error) {
	return ConcatMixer{}, nil
}

// Mix produces a vector of concatenated vectors, like
// [in1[0], in2[0], in1[1], in2[1], ...], where in1[n]
// represents the n-th vector in the batch represented
// by in1.
func (c ConcatMixer) Mix(in1, in2 anydiff.Res, batch int) anydiff.Res {
	return anydiff.Pool(in1, func(in1 anydiff.Res) anydiff.Res {
		return anydiff.Pool(in2, func(in2 anydiff.Res) anydiff.Res {
			var res []anydiff.Res
			v1Len := in1.Output().Len() / batch
			v2Len := in2.Output().Len() / batch
			for i := 0; i < batch; i++ {
				res = append(res, anydiff.Slice(in1, i*v1Len, (i+1)*v1Len),
					anydiff.Slice(in2, i*v2Len, (i+1)*v2Len))
			}
			return anydiff.Concat(res...)
		})
	})
}

// SerializerType returns the unique ID used to serialize
// a ConcatMixer with the serializer package.
func (c ConcatMixer) SerializerType() string {
	return "github.com/YYTtyy/neural-sp.ConcatMixer"
}

// Serialize serializes the instance.
func (c ConcatMixer) Serialize() ([]byte, error) {
	return []byte{}, nil
}
