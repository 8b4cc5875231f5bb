package anyenc

import (
	"errors"
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anyrnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var l Layer
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLayer)
}

// A Layer is one recurrent layer of an Encoder.
type Layer struct {
	Forward anyrnn.Cell

	// Backward is nil for unidirectional layers.
	Backward anyrnn.Cell

	// Projection is nil for unprojected layers.
	Projection *neuralsp.Linear
}

// NewLayer creates a randomized layer.
func NewLayer(c anyvec.Creator, t anyrnn.CellType, in, units, proj int, bidir bool,
	paramInit float64) (*Layer, error) {
	res := &Layer{}
	var err error
	res.Forward, err = anyrnn.NewCell(t, c, in, units, paramInit)
	if err != nil {
		return nil, err
	}
	if bidir {
		res.Backward, err = anyrnn.NewCell(t, c, in, units, paramInit)
		if err != nil {
			return nil, err
		}
	}
	if proj > 0 {
		res.Projection = neuralsp.NewLinear(c, res.rnnWidth(), proj, paramInit)
	}
	return res, nil
}

// DeserializeLayer deserializes a Layer.
func DeserializeLayer(d []byte) (*Layer, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Layer", err)
	}
	if len(slice) == 0 {
		return nil, errors.New("deserialize Layer: no fields")
	}
	res := &Layer{}
	var ok bool
	if res.Forward, ok = slice[0].(anyrnn.Cell); !ok {
		return nil, errors.New("deserialize Layer: first field is not a cell")
	}
	for _, obj := range slice[1:] {
		switch obj := obj.(type) {
		case anyrnn.Cell:
			res.Backward = obj
		case *neuralsp.Linear:
			res.Projection = obj
		default:
			return nil, fmt.Errorf("deserialize Layer: unexpected field %T", obj)
		}
	}
	return res, nil
}

// Bidirectional reports whether the layer has a backward
// cell.
func (l *Layer) Bidirectional() bool {
	return l.Backward != nil
}

// OutSize returns the size of the layer's output vectors.
func (l *Layer) OutSize() int {
	if l.Projection != nil {
		return l.Projection.OutCount
	}
	return l.rnnWidth()
}

// Apply runs the layer on a batch of sequences.
//
// The first result is the layer output, which holds both
// directions (forward first) and is projected if the layer
// has a projection.
// The second result is the raw forward-direction output.
func (l *Layer) Apply(in anyseq.Seq) (out, forward anyseq.Seq) {
	if l.Bidirectional() {
		bidir := &anyrnn.Bidir{
			Forward:  l.Forward,
			Backward: l.Backward,
			Mixer:    neuralsp.ConcatMixer{},
		}
		out, forward = bidir.ApplyDirs(in)
	} else {
		forward = anyrnn.Map(in, l.Forward)
		out = forward
	}
	if l.Projection != nil {
		out = neuralsp.MapSeq(out, l.Projection)
	}
	return
}

// Parameters returns the parameters of the cells and the
// projection.
func (l *Layer) Parameters() []*anydiff.Var {
	return neuralsp.AllParameters(l.Forward, l.Backward, l.Projection)
}

// SerializerType returns the unique ID used to serialize
// a Layer with the serializer package.
func (l *Layer) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyenc.Layer"
}

// Serialize serializes the layer.
func (l *Layer) Serialize() ([]byte, error) {
	fields := []serializer.Serializer{l.Forward}
	if l.Backward != nil {
		fields = append(fields, l.Backward)
	}
	if l.Projection != nil {
		fields = append(fields, l.Projection)
	}
	return serializer.SerializeSlice(fields)
}

func (l *Layer) rnnWidth() int {
	if l.Bidirectional() {
		return 2 * l.Forward.HiddenSize()
	}
	return l.Forward.HiddenSize()
}
