// Package anymodel assembles encoders and output heads
// into complete speech recognition models.
package anymodel

import (
	"errors"
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anyattn"
	"github.com/YYTtyy/neural-sp/anyenc"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// Type is a kind of model.
type Type int

const (
	CTC Type = iota
	HierarchicalCTC
	Attention
	HierarchicalAttention
	NestedAttention
)

var typeNames = []string{
	"ctc",
	"hierarchical_ctc",
	"attention",
	"hierarchical_attention",
	"nested_attention",
}

// ParseType parses a model_type value.
func ParseType(name string) (Type, error) {
	for i, x := range typeNames {
		if x == name {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown model type: %s", name)
}

// String returns the model_type name.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Hierarchical reports whether the model has a sub task.
func (t Type) Hierarchical() bool {
	return t == HierarchicalCTC || t == HierarchicalAttention || t == NestedAttention
}

// UsesAttention reports whether the model decodes with
// attention.
func (t Type) UsesAttention() bool {
	return t >= Attention
}

// A Model is an encoder with one or two output heads.
//
// CTC models use CTCOut (and SubCTCOut) to produce label
// log probabilities with the blank last.
// Attention models use Decoder (and SubDecoder).
// In a nested model, Decoder attends to the states of
// SubDecoder as well as to the encoder.
type Model struct {
	Type    Type
	Encoder *anyenc.Encoder

	CTCOut    *neuralsp.Linear
	SubCTCOut *neuralsp.Linear

	Decoder    *anyattn.Decoder
	SubDecoder *anyattn.Decoder

	// MainLossWeight weights the main task's cost against
	// the sub task's cost, which gets 1-MainLossWeight.
	MainLossWeight float64
}

// New creates a randomized model.
func New(c anyvec.Creator, p *Params) (*Model, error) {
	t, err := ParseType(p.ModelType)
	if err != nil {
		return nil, essentials.AddCtx("new model", err)
	}
	if p.NumClasses <= 0 || (t.Hierarchical() && p.NumClassesSub <= 0) {
		return nil, errors.New("new model: class counts must be positive")
	}
	if t.Hierarchical() && (p.MainLossWeight <= 0 || p.MainLossWeight > 1) {
		return nil, fmt.Errorf("new model: main loss weight %f not in (0, 1]",
			p.MainLossWeight)
	}
	encCfg, err := p.EncoderConfig()
	if err != nil {
		return nil, essentials.AddCtx("new model", err)
	}
	enc, err := anyenc.New(c, encCfg)
	if err != nil {
		return nil, essentials.AddCtx("new model", err)
	}
	res := &Model{Type: t, Encoder: enc, MainLossWeight: 1}
	if t.Hierarchical() {
		res.MainLossWeight = p.MainLossWeight
	}

	switch t {
	case CTC, HierarchicalCTC:
		res.CTCOut = neuralsp.NewLinear(c, enc.OutSize(), p.NumClasses+1, p.ParameterInit)
		if t == HierarchicalCTC {
			res.SubCTCOut = neuralsp.NewLinear(c, enc.SubOutSize(), p.NumClassesSub+1,
				p.ParameterInit)
		}
	default:
		var memSize int
		if t.Hierarchical() {
			res.SubDecoder, err = anyattn.New(c, p.DecoderConfig(true, enc.SubOutSize(), 0))
			if err != nil {
				return nil, essentials.AddCtx("new model", err)
			}
			if t == NestedAttention {
				memSize = res.SubDecoder.HiddenSize()
			}
		}
		res.Decoder, err = anyattn.New(c, p.DecoderConfig(false, enc.OutSize(), memSize))
		if err != nil {
			return nil, essentials.AddCtx("new model", err)
		}
	}
	return res, nil
}

// DeserializeModel deserializes a Model.
func DeserializeModel(d []byte) (*Model, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	if len(slice) < 4 {
		return nil, errors.New("deserialize Model: missing fields")
	}
	t, ok1 := slice[0].(serializer.Int)
	weight, ok2 := slice[1].(serializer.Float64)
	enc, ok3 := slice[2].(*anyenc.Encoder)
	if !ok1 || !ok2 || !ok3 || Type(t) < CTC || Type(t) > NestedAttention {
		return nil, errors.New("deserialize Model: invalid header")
	}
	res := &Model{Type: Type(t), Encoder: enc, MainLossWeight: float64(weight)}
	heads := slice[3:]
	expected := 1
	if res.Type.Hierarchical() {
		expected = 2
	}
	if len(heads) != expected {
		return nil, fmt.Errorf("deserialize Model: %s expects %d heads", res.Type, expected)
	}
	if res.Type.UsesAttention() {
		var ok bool
		if res.Decoder, ok = heads[0].(*anyattn.Decoder); !ok {
			return nil, errors.New("deserialize Model: invalid decoder")
		}
		if expected == 2 {
			if res.SubDecoder, ok = heads[1].(*anyattn.Decoder); !ok {
				return nil, errors.New("deserialize Model: invalid sub decoder")
			}
		}
	} else {
		var ok bool
		if res.CTCOut, ok = heads[0].(*neuralsp.Linear); !ok {
			return nil, errors.New("deserialize Model: invalid CTC layer")
		}
		if expected == 2 {
			if res.SubCTCOut, ok = heads[1].(*neuralsp.Linear); !ok {
				return nil, errors.New("deserialize Model: invalid sub CTC layer")
			}
		}
	}
	return res, nil
}

// SetTraining enables or disables dropout.
func (m *Model) SetTraining(training bool) {
	m.Encoder.SetTraining(training)
}

// Parameters returns every learnable parameter.
func (m *Model) Parameters() []*anydiff.Var {
	return neuralsp.AllParameters(m.Encoder, m.CTCOut, m.SubCTCOut, m.Decoder,
		m.SubDecoder)
}

// NumParams counts the scalar parameters.
func (m *Model) NumParams() int {
	var res int
	for _, p := range m.Parameters() {
		res += p.Vector.Len()
	}
	return res
}

// Creator returns the creator of the model's parameters.
func (m *Model) Creator() anyvec.Creator {
	return m.Parameters()[0].Vector.Creator()
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anymodel.Model"
}

// Serialize serializes the model.
func (m *Model) Serialize() ([]byte, error) {
	fields := []serializer.Serializer{
		serializer.Int(m.Type),
		serializer.Float64(m.MainLossWeight),
		m.Encoder,
	}
	if m.Type.UsesAttention() {
		fields = append(fields, m.Decoder)
		if m.SubDecoder != nil {
			fields = append(fields, m.SubDecoder)
		}
	} else {
		fields = append(fields, m.CTCOut)
		if m.SubCTCOut != nil {
			fields = append(fields, m.SubCTCOut)
		}
	}
	return serializer.SerializeSlice(fields)
}
