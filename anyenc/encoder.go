// Package anyenc implements a hierarchical recurrent
// encoder for speech features.
//
// An Encoder is a stack of (optionally bidirectional)
// recurrent layers, optionally preceded by a convolutional
// front-end.
// Besides the output of the top layer, it exposes the
// output of an intermediate "sub" layer so that a second
// decoder can be trained on a lower level of the stack.
package anyenc

import (
	"errors"
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anyconv"
	"github.com/YYTtyy/neural-sp/anyrnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Encoder
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEncoder)
}

// An Encoder is a hierarchical recurrent encoder.
type Encoder struct {
	// FrameSize is the size of each input frame.
	FrameSize int

	// Frontend may be nil.
	Frontend *anyconv.Frontend

	Layers []*Layer

	// SubLayer is the 1-based index of the sub layer.
	SubLayer int

	Residual ResidualMode
	Merge    bool

	// Dropout is applied to the input of every layer after
	// the first.
	Dropout *neuralsp.Dropout
}

// New creates a randomized Encoder.
//
// Invalid configurations are reported here, before any
// data is seen.
func New(c anyvec.Creator, cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("new encoder", err)
	}
	cellType, _ := anyrnn.ParseCellType(cfg.CellType)

	res := &Encoder{
		FrameSize: cfg.FrameSize(),
		SubLayer:  cfg.NumLayersSub,
		Residual:  cfg.Residual,
		Merge:     cfg.MergeBidirectional && cfg.Bidirectional,
		Dropout:   &neuralsp.Dropout{Rate: cfg.Dropout},
	}

	inSize := res.FrameSize
	if cfg.Conv.Enabled() {
		convCfg := cfg.Conv
		convCfg.InputSize = cfg.InputSize
		if convCfg.ParameterInit == 0 {
			convCfg.ParameterInit = cfg.ParameterInit
		}
		fe, err := anyconv.NewFrontend(c, convCfg)
		if err != nil {
			return nil, essentials.AddCtx("new encoder", err)
		}
		res.Frontend = fe
		inSize = fe.OutputSize()
	}

	for i := 0; i < cfg.NumLayers; i++ {
		proj := cfg.NumProj
		if i == cfg.NumLayers-1 {
			proj = 0
		}
		layer, err := NewLayer(c, cellType, inSize, cfg.NumUnits, proj, cfg.Bidirectional,
			cfg.ParameterInit)
		if err != nil {
			return nil, essentials.AddCtx(fmt.Sprintf("new encoder: layer %d", i), err)
		}
		res.Layers = append(res.Layers, layer)
		inSize = layer.OutSize()
	}
	return res, nil
}

// DeserializeEncoder deserializes an Encoder.
func DeserializeEncoder(d []byte) (*Encoder, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Encoder", err)
	}
	if len(slice) < 5 {
		return nil, errors.New("deserialize Encoder: missing fields")
	}
	var ints [4]int
	for i := range ints {
		x, ok := slice[i].(serializer.Int)
		if !ok {
			return nil, fmt.Errorf("deserialize Encoder: field %d is not an Int", i)
		}
		ints[i] = int(x)
	}
	dropout, ok := slice[4].(serializer.Float64)
	if !ok {
		return nil, errors.New("deserialize Encoder: missing dropout rate")
	}
	res := &Encoder{
		FrameSize: ints[0],
		SubLayer:  ints[1],
		Residual:  ResidualMode(ints[2]),
		Merge:     ints[3] != 0,
		Dropout:   &neuralsp.Dropout{Rate: float64(dropout)},
	}
	for _, obj := range slice[5:] {
		switch obj := obj.(type) {
		case *anyconv.Frontend:
			res.Frontend = obj
		case *Layer:
			res.Layers = append(res.Layers, obj)
		default:
			return nil, fmt.Errorf("deserialize Encoder: unexpected field %T", obj)
		}
	}
	if res.SubLayer < 1 || res.SubLayer > len(res.Layers) {
		return nil, fmt.Errorf("deserialize Encoder: sub layer %d out of range",
			res.SubLayer)
	}
	return res, nil
}

// NumUnits returns the hidden size of each direction.
func (e *Encoder) NumUnits() int {
	return e.Layers[0].Forward.HiddenSize()
}

// Bidirectional reports whether the layers are
// bidirectional.
func (e *Encoder) Bidirectional() bool {
	return e.Layers[0].Bidirectional()
}

// OutSize returns the size of the output vectors.
func (e *Encoder) OutSize() int {
	return e.outSize(len(e.Layers))
}

// SubOutSize returns the size of the sub output vectors.
func (e *Encoder) SubOutSize() int {
	return e.outSize(e.SubLayer)
}

// OutLen computes the output length of an utterance with
// the given number of frames.
func (e *Encoder) OutLen(frames int) int {
	if e.Frontend != nil {
		return e.Frontend.OutLen(frames)
	}
	return frames
}

// SetTraining enables or disables dropout and batch
// statistics.
func (e *Encoder) SetTraining(training bool) {
	e.Dropout.Training = training
	if e.Frontend != nil {
		e.Frontend.SetTraining(training)
	}
}

// Apply encodes a batch.
//
// Utterances are sorted by descending length before they
// are encoded; the Result records the permutation.
//
// Apply panics if the batch is empty, if an utterance is
// empty (or too short for the front-end), or if a frame has
// the wrong size.
func (e *Encoder) Apply(b *Batch) *Result {
	if b.NumSeqs() == 0 {
		panic("cannot encode an empty batch")
	}
	lengths := b.ValidLengths()
	perm := SortPerm(lengths)
	lengths = PermuteSlice(perm, lengths)

	frames := make([][]anyvec.Vector, len(perm))
	for i, idx := range perm {
		if lengths[i] == 0 {
			panic(fmt.Sprintf("utterance %d is empty", idx))
		}
		frames[i] = b.Frames[idx][:lengths[i]]
		for _, f := range frames[i] {
			if f.Len() != e.FrameSize {
				panic(fmt.Sprintf("expected frame size %d but got %d", e.FrameSize, f.Len()))
			}
		}
	}
	c := frames[0][0].Creator()

	var in anyseq.Seq
	if e.Frontend != nil {
		in, lengths = e.Frontend.Apply(c, frames)
	} else {
		in = anyseq.ConstSeqList(c, frames)
	}

	res := &Result{Lengths: lengths, Perm: perm}
	var retained []anyseq.Seq
	for i, layer := range e.Layers {
		if i > 0 {
			in = neuralsp.MapSeq(in, e.Dropout)
		}
		out, forward := layer.Apply(in)
		checkLengths(out, lengths)
		switch e.Residual {
		case Residual:
			out = addSeqs(out, retained)
			retained = []anyseq.Seq{out}
		case DenseResidual:
			out = addSeqs(out, retained)
			retained = append(retained, out)
		}
		if i == e.SubLayer-1 {
			res.SubOutputs = out
			res.SubFinalState = anyseq.Tail(forward)
		}
		if i == len(e.Layers)-1 {
			res.Outputs = out
			res.FinalState = anyseq.Tail(forward)
		}
		in = out
	}

	if e.Merge {
		res.Outputs = mergeDirs(res.Outputs, e.NumUnits())
		res.SubOutputs = mergeDirs(res.SubOutputs, e.NumUnits())
	}
	checkLengths(res.Outputs, lengths)
	checkLengths(res.SubOutputs, lengths)
	return res
}

// Parameters returns the parameters of the front-end and
// every layer.
func (e *Encoder) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	if e.Frontend != nil {
		res = append(res, e.Frontend.Parameters()...)
	}
	for _, l := range e.Layers {
		res = append(res, l.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an Encoder with the serializer package.
func (e *Encoder) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyenc.Encoder"
}

// Serialize serializes the encoder.
func (e *Encoder) Serialize() ([]byte, error) {
	var merge int
	if e.Merge {
		merge = 1
	}
	fields := []serializer.Serializer{
		serializer.Int(e.FrameSize),
		serializer.Int(e.SubLayer),
		serializer.Int(e.Residual),
		serializer.Int(merge),
		serializer.Float64(e.Dropout.Rate),
	}
	if e.Frontend != nil {
		fields = append(fields, e.Frontend)
	}
	for _, l := range e.Layers {
		fields = append(fields, l)
	}
	return serializer.SerializeSlice(fields)
}

func (e *Encoder) outSize(layers int) int {
	if e.Merge {
		return e.NumUnits()
	}
	return e.Layers[layers-1].OutSize()
}

func checkLengths(seq anyseq.Seq, expected []int) {
	actual := neuralsp.SeqLengths(seq)
	if len(actual) != len(expected) {
		panic(fmt.Sprintf("sequence count changed from %d to %d", len(expected), len(actual)))
	}
	for i, x := range expected {
		if actual[i] != x {
			panic(fmt.Sprintf("sequence %d: length changed from %d to %d", i, x, actual[i]))
		}
	}
}

func addSeqs(seq anyseq.Seq, others []anyseq.Seq) anyseq.Seq {
	if len(others) == 0 {
		return seq
	}
	return anyseq.MapN(func(n int, v ...anydiff.Res) anydiff.Res {
		sum := v[0]
		for _, x := range v[1:] {
			sum = anydiff.Add(sum, x)
		}
		return sum
	}, append([]anyseq.Seq{seq}, others...)...)
}

// mergeDirs sums the forward and backward halves of every
// output vector.
func mergeDirs(seq anyseq.Seq, units int) anyseq.Seq {
	c := seq.Creator()
	data := make([]float64, 2*units*units)
	for i := 0; i < units; i++ {
		data[i*units+i] = 1
		data[(units+i)*units+i] = 1
	}
	sumMat := &anydiff.Matrix{
		Data: anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(data))),
		Rows: 2 * units,
		Cols: units,
	}
	return anyseq.Map(seq, func(in anydiff.Res, n int) anydiff.Res {
		inMat := &anydiff.Matrix{Data: in, Rows: n, Cols: 2 * units}
		return anydiff.MatMul(false, false, inMat, sumMat).Data
	})
}
