// Package anyattn implements attention-based decoders for
// encoder-decoder speech recognition.
//
// A Decoder emits one token per step, attending to the
// encoder outputs of a single utterance.
// Token IDs range over [0, NumClasses); the ID NumClasses
// is used both as <sos> and <eos>.
//
// A Decoder may also attend to a second Memory, such as
// the hidden states of another decoder, which is how
// nested (word-to-character) attention is built.
package anyattn

import (
	"errors"
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anyrnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Decoder
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDecoder)
}

// Config describes a Decoder.
type Config struct {
	NumClasses  int
	EncoderSize int

	// MemorySize is the size of the second memory's
	// vectors, or 0 to disable the second attention.
	MemorySize int

	CellType      string
	NumUnits      int
	EmbeddingDim  int
	AttentionDim  int
	ParameterInit float64
	Sharpening    float64
}

// A Decoder is an attention-based recurrent decoder.
type Decoder struct {
	NumClasses int

	Embedding *Embedding
	Cell      anyrnn.Cell
	Attention *Attention
	Output    *neuralsp.Linear

	// MemAttention is nil unless the decoder attends to a
	// second memory.
	MemAttention *Attention
}

// New creates a randomized Decoder.
func New(c anyvec.Creator, cfg Config) (*Decoder, error) {
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("new decoder: invalid class count %d", cfg.NumClasses)
	}
	if cfg.EncoderSize <= 0 || cfg.EmbeddingDim <= 0 || cfg.AttentionDim <= 0 ||
		cfg.MemorySize < 0 {
		return nil, errors.New("new decoder: invalid layer sizes")
	}
	cellType, err := anyrnn.ParseCellType(cfg.CellType)
	if err != nil {
		return nil, essentials.AddCtx("new decoder", err)
	}
	inSize := cfg.EmbeddingDim + cfg.EncoderSize + cfg.MemorySize
	cell, err := anyrnn.NewCell(cellType, c, inSize, cfg.NumUnits, cfg.ParameterInit)
	if err != nil {
		return nil, essentials.AddCtx("new decoder", err)
	}
	res := &Decoder{
		NumClasses: cfg.NumClasses,
		Embedding:  NewEmbedding(c, cfg.NumClasses+1, cfg.EmbeddingDim, cfg.ParameterInit),
		Cell:       cell,
		Attention: NewAttention(c, cfg.EncoderSize, cfg.NumUnits, cfg.AttentionDim,
			cfg.ParameterInit),
		Output: neuralsp.NewLinear(c, cfg.NumUnits+cfg.EncoderSize+cfg.MemorySize,
			cfg.NumClasses+1, cfg.ParameterInit),
	}
	res.Attention.Sharpening = cfg.Sharpening
	if cfg.MemorySize > 0 {
		res.MemAttention = NewAttention(c, cfg.MemorySize, cfg.NumUnits, cfg.AttentionDim,
			cfg.ParameterInit)
		res.MemAttention.Sharpening = cfg.Sharpening
	}
	return res, nil
}

// DeserializeDecoder deserializes a Decoder.
func DeserializeDecoder(d []byte) (*Decoder, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Decoder", err)
	}
	if len(slice) != 5 && len(slice) != 6 {
		return nil, fmt.Errorf("deserialize Decoder: unexpected field count %d", len(slice))
	}
	numClasses, ok := slice[0].(serializer.Int)
	if !ok {
		return nil, errors.New("deserialize Decoder: missing class count")
	}
	res := &Decoder{NumClasses: int(numClasses)}
	res.Embedding, ok = slice[1].(*Embedding)
	if !ok {
		return nil, errors.New("deserialize Decoder: missing Embedding")
	}
	if res.Cell, ok = slice[2].(anyrnn.Cell); !ok {
		return nil, errors.New("deserialize Decoder: missing Cell")
	}
	if res.Attention, ok = slice[3].(*Attention); !ok {
		return nil, errors.New("deserialize Decoder: missing Attention")
	}
	if res.Output, ok = slice[4].(*neuralsp.Linear); !ok {
		return nil, errors.New("deserialize Decoder: missing output layer")
	}
	if len(slice) == 6 {
		if res.MemAttention, ok = slice[5].(*Attention); !ok {
			return nil, errors.New("deserialize Decoder: bad memory Attention")
		}
	}
	return res, nil
}

// EOS returns the ID of the <eos> (and <sos>) token.
func (d *Decoder) EOS() int {
	return d.NumClasses
}

// EncoderSize returns the size of the encoder vectors the
// decoder attends to.
func (d *Decoder) EncoderSize() int {
	return d.Attention.MemoryProj.InCount
}

// MemorySize returns the size of the second memory's
// vectors, or 0.
func (d *Decoder) MemorySize() int {
	if d.MemAttention == nil {
		return 0
	}
	return d.MemAttention.MemoryProj.InCount
}

// HiddenSize returns the size of the decoder states.
func (d *Decoder) HiddenSize() int {
	return d.Cell.HiddenSize()
}

// Cost computes the teacher-forced negative log likelihood
// of a label followed by <eos>.
//
// The mem argument must be nil unless the decoder has a
// second attention.
//
// The second result packs the decoder state from each step
// that emitted a label token; it is nil for empty labels.
func (d *Decoder) Cost(enc, mem *Memory, label []int) (cost, states anydiff.Res) {
	src := d.sources(enc, mem)
	st := d.start(enc.Values.Output().Creator())
	prev := d.EOS()

	var costs, hiddens []anydiff.Res
	for t := 0; t <= len(label); t++ {
		target := d.EOS()
		if t < len(label) {
			target = label[t]
			if target < 0 || target >= d.NumClasses {
				panic(fmt.Sprintf("label %d out of range", target))
			}
		}
		out := d.step(src, prev, st)
		costs = append(costs, anydiff.Slice(out.LogProbs, target, target+1))
		if t < len(label) {
			hiddens = append(hiddens, out.Hidden)
		}
		st = out.Next
		prev = target
	}

	c := enc.Values.Output().Creator()
	cost = anydiff.Scale(anydiff.Sum(anydiff.Concat(costs...)), c.MakeNumeric(-1))
	if len(hiddens) > 0 {
		states = anydiff.Concat(hiddens...)
	}
	return
}

// Parameters returns all of the learnable parameters.
func (d *Decoder) Parameters() []*anydiff.Var {
	return neuralsp.AllParameters(d.Embedding, d.Cell, d.Attention, d.Output, d.MemAttention)
}

// SerializerType returns the unique ID used to serialize
// a Decoder with the serializer package.
func (d *Decoder) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyattn.Decoder"
}

// Serialize serializes the decoder.
func (d *Decoder) Serialize() ([]byte, error) {
	fields := []serializer.Serializer{
		serializer.Int(d.NumClasses),
		d.Embedding,
		d.Cell,
		d.Attention,
		d.Output,
	}
	if d.MemAttention != nil {
		fields = append(fields, d.MemAttention)
	}
	return serializer.SerializeSlice(fields)
}

type sources struct {
	Enc *attended
	Mem *attended
}

func (d *Decoder) sources(enc, mem *Memory) *sources {
	res := &sources{Enc: d.Attention.attend(enc)}
	if d.MemAttention != nil {
		if mem == nil {
			panic("decoder requires a second memory")
		}
		res.Mem = d.MemAttention.attend(mem)
	} else if mem != nil {
		panic("decoder has no second attention")
	}
	return res
}

type stepState struct {
	Parts      []anydiff.Res
	Context    anydiff.Res
	MemContext anydiff.Res
}

type stepOutput struct {
	LogProbs   anydiff.Res
	Hidden     anydiff.Res
	Weights    anydiff.Res
	MemWeights anydiff.Res
	Next       *stepState
}

func (d *Decoder) start(c anyvec.Creator) *stepState {
	res := &stepState{
		Parts:   anyrnn.StartParts(d.Cell, 1),
		Context: anydiff.NewConst(c.MakeVector(d.EncoderSize())),
	}
	if d.MemAttention != nil {
		res.MemContext = anydiff.NewConst(c.MakeVector(d.MemorySize()))
	}
	return res
}

// step feeds the previous token and contexts to the cell,
// then attends with the new hidden state.
func (d *Decoder) step(src *sources, prev int, st *stepState) *stepOutput {
	inputs := []anydiff.Res{d.Embedding.Lookup(prev), st.Context}
	if st.MemContext != nil {
		inputs = append(inputs, st.MemContext)
	}
	parts := d.Cell.StepRes(anydiff.Concat(inputs...), st.Parts, 1)
	hidden := parts[len(parts)-1]

	res := &stepOutput{Hidden: hidden, Next: &stepState{Parts: parts}}
	res.Next.Context, res.Weights = d.Attention.apply(src.Enc, hidden)
	outIn := []anydiff.Res{hidden, res.Next.Context}
	if src.Mem != nil {
		res.Next.MemContext, res.MemWeights = d.MemAttention.apply(src.Mem, hidden)
		outIn = append(outIn, res.Next.MemContext)
	}
	logits := d.Output.Apply(anydiff.Concat(outIn...), 1)
	res.LogProbs = anydiff.LogSoftmax(logits, d.NumClasses+1)
	return res
}
