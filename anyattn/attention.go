package anyattn

import (
	"errors"
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Attention
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAttention)
}

// A Memory is a sequence that a decoder attends to, such as
// the outputs of an encoder for one utterance.
type Memory struct {
	// Values stores Len vectors of Size components back to
	// back.
	Values anydiff.Res
	Len    int
	Size   int
}

// NewMemory creates a Memory from packed values.
func NewMemory(values anydiff.Res, n int) *Memory {
	if n == 0 {
		return &Memory{Values: values}
	}
	if values.Output().Len()%n != 0 {
		panic(fmt.Sprintf("%d values cannot hold %d vectors", values.Output().Len(), n))
	}
	return &Memory{Values: values, Len: n, Size: values.Output().Len() / n}
}

// ConstMemory creates a Memory from vectors which need no
// gradients.
func ConstMemory(c anyvec.Creator, vecs []anyvec.Vector, size int) *Memory {
	if len(vecs) == 0 {
		return &Memory{Values: anydiff.NewConst(c.MakeVector(0)), Size: size}
	}
	return NewMemory(anydiff.NewConst(c.Concat(vecs...)), len(vecs))
}

// Attention implements additive (content-based) attention:
//
//	score[t] = Sharpening * v . tanh(W*memory[t] + U*query + b)
//	weights  = softmax(score)
//	context  = sum_t weights[t]*memory[t]
type Attention struct {
	MemoryProj *neuralsp.Linear
	QueryProj  *neuralsp.Linear
	Vector     *anydiff.Var

	// Sharpening scales the scores before the softmax.
	// Zero is treated as 1.
	Sharpening float64
}

// NewAttention creates a randomized attention layer.
func NewAttention(c anyvec.Creator, memSize, querySize, attSize int,
	paramInit float64) *Attention {
	res := &Attention{
		MemoryProj: neuralsp.NewLinear(c, memSize, attSize, paramInit),
		QueryProj:  neuralsp.NewLinear(c, querySize, attSize, paramInit),
		Vector:     anydiff.NewVar(c.MakeVector(attSize)),
	}
	res.MemoryProj.Biases.Vector.Scale(c.MakeNumeric(0))
	if paramInit > 0 {
		neuralsp.UniformInit(res.Vector.Vector, paramInit)
	} else {
		anyvec.Rand(res.Vector.Vector, anyvec.Normal, nil)
		res.Vector.Vector.Scale(c.MakeNumeric(1 / float64(attSize)))
	}
	return res
}

// DeserializeAttention deserializes an Attention.
func DeserializeAttention(d []byte) (*Attention, error) {
	var res Attention
	var vec *anyvecsave.S
	var sharp serializer.Float64
	err := serializer.DeserializeAny(d, &res.MemoryProj, &res.QueryProj, &vec, &sharp)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Attention", err)
	}
	if vec.Vector.Len() != res.MemoryProj.OutCount {
		return nil, errors.New("deserialize Attention: inconsistent sizes")
	}
	res.Vector = anydiff.NewVar(vec.Vector)
	res.Sharpening = float64(sharp)
	return &res, nil
}

// An attended memory caches the projected memory vectors.
type attended struct {
	Mem  *Memory
	Keys anydiff.Res
}

func (a *Attention) attend(m *Memory) *attended {
	if m.Size != a.MemoryProj.InCount {
		panic(fmt.Sprintf("memory size %d but attention expects %d", m.Size,
			a.MemoryProj.InCount))
	}
	res := &attended{Mem: m}
	if m.Len > 0 {
		res.Keys = a.MemoryProj.Apply(m.Values, m.Len)
	}
	return res
}

// Apply computes the context vector and the attention
// weights for a query.
// An empty memory yields a zero context and no weights.
func (a *Attention) Apply(m *Memory, query anydiff.Res) (context, weights anydiff.Res) {
	return a.apply(a.attend(m), query)
}

func (a *Attention) apply(at *attended, query anydiff.Res) (context, weights anydiff.Res) {
	c := query.Output().Creator()
	m := at.Mem
	if m.Len == 0 {
		return anydiff.NewConst(c.MakeVector(m.Size)), anydiff.NewConst(c.MakeVector(0))
	}
	hidden := anydiff.Tanh(anydiff.AddRepeated(at.Keys, a.QueryProj.Apply(query, 1)))
	scores := anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: hidden, Rows: m.Len, Cols: a.Vector.Vector.Len()},
		&anydiff.Matrix{Data: a.Vector, Rows: a.Vector.Vector.Len(), Cols: 1},
	).Data
	if a.Sharpening != 0 && a.Sharpening != 1 {
		scores = anydiff.Scale(scores, c.MakeNumeric(a.Sharpening))
	}
	weights = anydiff.Exp(anydiff.LogSoftmax(scores, m.Len))
	context = anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: weights, Rows: 1, Cols: m.Len},
		&anydiff.Matrix{Data: m.Values, Rows: m.Len, Cols: m.Size},
	).Data
	return
}

// Parameters returns the projections and the score vector.
func (a *Attention) Parameters() []*anydiff.Var {
	return append(neuralsp.AllParameters(a.MemoryProj, a.QueryProj), a.Vector)
}

// SerializerType returns the unique ID used to serialize
// an Attention with the serializer package.
func (a *Attention) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyattn.Attention"
}

// Serialize serializes the layer.
func (a *Attention) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		a.MemoryProj,
		a.QueryProj,
		&anyvecsave.S{Vector: a.Vector.Vector},
		serializer.Float64(a.Sharpening),
	)
}
