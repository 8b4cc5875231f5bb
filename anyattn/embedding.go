package anyattn

import (
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Embedding
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEmbedding)
}

// An Embedding maps token IDs to learned vectors.
type Embedding struct {
	Vectors *anydiff.Var
	Size    int
}

// NewEmbedding creates a randomized embedding for count
// tokens.
func NewEmbedding(c anyvec.Creator, count, size int, paramInit float64) *Embedding {
	vecs := c.MakeVector(count * size)
	if paramInit > 0 {
		neuralsp.UniformInit(vecs, paramInit)
	} else {
		anyvec.Rand(vecs, anyvec.Normal, nil)
	}
	return &Embedding{Vectors: anydiff.NewVar(vecs), Size: size}
}

// DeserializeEmbedding deserializes an Embedding.
func DeserializeEmbedding(d []byte) (*Embedding, error) {
	var vecs *anyvecsave.S
	var size serializer.Int
	if err := serializer.DeserializeAny(d, &vecs, &size); err != nil {
		return nil, essentials.AddCtx("deserialize Embedding", err)
	}
	if size <= 0 || vecs.Vector.Len()%int(size) != 0 {
		return nil, fmt.Errorf("deserialize Embedding: bad size %d", size)
	}
	return &Embedding{Vectors: anydiff.NewVar(vecs.Vector), Size: int(size)}, nil
}

// Count returns the number of tokens.
func (e *Embedding) Count() int {
	return e.Vectors.Vector.Len() / e.Size
}

// Lookup returns the vector for a token.
func (e *Embedding) Lookup(token int) anydiff.Res {
	if token < 0 || token >= e.Count() {
		panic(fmt.Sprintf("token %d out of range [0, %d)", token, e.Count()))
	}
	return anydiff.Slice(e.Vectors, token*e.Size, (token+1)*e.Size)
}

// Parameters returns the embedding vectors.
func (e *Embedding) Parameters() []*anydiff.Var {
	return []*anydiff.Var{e.Vectors}
}

// SerializerType returns the unique ID used to serialize
// an Embedding with the serializer package.
func (e *Embedding) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyattn.Embedding"
}

// Serialize serializes the embedding.
func (e *Embedding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: e.Vectors.Vector},
		serializer.Int(e.Size),
	)
}
