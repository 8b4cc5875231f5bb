package anyrnn

import (
	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var b Bidir
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBidir)
}

// Bidir implements a bi-directional RNN.
//
// The forward block is evaluated on the input sequence and
// the backward block on the reversed input sequence.
// Outputs for corresponding timesteps are combined with
// the mixer, forward output first.
type Bidir struct {
	Forward  Block
	Backward Block
	Mixer    neuralsp.Mixer
}

// DeserializeBidir deserializes a Bidir.
func DeserializeBidir(d []byte) (*Bidir, error) {
	var res Bidir
	err := serializer.DeserializeAny(d, &res.Forward, &res.Backward, &res.Mixer)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Bidir", err)
	}
	return &res, nil
}

// Apply applies the bidirectional RNN.
func (b *Bidir) Apply(in anyseq.Seq) anyseq.Seq {
	mixed, _ := b.ApplyDirs(in)
	return mixed
}

// ApplyDirs applies the bidirectional RNN and also returns
// the unmixed output of the forward block.
func (b *Bidir) ApplyDirs(in anyseq.Seq) (mixed, forward anyseq.Seq) {
	forward = Map(in, b.Forward)
	backward := anyseq.Reverse(Map(anyseq.Reverse(in), b.Backward))
	mixed = anyseq.MapN(func(n int, v ...anydiff.Res) anydiff.Res {
		return b.Mixer.Mix(v[0], v[1], n)
	}, forward, backward)
	return
}

// Parameters returns the parameters of the blocks and
// the Mixer if they implement neuralsp.Parameterizer.
func (b *Bidir) Parameters() []*anydiff.Var {
	return neuralsp.AllParameters(b.Forward, b.Backward, b.Mixer)
}

// SerializerType returns the unique ID used to serialize
// a Bidir with the serializer package.
func (b *Bidir) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyrnn.Bidir"
}

// Serialize serializes the Bidir.
func (b *Bidir) Serialize() ([]byte, error) {
	return serializer.SerializeAny(b.Forward, b.Backward, b.Mixer)
}
