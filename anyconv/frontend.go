package anyconv

import (
	"errors"
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var f Frontend
	serializer.RegisterTypedDeserializer(f.SerializerType(), DeserializeFrontend)
	var b Block
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBlock)
}

// FrontendConfig configures a convolutional front-end.
//
// Kernel sizes, strides, and poolings are given as
// (time, frequency) pairs.
// A zero pooling disables pooling for that block.
type FrontendConfig struct {
	InputSize     int
	InputChannels int

	Channels    []int
	KernelSizes [][2]int
	Strides     [][2]int
	Poolings    [][2]int

	Activation    string
	BatchNorm     bool
	ParameterInit float64
}

// Enabled reports whether any convolution is configured.
func (f *FrontendConfig) Enabled() bool {
	return len(f.Channels) > 0
}

// Validate checks the configuration for consistency.
func (f *FrontendConfig) Validate() error {
	if !f.Enabled() {
		return nil
	}
	if f.InputChannels <= 0 || f.InputSize <= 0 || f.InputSize%f.InputChannels != 0 {
		return fmt.Errorf("input size %d not divisible into %d channels", f.InputSize,
			f.InputChannels)
	}
	if len(f.KernelSizes) != len(f.Channels) || len(f.Strides) != len(f.Channels) {
		return errors.New("conv channels, kernel sizes, and strides must have equal lengths")
	}
	if len(f.Poolings) != 0 && len(f.Poolings) != len(f.Channels) {
		return errors.New("conv poolings must be empty or match conv channels")
	}
	for i, ch := range f.Channels {
		if ch <= 0 {
			return fmt.Errorf("conv block %d: invalid channel count %d", i, ch)
		}
		for _, x := range append(f.KernelSizes[i][:], f.Strides[i][:]...) {
			if x <= 0 {
				return fmt.Errorf("conv block %d: kernel sizes and strides must be positive", i)
			}
		}
		if len(f.Poolings) > 0 && (f.Poolings[i][0] < 0 || f.Poolings[i][1] < 0) {
			return fmt.Errorf("conv block %d: negative pooling", i)
		}
	}
	if _, err := neuralsp.ParseActivation(f.activation()); err != nil {
		return err
	}
	return nil
}

func (f *FrontendConfig) activation() string {
	if f.Activation == "" {
		return "relu"
	}
	return f.Activation
}

// A Block is one stage of a Frontend: zero padding, a
// convolution, optional batch normalization, an
// activation, and optional max pooling.
type Block struct {
	Pad        Padding
	Conv       *Conv
	Norm       *BatchNorm
	Activation neuralsp.Activation
	Pool       MaxPool
}

// DeserializeBlock deserializes a Block.
func DeserializeBlock(d []byte) (*Block, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Block", err)
	}
	if len(slice) != 6 && len(slice) != 7 {
		return nil, fmt.Errorf("deserialize Block: unexpected field count %d", len(slice))
	}
	var ints [4]int
	for i := range ints {
		x, ok := slice[i].(serializer.Int)
		if !ok {
			return nil, fmt.Errorf("deserialize Block: field %d is not an Int", i)
		}
		ints[i] = int(x)
	}
	res := &Block{
		Pad:  Padding{PadTime: ints[0], PadFreq: ints[1]},
		Pool: MaxPool{SpanTime: ints[2], SpanFreq: ints[3]},
	}
	var ok bool
	if res.Conv, ok = slice[4].(*Conv); !ok {
		return nil, errors.New("deserialize Block: missing Conv")
	}
	if res.Activation, ok = slice[5].(neuralsp.Activation); !ok {
		return nil, errors.New("deserialize Block: missing Activation")
	}
	if len(slice) == 7 {
		if res.Norm, ok = slice[6].(*BatchNorm); !ok {
			return nil, errors.New("deserialize Block: bad BatchNorm")
		}
	}
	return res, nil
}

// Pooled reports whether the block pools its output.
func (b *Block) Pooled() bool {
	return b.Pool.SpanTime > 0 && b.Pool.SpanFreq > 0
}

// OutGeometry computes the output shape of the block.
func (b *Block) OutGeometry(in Geometry) Geometry {
	g := b.Conv.OutGeometry(b.Pad.OutGeometry(in))
	if b.Pooled() {
		g = b.Pool.OutGeometry(g)
	}
	return g
}

// Apply applies the block to a single image.
func (b *Block) Apply(in anydiff.Res, geom Geometry) (anydiff.Res, Geometry) {
	out, geoms := b.ApplyBatch(in, []Geometry{geom})
	return out, geoms[0]
}

// ApplyBatch applies the block to a batch of images of
// varying sizes, stored back to back in joint.
//
// Batch normalization statistics are taken over every
// image of the batch at once.
func (b *Block) ApplyBatch(joint anydiff.Res, geoms []Geometry) (anydiff.Res,
	[]Geometry) {
	convGeoms := make([]Geometry, len(geoms))
	for i, g := range geoms {
		convGeoms[i] = b.Conv.OutGeometry(b.Pad.OutGeometry(g))
	}
	out := anydiff.Pool(joint, func(joint anydiff.Res) anydiff.Res {
		parts := splitImages(joint, geoms)
		for i, part := range parts {
			padded := b.Pad.Apply(part, geoms[i])
			parts[i] = b.Conv.Apply(padded, b.Pad.OutGeometry(geoms[i]))
		}
		return anydiff.Concat(parts...)
	})
	if b.Norm != nil {
		out = b.Norm.Apply(out, 1)
	}
	out = b.Activation.Apply(out, 1)
	if !b.Pooled() {
		return out, convGeoms
	}

	outGeoms := make([]Geometry, len(geoms))
	for i, g := range convGeoms {
		outGeoms[i] = b.Pool.OutGeometry(g)
	}
	out = anydiff.Pool(out, func(out anydiff.Res) anydiff.Res {
		parts := splitImages(out, convGeoms)
		for i, part := range parts {
			parts[i] = b.Pool.Apply(part, convGeoms[i])
		}
		return anydiff.Concat(parts...)
	})
	return out, outGeoms
}

// Parameters returns the convolution and normalization
// parameters.
func (b *Block) Parameters() []*anydiff.Var {
	return neuralsp.AllParameters(b.Conv, b.Norm)
}

// SerializerType returns the unique ID used to serialize
// a Block with the serializer package.
func (b *Block) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyconv.Block"
}

// Serialize serializes the block.
func (b *Block) Serialize() ([]byte, error) {
	fields := []serializer.Serializer{
		serializer.Int(b.Pad.PadTime),
		serializer.Int(b.Pad.PadFreq),
		serializer.Int(b.Pool.SpanTime),
		serializer.Int(b.Pool.SpanFreq),
		b.Conv,
		b.Activation,
	}
	if b.Norm != nil {
		fields = append(fields, b.Norm)
	}
	return serializer.SerializeSlice(fields)
}

// A Frontend is a stack of convolutional blocks applied to
// each utterance before the recurrent layers.
//
// Input frames hold InputChannels blocks of InputFreq
// features, channel-major (for example static, delta, and
// double-delta filterbank features).
type Frontend struct {
	InputFreq     int
	InputChannels int
	Blocks        []*Block
}

// DeserializeFrontend deserializes a Frontend.
func DeserializeFrontend(d []byte) (*Frontend, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Frontend", err)
	}
	if len(slice) < 2 {
		return nil, errors.New("deserialize Frontend: missing header")
	}
	freq, ok1 := slice[0].(serializer.Int)
	channels, ok2 := slice[1].(serializer.Int)
	if !ok1 || !ok2 {
		return nil, errors.New("deserialize Frontend: bad header")
	}
	res := &Frontend{InputFreq: int(freq), InputChannels: int(channels)}
	for _, x := range slice[2:] {
		b, ok := x.(*Block)
		if !ok {
			return nil, fmt.Errorf("deserialize Frontend: not a Block: %T", x)
		}
		res.Blocks = append(res.Blocks, b)
	}
	return res, nil
}

// NewFrontend creates a randomized Frontend.
func NewFrontend(c anyvec.Creator, cfg FrontendConfig) (*Frontend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("create frontend", err)
	}
	if !cfg.Enabled() {
		return nil, errors.New("create frontend: no convolutions configured")
	}
	act, _ := neuralsp.ParseActivation(cfg.activation())
	res := &Frontend{
		InputFreq:     cfg.InputSize / cfg.InputChannels,
		InputChannels: cfg.InputChannels,
	}
	inChannels := cfg.InputChannels
	for i, ch := range cfg.Channels {
		kernel := cfg.KernelSizes[i]
		block := &Block{
			Pad:        Padding{PadTime: kernel[0] / 2, PadFreq: kernel[1] / 2},
			Conv:       NewConv(c, inChannels, ch, kernel, cfg.Strides[i], cfg.ParameterInit),
			Activation: act,
		}
		if cfg.BatchNorm {
			block.Norm = NewBatchNorm(c, ch)
		}
		if len(cfg.Poolings) > 0 {
			block.Pool = MaxPool{SpanTime: cfg.Poolings[i][0], SpanFreq: cfg.Poolings[i][1]}
		}
		res.Blocks = append(res.Blocks, block)
		inChannels = ch
	}
	if res.OutputSize() == 0 {
		return nil, errors.New("create frontend: frequency axis vanishes")
	}
	return res, nil
}

// OutLen computes the number of output frames for an
// input of the given number of frames.
// Each block maps T to (T+2*pad-k)/s+1, then divides by
// the time pooling.
func (f *Frontend) OutLen(frames int) int {
	g := Geometry{Time: frames, Freq: f.InputFreq, Channels: f.InputChannels}
	for _, b := range f.Blocks {
		g = b.OutGeometry(g)
		if g.Time <= 0 {
			return 0
		}
	}
	return g.Time
}

// OutputSize returns the size of each output frame.
func (f *Frontend) OutputSize() int {
	// The frequency axis does not depend on the number
	// of frames.
	g := Geometry{Time: 1 << 16, Freq: f.InputFreq, Channels: f.InputChannels}
	for _, b := range f.Blocks {
		g = b.OutGeometry(g)
	}
	return g.Freq * g.Channels
}

// SetTraining toggles batch statistics in every block.
func (f *Frontend) SetTraining(training bool) {
	for _, b := range f.Blocks {
		if b.Norm != nil {
			b.Norm.Training = training
		}
	}
}

// Apply applies the front-end to a batch of utterances,
// given frame by frame.
// It returns the output sequences and their lengths.
//
// Apply panics if an utterance is too short to survive
// the time subsampling.
func (f *Frontend) Apply(c anyvec.Creator, utts [][]anyvec.Vector) (anyseq.Seq, []int) {
	frameSize := f.InputFreq * f.InputChannels
	interleave := f.interleaver(c)

	images := make([]anyvec.Vector, 0, len(utts))
	geoms := make([]Geometry, len(utts))
	for i, frames := range utts {
		if f.OutLen(len(frames)) <= 0 {
			panic(fmt.Sprintf("utterance %d: %d frames is too short for the front-end",
				i, len(frames)))
		}
		for _, frame := range frames {
			if frame.Len() != frameSize {
				panic(fmt.Sprintf("expected frame size %d but got %d", frameSize, frame.Len()))
			}
			img := c.MakeVector(frameSize)
			interleave.Map(frame, img)
			images = append(images, img)
		}
		geoms[i] = Geometry{Time: len(frames), Freq: f.InputFreq, Channels: f.InputChannels}
	}

	var out anydiff.Res = anydiff.NewConst(c.Concat(images...))
	for _, b := range f.Blocks {
		out, geoms = b.ApplyBatch(out, geoms)
	}
	lengths := make([]int, len(geoms))
	for i, g := range geoms {
		lengths[i] = g.Time
	}
	return neuralsp.JoinPacked(c, out, lengths), lengths
}

// splitImages slices a batch of back-to-back images.
func splitImages(joint anydiff.Res, geoms []Geometry) []anydiff.Res {
	res := make([]anydiff.Res, len(geoms))
	var offset int
	for i, g := range geoms {
		res[i] = anydiff.Slice(joint, offset, offset+g.Size())
		offset += g.Size()
	}
	return res
}

// Parameters returns the parameters of every block.
func (f *Frontend) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, b := range f.Blocks {
		res = append(res, b.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Frontend with the serializer package.
func (f *Frontend) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyconv.Frontend"
}

// Serialize serializes the front-end.
func (f *Frontend) Serialize() ([]byte, error) {
	slice := []serializer.Serializer{
		serializer.Int(f.InputFreq),
		serializer.Int(f.InputChannels),
	}
	for _, b := range f.Blocks {
		slice = append(slice, b)
	}
	return serializer.SerializeSlice(slice)
}

// interleaver maps channel-major frames to the
// channel-minor layout used for images.
func (f *Frontend) interleaver(c anyvec.Creator) anyvec.Mapper {
	table := make([]int, 0, f.InputFreq*f.InputChannels)
	for freq := 0; freq < f.InputFreq; freq++ {
		for ch := 0; ch < f.InputChannels; ch++ {
			table = append(table, ch*f.InputFreq+freq)
		}
	}
	return c.MakeMapper(len(table), table)
}
