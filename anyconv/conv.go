// Package anyconv implements the convolutional front-end
// which can replace frame stacking in front of a
// recurrent encoder.
//
// Utterances are treated as images whose rows are frames
// and whose columns are frequency bins, stored row-major
// with channels innermost.
package anyconv

import (
	"errors"
	"fmt"
	"math"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c Conv
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConv)
}

// Geometry describes the shape of an utterance image.
type Geometry struct {
	Time     int
	Freq     int
	Channels int
}

// Size returns the number of components in the image.
func (g Geometry) Size() int {
	return g.Time * g.Freq * g.Channels
}

// Conv is a 2-D convolution over time and frequency.
//
// The filters do not depend on the number of frames, so a
// single Conv can be applied to utterances of any length.
type Conv struct {
	InChannels  int
	OutChannels int

	KernelTime int
	KernelFreq int
	StrideTime int
	StrideFreq int

	Filters *anydiff.Var
	Biases  *anydiff.Var
}

// DeserializeConv deserializes a Conv.
func DeserializeConv(d []byte) (*Conv, error) {
	var inC, kT, kF, sT, sF serializer.Int
	var f, b *anyvecsave.S
	err := serializer.DeserializeAny(d, &inC, &kT, &kF, &sT, &sF, &f, &b)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Conv", err)
	}
	res := &Conv{
		InChannels:  int(inC),
		OutChannels: b.Vector.Len(),
		KernelTime:  int(kT),
		KernelFreq:  int(kF),
		StrideTime:  int(sT),
		StrideFreq:  int(sF),
		Filters:     anydiff.NewVar(f.Vector),
		Biases:      anydiff.NewVar(b.Vector),
	}
	if res.Filters.Vector.Len() != res.filterSize()*res.OutChannels {
		return nil, errors.New("deserialize Conv: invalid filter size")
	}
	return res, nil
}

// NewConv creates a randomized Conv.
//
// With a positive paramInit, parameters are uniform in
// [-paramInit, paramInit); otherwise filters are scaled
// normals and biases are zero.
func NewConv(c anyvec.Creator, inChannels, outChannels int, kernel, stride [2]int,
	paramInit float64) *Conv {
	res := &Conv{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelTime:  kernel[0],
		KernelFreq:  kernel[1],
		StrideTime:  stride[0],
		StrideFreq:  stride[1],
	}
	res.Filters = anydiff.NewVar(c.MakeVector(res.filterSize() * outChannels))
	res.Biases = anydiff.NewVar(c.MakeVector(outChannels))
	if paramInit > 0 {
		neuralsp.UniformInit(res.Filters.Vector, paramInit)
		neuralsp.UniformInit(res.Biases.Vector, paramInit)
	} else {
		anyvec.Rand(res.Filters.Vector, anyvec.Normal, nil)
		res.Filters.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(res.filterSize()))))
	}
	return res
}

// OutGeometry computes the output shape for an input
// shape.
// A dimension is 0 if the kernel does not fit.
func (c *Conv) OutGeometry(in Geometry) Geometry {
	return Geometry{
		Time:     windowCount(in.Time, c.KernelTime, c.StrideTime),
		Freq:     windowCount(in.Freq, c.KernelFreq, c.StrideFreq),
		Channels: c.OutChannels,
	}
}

// Apply applies the convolution to a single image.
func (c *Conv) Apply(in anydiff.Res, geom Geometry) anydiff.Res {
	if geom.Channels != c.InChannels {
		panic(fmt.Sprintf("expected %d channels but got %d", c.InChannels, geom.Channels))
	}
	if in.Output().Len() != geom.Size() {
		panic("incorrect input size")
	}
	out := c.OutGeometry(geom)
	if out.Time == 0 || out.Freq == 0 {
		panic(fmt.Sprintf("input of %d frames is too short for convolution", geom.Time))
	}

	cr := in.Output().Creator()
	im2row := &Im2Row{
		WindowTime: c.KernelTime,
		WindowFreq: c.KernelFreq,
		StrideTime: c.StrideTime,
		StrideFreq: c.StrideFreq,
		Input:      geom,
	}
	imgMat := im2row.MakeOut(cr)
	im2row.Mapper(cr).Map(in.Output(), imgMat.Data)

	prodMat := &anyvec.Matrix{
		Data: cr.MakeVector(out.Size()),
		Rows: out.Time * out.Freq,
		Cols: c.OutChannels,
	}
	prodMat.Product(false, true, cr.MakeNumeric(1), imgMat, c.filterMatrix(),
		cr.MakeNumeric(0))
	anyvec.AddRepeated(prodMat.Data, c.Biases.Vector)

	ourVars := anydiff.VarSet{}
	ourVars.Add(c.Filters)
	ourVars.Add(c.Biases)

	return &convRes{
		Layer:  c,
		Im2Row: im2row,
		ImgMat: imgMat,
		In:     in,
		OutVec: prodMat.Data,
		V:      anydiff.MergeVarSets(in.Vars(), ourVars),
	}
}

// Parameters returns the filters and biases, in that
// order.
func (c *Conv) Parameters() []*anydiff.Var {
	return []*anydiff.Var{c.Filters, c.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Conv with the serializer package.
func (c *Conv) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyconv.Conv"
}

// Serialize serializes the layer.
func (c *Conv) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(c.InChannels),
		serializer.Int(c.KernelTime),
		serializer.Int(c.KernelFreq),
		serializer.Int(c.StrideTime),
		serializer.Int(c.StrideFreq),
		&anyvecsave.S{Vector: c.Filters.Vector},
		&anyvecsave.S{Vector: c.Biases.Vector},
	)
}

func (c *Conv) filterSize() int {
	return c.KernelTime * c.KernelFreq * c.InChannels
}

func (c *Conv) filterMatrix() *anyvec.Matrix {
	return &anyvec.Matrix{
		Data: c.Filters.Vector,
		Rows: c.OutChannels,
		Cols: c.filterSize(),
	}
}

type convRes struct {
	Layer  *Conv
	Im2Row *Im2Row
	ImgMat *anyvec.Matrix
	In     anydiff.Res
	OutVec anyvec.Vector
	V      anydiff.VarSet
}

func (c *convRes) Output() anyvec.Vector {
	return c.OutVec
}

func (c *convRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *convRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	cr := u.Creator()
	one := cr.MakeNumeric(1)
	zero := cr.MakeNumeric(0)

	uMat := &anyvec.Matrix{
		Data: u,
		Rows: u.Len() / c.Layer.OutChannels,
		Cols: c.Layer.OutChannels,
	}
	if biasGrad, ok := g[c.Layer.Biases]; ok {
		biasGrad.Add(anyvec.SumRows(u, c.Layer.OutChannels))
	}
	if filterGrad, ok := g[c.Layer.Filters]; ok {
		fgMat := *c.Layer.filterMatrix()
		fgMat.Data = filterGrad
		fgMat.Product(true, false, one, uMat, c.ImgMat, one)
	}
	if g.Intersects(c.In.Vars()) {
		downMat := &anyvec.Matrix{
			Data: cr.MakeVector(c.ImgMat.Data.Len()),
			Rows: c.ImgMat.Rows,
			Cols: c.ImgMat.Cols,
		}
		downMat.Product(false, false, one, uMat, c.Layer.filterMatrix(), zero)
		down := cr.MakeVector(c.In.Output().Len())
		c.Im2Row.Mapper(cr).MapTranspose(downMat.Data, down)
		c.In.Propagate(down, g)
	}
}

func windowCount(size, window, stride int) int {
	n := 1 + (size-window)/stride
	if size < window || n < 0 {
		return 0
	}
	return n
}
