package anyconv

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Padding adds zeros around an utterance image: PadTime
// frames before and after, PadFreq bins below and above.
type Padding struct {
	PadTime int
	PadFreq int
}

// OutGeometry computes the padded shape.
func (p Padding) OutGeometry(in Geometry) Geometry {
	return Geometry{
		Time:     in.Time + 2*p.PadTime,
		Freq:     in.Freq + 2*p.PadFreq,
		Channels: in.Channels,
	}
}

// Apply pads a single image.
func (p Padding) Apply(in anydiff.Res, geom Geometry) anydiff.Res {
	if p.PadTime == 0 && p.PadFreq == 0 {
		return in
	}
	if in.Output().Len() != geom.Size() {
		panic("incorrect input size")
	}
	out := p.OutGeometry(geom)
	table := make([]int, 0, geom.Size())
	for t := 0; t < geom.Time; t++ {
		rowOffset := (t + p.PadTime) * out.Freq * out.Channels
		for f := 0; f < geom.Freq; f++ {
			colOffset := rowOffset + (f+p.PadFreq)*out.Channels
			for ch := 0; ch < out.Channels; ch++ {
				table = append(table, colOffset+ch)
			}
		}
	}
	c := in.Output().Creator()
	mapper := c.MakeMapper(out.Size(), table)
	outVec := c.MakeVector(out.Size())
	mapper.MapTranspose(in.Output(), outVec)
	return &paddingRes{In: in, Mapper: mapper, OutVec: outVec}
}

type paddingRes struct {
	In     anydiff.Res
	Mapper anyvec.Mapper
	OutVec anyvec.Vector
}

func (p *paddingRes) Output() anyvec.Vector {
	return p.OutVec
}

func (p *paddingRes) Vars() anydiff.VarSet {
	return p.In.Vars()
}

func (p *paddingRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	down := u.Creator().MakeVector(p.Mapper.OutSize())
	p.Mapper.Map(u, down)
	p.In.Propagate(down, g)
}
