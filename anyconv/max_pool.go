package anyconv

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// MaxPool takes the maximum over non-overlapping windows
// of SpanTime frames by SpanFreq bins, per channel.
//
// Values in an incomplete window at the end of an axis
// are dropped, so the time axis shrinks to Time/SpanTime.
type MaxPool struct {
	SpanTime int
	SpanFreq int
}

// OutGeometry computes the pooled shape.
func (m MaxPool) OutGeometry(in Geometry) Geometry {
	return Geometry{
		Time:     in.Time / m.SpanTime,
		Freq:     in.Freq / m.SpanFreq,
		Channels: in.Channels,
	}
}

// Apply pools a single image.
func (m MaxPool) Apply(in anydiff.Res, geom Geometry) anydiff.Res {
	if in.Output().Len() != geom.Size() {
		panic("incorrect input size")
	}
	out := m.OutGeometry(geom)
	if out.Time == 0 || out.Freq == 0 {
		panic("input is too small for pooling")
	}

	var mapping []int
	rowSize := geom.Freq * geom.Channels
	for t := 0; t+m.SpanTime <= geom.Time; t += m.SpanTime {
		for f := 0; f+m.SpanFreq <= geom.Freq; f += m.SpanFreq {
			for ch := 0; ch < geom.Channels; ch++ {
				for subT := 0; subT < m.SpanTime; subT++ {
					rowIdx := (t + subT) * rowSize
					for subF := 0; subF < m.SpanFreq; subF++ {
						mapping = append(mapping, rowIdx+(f+subF)*geom.Channels+ch)
					}
				}
			}
		}
	}

	c := in.Output().Creator()
	im2col := c.MakeMapper(geom.Size(), mapping)
	windows := c.MakeVector(im2col.OutSize())
	im2col.Map(in.Output(), windows)
	maxMap := anyvec.MapMax(windows, m.SpanTime*m.SpanFreq)
	outVec := c.MakeVector(maxMap.OutSize())
	maxMap.Map(windows, outVec)

	return &maxPoolRes{
		In:     in,
		Im2Col: im2col,
		MaxMap: maxMap,
		OutVec: outVec,
	}
}

type maxPoolRes struct {
	In     anydiff.Res
	Im2Col anyvec.Mapper
	MaxMap anyvec.Mapper
	OutVec anyvec.Vector
}

func (m *maxPoolRes) Output() anyvec.Vector {
	return m.OutVec
}

func (m *maxPoolRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *maxPoolRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	windows := u.Creator().MakeVector(m.MaxMap.InSize())
	m.MaxMap.MapTranspose(u, windows)
	down := u.Creator().MakeVector(m.Im2Col.InSize())
	m.Im2Col.MapTranspose(windows, down)
	m.In.Propagate(down, g)
}
