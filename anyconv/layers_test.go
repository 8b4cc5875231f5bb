package anyconv

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
)

func TestConvOutput(t *testing.T) {
	c := anyvec32.CurrentCreator()
	conv := NewConv(c, 1, 1, [2]int{2, 2}, [2]int{1, 1}, 0)
	conv.Filters.Vector.SetData([]float32{1, 1, 1, 1})
	conv.Biases.Vector.SetData([]float32{0.5})

	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{1, 2, 3, 4, 5, 6}))
	geom := Geometry{Time: 3, Freq: 2, Channels: 1}
	out := conv.Apply(in, geom)
	if g := conv.OutGeometry(geom); g != (Geometry{Time: 2, Freq: 1, Channels: 1}) {
		t.Fatalf("unexpected geometry: %+v", g)
	}
	assertClose(t, out.Output(), []float32{10.5, 18.5})
}

func TestConvProp(t *testing.T) {
	c := anyvec32.CurrentCreator()
	conv := NewConv(c, 2, 3, [2]int{2, 3}, [2]int{1, 2}, 0)
	geom := Geometry{Time: 4, Freq: 5, Channels: 2}
	inVar := randomVar(c, geom.Size())
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return conv.Apply(inVar, geom)
		},
		V: append([]*anydiff.Var{inVar}, conv.Parameters()...),
	}
	checker.FullCheck(t)
}

func TestPaddingOutput(t *testing.T) {
	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{7, 8}))
	p := Padding{PadTime: 1, PadFreq: 1}
	geom := Geometry{Time: 1, Freq: 1, Channels: 2}
	out := p.Apply(in, geom)
	if g := p.OutGeometry(geom); g != (Geometry{Time: 3, Freq: 3, Channels: 2}) {
		t.Fatalf("unexpected geometry: %+v", g)
	}
	expected := make([]float32, 18)
	expected[8] = 7
	expected[9] = 8
	assertClose(t, out.Output(), expected)
}

func TestPaddingProp(t *testing.T) {
	c := anyvec32.CurrentCreator()
	geom := Geometry{Time: 2, Freq: 3, Channels: 2}
	inVar := randomVar(c, geom.Size())
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return Padding{PadTime: 2, PadFreq: 1}.Apply(inVar, geom)
		},
		V: []*anydiff.Var{inVar},
	}
	checker.FullCheck(t)
}

func TestMaxPoolOutput(t *testing.T) {
	// Two channels, 2x3 image; the last frequency column
	// is dropped.
	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{
		1, -1, 5, -2, 9, 9,
		3, -4, 2, -3, 9, 9,
	}))
	pool := MaxPool{SpanTime: 2, SpanFreq: 2}
	geom := Geometry{Time: 2, Freq: 3, Channels: 2}
	if g := pool.OutGeometry(geom); g != (Geometry{Time: 1, Freq: 1, Channels: 2}) {
		t.Fatalf("unexpected geometry: %+v", g)
	}
	assertClose(t, pool.Apply(in, geom).Output(), []float32{5, -1})
}

func TestMaxPoolProp(t *testing.T) {
	c := anyvec32.CurrentCreator()
	geom := Geometry{Time: 4, Freq: 4, Channels: 3}
	inVar := randomVar(c, geom.Size())
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return MaxPool{SpanTime: 2, SpanFreq: 2}.Apply(inVar, geom)
		},
		V: []*anydiff.Var{inVar},
	}
	checker.FullCheck(t)
}

func TestBatchNormTrainingProp(t *testing.T) {
	layer := NewBatchNorm(anyvec32.CurrentCreator(), 2)
	layer.Training = true
	inVar := randomVar(anyvec32.CurrentCreator(), 24)
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return layer.Apply(inVar, 1)
		},
		V: append([]*anydiff.Var{inVar}, layer.Parameters()...),
	}
	checker.FullCheck(t)
}

func TestBatchNormRunning(t *testing.T) {
	c := anyvec32.CurrentCreator()
	layer := NewBatchNorm(c, 2)
	layer.RunningMean.SetData([]float32{1, -1})
	layer.RunningVariance.SetData([]float32{4, 1})
	layer.Stabilizer = 1e-8
	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{3, 0, 5, 1}))
	assertClose(t, layer.Apply(in, 1).Output(), []float32{1, 1, 2, 2})

	layer.Training = true
	layer.Apply(in, 1)
	mean := layer.RunningMean.Data().([]float32)
	// Batch means are 4 and 0.5.
	if math.Abs(float64(mean[0])-(0.9*1+0.1*4)) > 1e-4 ||
		math.Abs(float64(mean[1])-(0.9*-1+0.1*0.5)) > 1e-4 {
		t.Errorf("unexpected running mean: %v", mean)
	}
}

func randomVar(c anyvec.Creator, size int) *anydiff.Var {
	v := c.MakeVector(size)
	anyvec.Rand(v, anyvec.Normal, nil)
	return anydiff.NewVar(v)
}

func assertClose(t *testing.T, actual anyvec.Vector, expected []float32) {
	t.Helper()
	data := actual.Data().([]float32)
	if len(data) != len(expected) {
		t.Fatalf("expected %d components but got %d", len(expected), len(data))
	}
	for i, x := range expected {
		if math.IsNaN(float64(data[i])) || math.Abs(float64(x-data[i])) > 1e-4 {
			t.Fatalf("expected %v but got %v", expected, data)
		}
	}
}
