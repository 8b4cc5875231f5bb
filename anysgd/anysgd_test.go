package anysgd

import (
	"errors"
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
)

type testSample struct {
	X2 float64
	Y2 float64
	XY float64
	X  float64
	Y  float64
}

func (t *testSample) Apply(x, y anydiff.Res) anydiff.Res {
	mk := x.Output().Creator().MakeNumeric
	a := anydiff.Scale(anydiff.Mul(x, x), mk(t.X2))
	b := anydiff.Scale(anydiff.Mul(y, y), mk(t.Y2))
	c := anydiff.Scale(anydiff.Mul(x, y), mk(t.XY))
	d := anydiff.Scale(x, mk(t.X))
	e := anydiff.Scale(y, mk(t.Y))
	return anydiff.Add(
		anydiff.Add(a, b),
		anydiff.Add(anydiff.Add(c, d), e),
	)
}

type testSampleList []*testSample

func newTestSampleList() testSampleList {
	// Together, these polynomials add up to 3x^2+3xy-2x+y^2.
	// The global minimum is (x = 4/3, y = -2).
	return testSampleList{
		{X2: 2, X: -1, XY: 0, Y2: 0.5},
		{X2: -1, X: 0, XY: 2, Y2: 0.5},
		{X2: 2, X: -1, XY: 1, Y2: 0},
	}
}

func (t testSampleList) Len() int {
	return len(t)
}

func (t testSampleList) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
}

func (t testSampleList) Slice(i, j int) SampleList {
	return append(testSampleList{}, t[i:j]...)
}

type testFetcher struct{}

func (t testFetcher) Fetch(s SampleList) (Batch, error) {
	return s, nil
}

type testGradienter struct {
	X *anydiff.Var
	Y *anydiff.Var
}

func newTestGradienter(c anyvec.Creator) *testGradienter {
	return &testGradienter{
		X: anydiff.NewVar(c.MakeVector(1)),
		Y: anydiff.NewVar(c.MakeVector(1)),
	}
}

func (t *testGradienter) Gradient(b Batch) anydiff.Grad {
	var cost anydiff.Res
	for _, x := range b.(testSampleList) {
		res := x.Apply(t.X, t.Y)
		if cost == nil {
			cost = res
		} else {
			cost = anydiff.Add(cost, res)
		}
	}
	c := t.X.Vector.Creator()
	grad := anydiff.Grad{
		t.X: c.MakeVector(1),
		t.Y: c.MakeVector(1),
	}
	cost.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), grad)
	return grad
}

func (t *testGradienter) current() (x, y float64) {
	return float64(t.X.Vector.Data().([]float32)[0]),
		float64(t.Y.Vector.Data().([]float32)[0])
}

func (t *testGradienter) errorMargin() float64 {
	x, y := t.current()
	return math.Max(math.Abs(x-4.0/3), math.Abs(y+2))
}

// stopAfter returns a status function which closes done
// after n batches.
func stopAfter(n int, done chan struct{}) func(Batch) {
	return func(Batch) {
		n--
		if n == 0 {
			close(done)
		}
	}
}

func TestSGD(t *testing.T) {
	g := newTestGradienter(anyvec32.DefaultCreator{})
	done := make(chan struct{})
	s := &SGD{
		Fetcher:    testFetcher{},
		Gradienter: g,
		Samples:    newTestSampleList(),
		Rater:      ConstRater(0.0002),
		StatusFunc: stopAfter(400000, done),
		BatchSize:  1,
	}
	if err := s.Run(done); err != nil {
		t.Fatal(err)
	}
	if g.errorMargin() > 1e-2 {
		x, y := g.current()
		t.Errorf("bad solution: %f, %f", x, y)
	}
}

func TestSGDEpochs(t *testing.T) {
	g := newTestGradienter(anyvec32.DefaultCreator{})
	var epochs []int
	stopErr := errors.New("stop")
	s := &SGD{
		Fetcher:    testFetcher{},
		Gradienter: g,
		Samples:    newTestSampleList(),
		Rater:      ConstRater(0.001),
		BatchSize:  2,
		EpochFunc: func(epoch int) error {
			epochs = append(epochs, epoch)
			if epoch == 3 {
				return stopErr
			}
			return nil
		},
	}
	if err := s.Run(make(chan struct{})); err != stopErr {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(epochs) != 3 || epochs[0] != 1 || epochs[2] != 3 {
		t.Errorf("unexpected epochs: %v", epochs)
	}
	if s.NumProcessed != 9 {
		t.Errorf("expected 9 samples but processed %d", s.NumProcessed)
	}
}

type failingFetcher struct{}

func (f failingFetcher) Fetch(s SampleList) (Batch, error) {
	return nil, errors.New("no data")
}

func TestSGDFetchError(t *testing.T) {
	s := &SGD{
		Fetcher:    failingFetcher{},
		Gradienter: newTestGradienter(anyvec32.DefaultCreator{}),
		Samples:    newTestSampleList(),
		Rater:      ConstRater(0.001),
	}
	if err := s.Run(make(chan struct{})); err == nil {
		t.Error("expected an error")
	}
}
