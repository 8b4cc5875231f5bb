package anysgd

import (
	"testing"

	"github.com/unixpickle/anyvec/anyvec32"
)

func TestAdam(t *testing.T) {
	g := newTestGradienter(anyvec32.DefaultCreator{})
	done := make(chan struct{})
	s := &SGD{
		Fetcher:     testFetcher{},
		Gradienter:  g,
		Transformer: &Adam{},
		Samples:     newTestSampleList(),
		Rater:       ConstRater(0.001),
		StatusFunc:  stopAfter(100000, done),
		BatchSize:   1,
	}
	if err := s.Run(done); err != nil {
		t.Fatal(err)
	}
	if g.errorMargin() > 1e-2 {
		x, y := g.current()
		t.Errorf("bad solution: %f, %f", x, y)
	}
}
