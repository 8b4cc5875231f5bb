package anysgd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestClipNorm(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	v1 := anydiff.NewVar(c.MakeVector(2))
	v2 := anydiff.NewVar(c.MakeVector(1))
	g := anydiff.Grad{
		v1: c.MakeVectorData([]float64{3, 0}),
		v2: c.MakeVectorData([]float64{4}),
	}
	assert.InDelta(t, 5, GradNorm(g), 1e-9)

	(&ClipNorm{Threshold: 10}).Transform(g)
	assert.InDelta(t, 5, GradNorm(g), 1e-9)

	(&ClipNorm{Threshold: 2.5}).Transform(g)
	assert.InDelta(t, 2.5, GradNorm(g), 1e-9)
	assert.InDeltaSlice(t, []float64{1.5, 0}, g[v1].Data().([]float64), 1e-9)
}

func TestNewTransformer(t *testing.T) {
	for _, name := range []string{"adam", "Momentum", "nesterov", "rmsprop"} {
		tr, err := NewTransformer(name)
		require.NoError(t, err)
		assert.NotNil(t, tr, name)
	}
	tr, err := NewTransformer("sgd")
	require.NoError(t, err)
	assert.Nil(t, tr)

	_, err = NewTransformer("adadelta")
	assert.Error(t, err)
}

func TestDecayRater(t *testing.T) {
	r := &DecayRater{Initial: 1, Decay: 0.5, StartEpoch: 2}
	for epoch, expected := range map[float64]float64{
		0:   1,
		1.5: 1,
		2.5: 1,
		3:   0.5,
		4.2: 0.25,
	} {
		assert.InDelta(t, expected, r.Rate(epoch), 1e-12, "epoch %f", epoch)
	}
}

func TestRMSPropFirstStep(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	v := anydiff.NewVar(c.MakeVector(2))
	g := anydiff.Grad{v: c.MakeVectorData([]float64{2, -0.5})}
	(&RMSProp{}).Transform(g)
	for i, x := range g[v].Data().([]float64) {
		assert.InDelta(t, 1, math.Abs(x), 1e-6, "component %d", i)
	}
}

func TestMomentum(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	v := anydiff.NewVar(c.MakeVector(1))
	for _, nesterov := range []bool{false, true} {
		m := &Momentum{Momentum: 0.5, Nesterov: nesterov}
		var steps []float64
		for i := 0; i < 3; i++ {
			g := anydiff.Grad{v: c.MakeVectorData([]float64{2})}
			m.Transform(g)
			steps = append(steps, g[v].Data().([]float64)[0])
		}
		expected := []float64{2, 3, 3.5}
		if nesterov {
			expected = []float64{3, 3.5, 3.75}
		}
		assert.InDeltaSlice(t, expected, steps, 1e-9, "nesterov=%v", nesterov)
	}
}

type hashList []byte

func (h hashList) Len() int {
	return len(h)
}

func (h hashList) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h hashList) Slice(i, j int) SampleList {
	return append(hashList{}, h[i:j]...)
}

func (h hashList) Hash(i int) []byte {
	return []byte{h[i]}
}

func TestHashSplit(t *testing.T) {
	list := hashList{10, 200, 127, 129, 0, 255}
	left, right := HashSplit(list, 0.5)
	assert.ElementsMatch(t, []byte{10, 127, 0}, []byte(left.(hashList)))
	assert.ElementsMatch(t, []byte{200, 129, 255}, []byte(right.(hashList)))

	left, right = HashSplit(list, 0)
	assert.Equal(t, 0, left.Len())
	assert.Equal(t, 6, right.Len())
}
