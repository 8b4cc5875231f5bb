package anyenc

import (
	"testing"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anyconv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
)

func testConfig() Config {
	return Config{
		InputSize:     3,
		CellType:      "lstm",
		NumUnits:      4,
		NumLayers:     2,
		NumLayersSub:  1,
		ParameterInit: 0.1,
		NumStack:      1,
		Splice:        1,
	}
}

func TestPermRoundTrip(t *testing.T) {
	lengths := []int{2, 7, 7, 1, 9, 2}
	perm := SortPerm(lengths)
	assert.Equal(t, Perm{4, 1, 2, 0, 5, 3}, perm)

	sorted := PermuteSlice(perm, lengths)
	assert.Equal(t, []int{9, 7, 7, 2, 2, 1}, sorted)
	assert.Equal(t, lengths, perm.Restore(sorted))

	names := []string{"a", "b", "c", "d", "e", "f"}
	assert.Equal(t, names, RestoreSlice(perm, PermuteSlice(perm, names)))
	assert.Equal(t, names, PermuteSlice(perm.Inverse(), PermuteSlice(perm, names)))
}

func TestEncoderScenario(t *testing.T) {
	c := anyvec32.CurrentCreator()
	enc, err := New(c, testConfig())
	require.NoError(t, err)

	res := enc.Apply(randomBatch(c, 3, []int{5, 3, 4}))
	assert.Equal(t, Perm{0, 2, 1}, res.Perm)
	assert.Equal(t, []int{5, 4, 3}, res.Lengths)

	padded := res.Padded()
	subPadded := res.SubPadded()
	require.Len(t, padded, 3)
	require.Len(t, subPadded, 3)
	for i := range padded {
		assert.Len(t, padded[i], 5)
		assert.Len(t, subPadded[i], 5)
		for _, v := range padded[i] {
			assert.Equal(t, 4, v.Len())
		}
	}
	assert.Equal(t, 3*4, res.FinalState.Output().Len())
	assert.Equal(t, 3*4, res.SubFinalState.Output().Len())
}

func TestEncoderPaddingIgnored(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	enc, err := New(c, testConfig())
	require.NoError(t, err)

	batch := randomBatch(c, 3, []int{4, 2})
	res1 := enc.Apply(batch)

	batch.Lengths = []int{4, 2}
	batch.Frames[1] = append(batch.Frames[1], randomBatch(c, 3, []int{2}).Frames[0]...)
	res2 := enc.Apply(batch)

	assertVecsClose(t, res1.FinalState.Output(), res2.FinalState.Output())
	assert.Equal(t, []int{4, 2}, res2.Lengths)
}

func TestEncoderLengths(t *testing.T) {
	c := anyvec32.CurrentCreator()
	cfg := testConfig()
	cfg.InputSize = 6
	cfg.Conv = anyconv.FrontendConfig{
		InputChannels: 2,
		Channels:      []int{2},
		KernelSizes:   [][2]int{{3, 3}},
		Strides:       [][2]int{{1, 1}},
		Poolings:      [][2]int{{2, 1}},
	}
	enc, err := New(c, cfg)
	require.NoError(t, err)

	inLens := []int{9, 4, 12}
	res := enc.Apply(randomBatch(c, 6, inLens))
	expected := make([]int, len(inLens))
	for i, idx := range res.Perm {
		expected[i] = enc.Frontend.OutLen(inLens[idx])
	}
	assert.Equal(t, []int{6, 4, 2}, expected)
	assert.Equal(t, expected, res.Lengths)
	assert.Equal(t, expected, neuralsp.SeqLengths(res.Outputs))
	assert.Equal(t, expected, neuralsp.SeqLengths(res.SubOutputs))

	cfg = testConfig()
	enc, err = New(c, cfg)
	require.NoError(t, err)
	res = enc.Apply(randomBatch(c, 3, inLens))
	assert.Equal(t, []int{12, 9, 4}, neuralsp.SeqLengths(res.Outputs))
}

func TestNewResidualConflict(t *testing.T) {
	_, err := ParseResidualMode(true, true)
	assert.Error(t, err)

	for _, mode := range [][2]bool{{false, false}, {true, false}, {false, true}} {
		_, err := ParseResidualMode(mode[0], mode[1])
		assert.NoError(t, err)
	}

	c := anyvec32.CurrentCreator()
	for _, bidir := range []bool{false, true} {
		for _, cell := range []string{"lstm", "gru", "rnn"} {
			cfg := testConfig()
			cfg.Bidirectional = bidir
			cfg.CellType = cell
			cfg.Residual = ResidualMode(3)
			_, err := New(c, cfg)
			assert.Error(t, err, "cell=%s bidir=%v", cell, bidir)
		}
	}
}

func TestNewSubLayerRange(t *testing.T) {
	c := anyvec32.CurrentCreator()
	for _, sub := range []int{-1, 0, 3, 4} {
		cfg := testConfig()
		cfg.NumLayersSub = sub
		_, err := New(c, cfg)
		assert.Error(t, err, "sub layer %d", sub)
	}
	for _, sub := range []int{1, 2} {
		cfg := testConfig()
		cfg.NumLayersSub = sub
		_, err := New(c, cfg)
		assert.NoError(t, err, "sub layer %d", sub)
	}
}

func TestNewInvalid(t *testing.T) {
	c := anyvec32.CurrentCreator()
	mutations := map[string]func(cfg *Config){
		"cell type": func(cfg *Config) { cfg.CellType = "transformer" },
		"units":     func(cfg *Config) { cfg.NumUnits = 0 },
		"layers":    func(cfg *Config) { cfg.NumLayers = 0 },
		"dropout":   func(cfg *Config) { cfg.Dropout = 1 },
		"conv stack": func(cfg *Config) {
			cfg.NumStack = 2
			cfg.Conv = anyconv.FrontendConfig{
				InputChannels: 1,
				Channels:      []int{1},
				KernelSizes:   [][2]int{{3, 3}},
				Strides:       [][2]int{{1, 1}},
			}
		},
		"residual width": func(cfg *Config) {
			cfg.Residual = Residual
			cfg.NumProj = 3
		},
	}
	for name, f := range mutations {
		cfg := testConfig()
		f(&cfg)
		_, err := New(c, cfg)
		assert.Error(t, err, name)
	}
}

func TestMergeWidth(t *testing.T) {
	c := anyvec32.CurrentCreator()
	cfg := testConfig()
	cfg.Bidirectional = true
	cfg.MergeBidirectional = true
	enc, err := New(c, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, enc.OutSize())
	assert.Equal(t, 4, enc.SubOutSize())

	res := enc.Apply(randomBatch(c, 3, []int{3, 5}))
	assert.Equal(t, 4, neuralsp.SeqWidth(res.Outputs))
	assert.Equal(t, 4, neuralsp.SeqWidth(res.SubOutputs))

	cfg.MergeBidirectional = false
	enc, err = New(c, cfg)
	require.NoError(t, err)
	res = enc.Apply(randomBatch(c, 3, []int{3, 5}))
	assert.Equal(t, 8, neuralsp.SeqWidth(res.Outputs))
	assert.Equal(t, 2*4, res.FinalState.Output().Len())
}

func TestMergeSumsDirections(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	seq := anyseq.ConstSeqList(c, [][]anyvec.Vector{
		{c.MakeVectorData([]float64{1, 2, 3, 4})},
	})
	merged := mergeDirs(seq, 2)
	out := merged.Output()[0].Packed.Data().([]float64)
	assert.Equal(t, []float64{4, 6}, out)
}

func TestEncoderResidual(t *testing.T) {
	c := anyvec32.CurrentCreator()
	for _, mode := range []ResidualMode{Residual, DenseResidual} {
		cfg := testConfig()
		cfg.NumLayers = 3
		cfg.NumLayersSub = 2
		cfg.Residual = mode
		cfg.Bidirectional = true
		cfg.NumProj = 8
		enc, err := New(c, cfg)
		require.NoError(t, err, mode.String())
		res := enc.Apply(randomBatch(c, 3, []int{2, 4}))
		assert.Equal(t, 8, neuralsp.SeqWidth(res.Outputs))
		assert.Equal(t, []int{4, 2}, neuralsp.SeqLengths(res.SubOutputs))
	}
}

func TestEncoderResidualValues(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	for _, mode := range []ResidualMode{Residual, DenseResidual} {
		cfg := testConfig()
		cfg.NumLayers = 3
		cfg.NumLayersSub = 2
		cfg.Residual = mode
		cfg.ParameterInit = 0.5
		enc, err := New(c, cfg)
		require.NoError(t, err, mode.String())

		batch := randomBatch(c, 3, []int{2, 4, 3})
		res := enc.Apply(batch)
		in := anyseq.ConstSeqList(c, PermuteSlice(res.Perm, batch.Frames))

		raw1, _ := enc.Layers[0].Apply(in)
		out1 := anyseq.SeparateSeqs(raw1.Output())
		raw2, _ := enc.Layers[1].Apply(raw1)
		out2 := sumFrames(anyseq.SeparateSeqs(raw2.Output()), out1)
		raw3, _ := enc.Layers[2].Apply(anyseq.ConstSeqList(c, out2))
		var out3 [][]anyvec.Vector
		if mode == Residual {
			out3 = sumFrames(anyseq.SeparateSeqs(raw3.Output()), out2)
		} else {
			out3 = sumFrames(anyseq.SeparateSeqs(raw3.Output()), out1, out2)
		}

		assertFramesClose(t, out2, anyseq.SeparateSeqs(res.SubOutputs.Output()))
		assertFramesClose(t, out3, anyseq.SeparateSeqs(res.Outputs.Output()))
	}
}

func TestFinalStateForward(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	cfg.Bidirectional = true
	cfg.ParameterInit = 0.5
	enc, err := New(c, cfg)
	require.NoError(t, err)

	res := enc.Apply(randomBatch(c, 3, []int{2, 5, 3}))
	for _, x := range []struct {
		state anydiff.Res
		out   anyseq.Seq
	}{
		{res.FinalState, res.Outputs},
		{res.SubFinalState, res.SubOutputs},
	} {
		units := cfg.NumUnits
		state := neuralsp.Float64s(x.state.Output())
		require.Len(t, state, 3*units)
		for i, seq := range anyseq.SeparateSeqs(x.out.Output()) {
			last := neuralsp.Float64s(seq[len(seq)-1])
			require.Len(t, last, 2*units)
			assert.InDeltaSlice(t, last[:units], state[i*units:(i+1)*units], 1e-8,
				"sequence %d", i)
		}
	}
}

func TestEncoderProp(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	cfg.NumUnits = 2
	cfg.Bidirectional = true
	cfg.NumProj = 4
	cfg.Residual = DenseResidual
	cfg.NumLayers = 3
	cfg.ParameterInit = 0.5
	enc, err := New(c, cfg)
	require.NoError(t, err)
	batch := randomBatch(c, 3, []int{2, 3})

	checker := &anydifftest.SeqChecker{
		F: func() anyseq.Seq {
			return enc.Apply(batch).Outputs
		},
		V: enc.Parameters(),
	}
	checker.FullCheck(t)

	stateChecker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return enc.Apply(batch).SubFinalState
		},
		V: enc.Parameters(),
	}
	stateChecker.FullCheck(t)
}

func TestEncoderSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	cfg.Bidirectional = true
	cfg.NumProj = 5
	cfg.Dropout = 0.2
	enc, err := New(c, cfg)
	require.NoError(t, err)

	data, err := serializer.SerializeAny(enc)
	require.NoError(t, err)
	var dec *Encoder
	require.NoError(t, serializer.DeserializeAny(data, &dec))

	assert.Equal(t, enc.FrameSize, dec.FrameSize)
	assert.Equal(t, enc.SubLayer, dec.SubLayer)
	assert.Equal(t, enc.Dropout.Rate, dec.Dropout.Rate)
	require.Len(t, dec.Layers, 2)
	assert.NotNil(t, dec.Layers[0].Projection)
	assert.Nil(t, dec.Layers[1].Projection)

	batch := randomBatch(c, 3, []int{3, 2})
	assertVecsClose(t, enc.Apply(batch).FinalState.Output(),
		dec.Apply(batch).FinalState.Output())
}

func randomBatch(c anyvec.Creator, frameSize int, lengths []int) *Batch {
	res := &Batch{}
	for _, l := range lengths {
		var frames []anyvec.Vector
		for i := 0; i < l; i++ {
			v := c.MakeVector(frameSize)
			anyvec.Rand(v, anyvec.Normal, nil)
			frames = append(frames, v)
		}
		res.Frames = append(res.Frames, frames)
	}
	return res
}

func sumFrames(seqs ...[][]anyvec.Vector) [][]anyvec.Vector {
	res := make([][]anyvec.Vector, len(seqs[0]))
	for i, seq := range seqs[0] {
		for j, v := range seq {
			sum := v.Copy()
			for _, other := range seqs[1:] {
				sum.Add(other[i][j])
			}
			res[i] = append(res[i], sum)
		}
	}
	return res
}

func assertFramesClose(t *testing.T, expected, actual [][]anyvec.Vector) {
	require.Len(t, actual, len(expected))
	for i, seq := range expected {
		require.Len(t, actual[i], len(seq), "sequence %d", i)
		for j, v := range seq {
			assertVecsClose(t, v, actual[i][j])
		}
	}
}

func assertVecsClose(t *testing.T, expected, actual anyvec.Vector) {
	diff := expected.Copy()
	diff.Sub(actual)
	max := anyvec.AbsMax(diff)
	switch max := max.(type) {
	case float64:
		assert.InDelta(t, 0, max, 1e-6)
	case float32:
		assert.InDelta(t, 0, float64(max), 1e-4)
	}
}
