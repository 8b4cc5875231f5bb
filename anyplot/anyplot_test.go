package anyplot

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/YYTtyy/neural-sp/anydata"
	"github.com/YYTtyy/neural-sp/anyenc"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func checkPNG(t *testing.T, path string) {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.True(t, cfg.Width > cfg.Height)
}

func TestPaths(t *testing.T) {
	modelDir := t.TempDir()
	dir, err := ResetDir(modelDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelDir, DirName), dir)

	path, err := OutputPath(dir, "spk1_utt2", "_word")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "spk1", "spk1_utt2_word.png"), path)
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err = ResetDir(modelDir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "spk1"))
	assert.True(t, os.IsNotExist(err))
}

func TestAttentionWeights(t *testing.T) {
	dir := t.TempDir()
	weights := [][]float64{
		{0.7, 0.2, 0.1, 0, 0},
		{0.1, 0.8, 0.1, 0, 0},
		{0, 0.1, 0.9, 0, 0},
	}
	var spectrogram [][]float64
	for i := 0; i < 6; i++ {
		frame := make([]float64, 100)
		for j := range frame {
			frame[j] = float64(i*j%7) - 3
		}
		spectrogram = append(spectrogram, frame)
	}

	path := filepath.Join(dir, "utt.png")
	require.NoError(t, AttentionWeights(path, weights, []string{"a", "b", "c"}, 3, 2,
		"abc", spectrogram))
	checkPNG(t, path)

	path = filepath.Join(dir, "no_spec.png")
	require.NoError(t, AttentionWeights(path, weights[:1], []string{"a"}, 5, 1, "", nil))
	checkPNG(t, path)

	err := AttentionWeights(filepath.Join(dir, "empty.png"), nil, nil, 3, 1, "", nil)
	assert.Equal(t, ErrNoLabels, err)
	_, err = os.Stat(filepath.Join(dir, "empty.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestWord2CharWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w2c.png")
	weights := [][]float64{{0.5, 0.5, 0}, {0, 0.2, 0.8}}
	require.NoError(t, Word2CharWeights(path, weights, []string{"ab", "c"},
		[]string{"a", "b", "c"}))
	checkPNG(t, path)

	assert.Equal(t, ErrNoLabels, Word2CharWeights(path, weights, nil, []string{"a"}))
}

func TestBatch(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	var frames [][]anyvec.Vector
	for _, n := range []int{3, 2} {
		var seq []anyvec.Vector
		for i := 0; i < n; i++ {
			seq = append(seq, c.MakeVectorData(c.MakeNumericList([]float64{float64(i), 1})))
		}
		frames = append(frames, seq)
	}
	batch := &anymodel.Batch{
		Names:     []string{"spk1_a", "spk2_b"},
		Inputs:    &anyenc.Batch{Frames: frames},
		Labels:    [][]int{{0}, {1}},
		SubLabels: [][]int{{0, 1}, {1}},
	}
	hyps := &anymodel.Hyps{
		Labels:     [][]int{{0}, {}},
		SubLabels:  [][]int{{0, 1}, {1}},
		Weights:    [][][]float64{{{0.5, 0.3, 0.2}}, {}},
		SubWeights: [][][]float64{{{1, 0, 0}, {0, 1, 0}}, {{0.5, 0.5}}},
		Word2Char:  [][][]float64{{{0.4, 0.6}}, {}},
		Lengths:    []int{3, 2},
	}
	cfg := &anydata.Config{
		Features: anydata.FeatureConfig{NumStack: 1},
		Vocab:    anydata.NewVocab([]string{"ab", "c"}),
		SubVocab: anydata.NewVocab([]string{"a", "b"}),
	}

	dir, err := ResetDir(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, Batch(dir, batch, hyps, cfg, true))
	for _, suffix := range []string{"_word", "_char", "_word2char"} {
		checkPNG(t, filepath.Join(dir, "spk1", "spk1_a"+suffix+".png"))
	}
	checkPNG(t, filepath.Join(dir, "spk2", "spk2_b_char.png"))
	_, err = os.Stat(filepath.Join(dir, "spk2", "spk2_b_word.png"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, Batch(dir, batch, hyps, cfg, false))
	checkPNG(t, filepath.Join(dir, "spk1", "spk1_a.png"))
}
