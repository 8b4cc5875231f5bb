package anyeval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YYTtyy/neural-sp/anydata"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestEditDistance(t *testing.T) {
	cases := []struct {
		ref, hyp string
		dist     int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "ab", 2},
		{"kitten", "sitting", 3},
		{"abc", "abc", 0},
		{"abc", "acb", 2},
		{"flaw", "lawn", 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.dist, EditDistance([]rune(c.ref), []rune(c.hyp)), c.ref+"/"+c.hyp)
	}
}

func TestRates(t *testing.T) {
	charVocab := anydata.NewVocab([]string{"a", "b", "c", "_"})
	var r Rates
	// "ab_c" decoded as "ab_cc".
	r.Add(charVocab, []int{0, 1, 3, 2}, []int{0, 1, 3, 2, 2})
	assert.True(t, r.CharLevel)
	assert.Equal(t, ErrorCount{Errors: 1, Total: 3}, r.CER)
	assert.Equal(t, ErrorCount{Errors: 1, Total: 2}, r.WER)

	wordVocab := anydata.NewVocab([]string{"hello", "big", "world"})
	var w Rates
	w.Add(wordVocab, []int{0, 1, 2}, []int{0, 2})
	assert.False(t, w.CharLevel)
	assert.Equal(t, 0, w.CER.Total)
	assert.InDelta(t, 1.0/3, w.WER.Rate(), 1e-8)

	var empty ErrorCount
	assert.Equal(t, 0.0, empty.Rate())
}

func writeCorpus(t *testing.T, n int) string {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "vocab"), 0755))
	require.NoError(t, os.WriteFile(anydata.VocabPath(dir, "character"),
		[]byte("a\nb\n_\n"), 0644))
	lines := []string{"utt_id,feature_path,label"}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("spk_%d", i)
		frames := make(anydata.Frames, 6+i)
		for j := range frames {
			frames[j] = []float64{float64(j) / 10, float64(i)}
		}
		require.NoError(t, anydata.WriteNpy(filepath.Join(dir, name+".npy"), frames))
		lines = append(lines, name+","+name+".npy,a _ b")
	}
	require.NoError(t, os.WriteFile(anydata.ManifestPath(dir, "test"),
		[]byte(strings.Join(lines, "\n")+"\n"), 0644))
	return dir
}

func TestEvaluate(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	dir := writeCorpus(t, 5)
	for _, modelType := range []string{"ctc", "attention"} {
		p := &anymodel.Params{
			ModelType:        modelType,
			InputChannel:     2,
			LabelType:        "character",
			EncoderNumUnits:  3,
			EncoderNumLayers: 1,
			EmbeddingDim:     2,
			ParameterInit:    0.1,
		}
		p.SetDefaults()
		cfg, err := anydata.NewConfig(c, p, dir)
		require.NoError(t, err)
		data, err := anydata.LoadDataset(dir, "test", cfg)
		require.NoError(t, err)
		model, err := anymodel.New(c, p)
		require.NoError(t, err)

		res, err := Evaluate(model, data, "test", Options{
			Decode:    anymodel.DecodeOptions{BeamWidth: 2, MaxLen: 4},
			BatchSize: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Utterances)
		assert.Nil(t, res.Sub)
		assert.True(t, res.Main.CharLevel)
		assert.Equal(t, 10, res.Main.CER.Total)
		assert.Equal(t, 10, res.Main.WER.Total)
		assert.True(t, strings.HasPrefix(res.Summary(), "  CER (test): "))

		table := Table([]*Result{res})
		assert.Contains(t, table, "test")
		assert.Contains(t, table, "WER")
	}
}
