package anydata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/YYTtyy/neural-sp/anysgd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/x448/float16"
)

func rampFrames(n, width int) Frames {
	res := make(Frames, n)
	for t := range res {
		res[t] = make([]float64, width)
		for j := range res[t] {
			res[t][j] = float64(t*10 + j)
		}
	}
	return res
}

func TestNpy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feats.npy")
	frames := rampFrames(4, 3)
	require.NoError(t, WriteNpy(path, frames))

	actual, err := ReadFeatures(path)
	require.NoError(t, err)
	assert.Equal(t, frames, actual)

	n, err := FrameCount(path)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNpyFortran(t *testing.T) {
	header := "{'descr': '<f8', 'fortran_order': True, 'shape': (2, 3), }\n"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY\x01\x00")
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	binary.Write(&buf, binary.LittleEndian, []float64{1, 4, 2, 5, 3, 6})

	path := filepath.Join(t.TempDir(), "fortran.npy")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	actual, err := ReadNpy(path)
	require.NoError(t, err)
	assert.Equal(t, Frames{{1, 2, 3}, {4, 5, 6}}, actual)

	require.NoError(t, os.WriteFile(path, []byte("not numpy data"), 0644))
	_, err = ReadNpy(path)
	assert.Error(t, err)
}

func TestNpyHalf(t *testing.T) {
	header := "{'descr': '<f2', 'fortran_order': False, 'shape': (2, 2), }\n"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY\x01\x00")
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, x := range []float32{0.5, -1, 2.25, 1024} {
		binary.Write(&buf, binary.LittleEndian, float16.Fromfloat32(x).Bits())
	}

	path := filepath.Join(t.TempDir(), "half.npy")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	actual, err := ReadNpy(path)
	require.NoError(t, err)
	assert.Equal(t, Frames{{0.5, -1}, {2.25, 1024}}, actual)
}

func TestReadHTK(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, htkHeader{
		NumSamples:   2,
		SamplePeriod: 100000,
		SampleSize:   8,
		ParamKind:    9,
	})
	binary.Write(&buf, binary.BigEndian, []float32{1.5, -2, 3, 0.25})

	path := filepath.Join(t.TempDir(), "feats.htk")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	actual, err := ReadFeatures(path)
	require.NoError(t, err)
	assert.Equal(t, Frames{{1.5, -2}, {3, 0.25}}, actual)

	n, err := FrameCount(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = ReadFeatures(filepath.Join(t.TempDir(), "feats.wav"))
	assert.Error(t, err)
}

func TestAddDeltas(t *testing.T) {
	frames := make(Frames, 6)
	for i := range frames {
		frames[i] = []float64{float64(i), 7}
	}
	res := AddDeltas(frames, true, true)
	require.Len(t, res, 6)
	for i, frame := range res {
		require.Len(t, frame, 6)
		assert.Equal(t, frames[i], frame[:2])
		// Constant features have zero deltas.
		assert.InDelta(t, 0, frame[3], 1e-8)
		assert.InDelta(t, 0, frame[5], 1e-8)
	}
	assert.InDelta(t, 0.5, res[0][2], 1e-8)
	assert.InDelta(t, 0.8, res[1][2], 1e-8)
	for i := 2; i < 4; i++ {
		assert.InDelta(t, 1, res[i][2], 1e-8)
	}

	assert.Equal(t, frames, AddDeltas(frames, false, false))
	assert.Len(t, AddDeltas(frames, true, false)[0], 4)
}

func TestInterleaveChannels(t *testing.T) {
	frames := Frames{{1, 2, 3, 10, 20, 30}}
	assert.Equal(t, Frames{{1, 10, 2, 20, 3, 30}}, InterleaveChannels(frames, 2))
	assert.Equal(t, frames, InterleaveChannels(frames, 1))
}

func TestSplice(t *testing.T) {
	frames := Frames{{0}, {1}, {2}}
	assert.Equal(t, Frames{{0, 0, 1}, {0, 1, 2}, {1, 2, 2}}, Splice(frames, 3))
	assert.Equal(t, frames, Splice(frames, 1))
}

func TestStackFrames(t *testing.T) {
	frames := Frames{{0}, {1}, {2}, {3}, {4}}
	assert.Equal(t, Frames{{0, 1, 2}, {3, 4, 4}}, StackFrames(frames, 3, 3))
	assert.Equal(t, Frames{{0, 1}, {2, 3}, {4, 4}}, StackFrames(frames, 2, 2))
	assert.Equal(t, Frames{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 4}}, StackFrames(frames, 2, 1))
	assert.Equal(t, frames, StackFrames(frames, 1, 1))
}

func TestVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n\n_\nc\n"), 0644))
	v, err := LoadVocab(path)
	require.NoError(t, err)
	assert.Equal(t, 4, v.Len())
	assert.True(t, v.IsCharLevel())

	ids, err := v.Encode([]string{"a", "_", "c"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, ids)
	assert.Equal(t, "a_c", v.Text(append(ids, 4)))

	_, err = v.Encode([]string{"z"})
	assert.Error(t, err)

	words := NewVocab([]string{"hello", "world", Unknown})
	assert.False(t, words.IsCharLevel())
	ids, err = words.Encode([]string{"hello", "there", "world"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, ids)
	assert.Equal(t, []string{"hello", Unknown, "world"}, words.Idx2Token(ids))
	assert.Equal(t, "hello_world", words.Text([]int{0, 1}))
}

// writeCorpus creates a corpus with character labels and
// word sub labels.
func writeCorpus(t *testing.T, lengths []int) string {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "vocab"), 0755))
	require.NoError(t, os.WriteFile(VocabPath(dir, "character"),
		[]byte("a\nb\nc\n_\n"), 0644))
	require.NoError(t, os.WriteFile(VocabPath(dir, "word"),
		[]byte("ab\nc\n"+Unknown+"\n"), 0644))

	lines := []string{"utt_id,feature_path,label,label_sub"}
	for i, n := range lengths {
		name := fmt.Sprintf("spk%d_utt%d", i%2, i)
		require.NoError(t, WriteNpy(filepath.Join(dir, name+".npy"), rampFrames(n, 2)))
		lines = append(lines, name+","+name+".npy,a b _ c,ab c")
	}
	require.NoError(t, os.WriteFile(ManifestPath(dir, "train"),
		[]byte(strings.Join(lines, "\n")+"\n"), 0644))
	return dir
}

func testParams() *anymodel.Params {
	p := &anymodel.Params{
		ModelType:           "hierarchical_ctc",
		InputChannel:        2,
		UseDelta:            true,
		LabelType:           "character",
		LabelTypeSub:        "word",
		EncoderNumUnits:     3,
		EncoderNumLayers:    2,
		EncoderNumLayersSub: 1,
		ParameterInit:       0.1,
		MainLossWeight:      0.5,
		NumSkip:             2,
		NumStack:            2,
	}
	p.SetDefaults()
	return p
}

func TestReadManifest(t *testing.T) {
	dir := writeCorpus(t, []int{5, 3})
	utts, err := ReadManifest(ManifestPath(dir, "train"))
	require.NoError(t, err)
	require.Len(t, utts, 2)
	assert.Equal(t, "spk1_utt1", utts[1].ID)
	assert.Equal(t, "spk1", utts[1].Speaker())
	assert.Equal(t, filepath.Join(dir, "spk1_utt1.npy"), utts[1].FeaturePath)
	assert.Equal(t, []string{"a", "b", "_", "c"}, utts[0].Label)
	assert.Equal(t, []string{"ab", "c"}, utts[0].SubLabel)
	assert.Equal(t, 3, utts[1].NumFrames)

	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("utt_id,label\nx,a\n"), 0644))
	_, err = ReadManifest(path)
	assert.Error(t, err)
}

func TestDataset(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	lengths := []int{9, 16, 7, 12, 8}
	dir := writeCorpus(t, lengths)
	p := testParams()
	cfg, err := NewConfig(c, p, dir)
	require.NoError(t, err)
	assert.Equal(t, 4, p.NumClasses)
	assert.Equal(t, 3, p.NumClassesSub)
	cfg.MaxGos = 2

	data, err := LoadDataset(dir, "train", cfg)
	require.NoError(t, err)
	require.Equal(t, 5, data.Len())

	it := data.Batches(2)
	var names []string
	var newEpochs []bool
	for i := 0; i < 4; i++ {
		batch, isNew, err := it.Next()
		require.NoError(t, err)
		names = append(names, batch.Names...)
		newEpochs = append(newEpochs, isNew)
		for j, frames := range batch.Inputs.Frames {
			utt := batch.Names[j]
			idx := int(utt[len(utt)-1] - '0')
			// Two stacked frames every two frames.
			assert.Len(t, frames, (lengths[idx]+1)/2)
			assert.Equal(t, 8, frames[0].Len())
			assert.Equal(t, []int{0, 1, 3, 2}, batch.Labels[j])
			assert.Equal(t, []int{0, 1}, batch.SubLabels[j])
		}
	}
	assert.Equal(t, []bool{false, false, true, false}, newEpochs)
	assert.Equal(t, []string{"spk0_utt0", "spk1_utt1", "spk0_utt2", "spk1_utt3",
		"spk0_utt4", "spk0_utt0", "spk1_utt1"}, names)

	model, err := anymodel.New(c, p)
	require.NoError(t, err)
	batch, _, err := data.Batches(0).Next()
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Size())
	cost := neuralsp.Float64s(model.Cost(batch).Output())[0]
	assert.False(t, math.IsInf(cost, 0) || math.IsNaN(cost))
}

func TestDatasetSorting(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	dir := writeCorpus(t, []int{5, 8, 3, 6, 4})
	cfg, err := NewConfig(c, testParams(), dir)
	require.NoError(t, err)
	data, err := LoadDataset(dir, "train", cfg)
	require.NoError(t, err)

	data.SortBatchSize = 3
	data.PostShuffle()
	var lens []int
	for i := 0; i < data.Len(); i++ {
		lens = append(lens, data.LenAt(i))
	}
	assert.Equal(t, []int{3, 5, 8, 4, 6}, lens)

	data.SortByLength(true)
	assert.Equal(t, 8, data.LenAt(0))
	assert.Equal(t, 3, data.LenAt(4))

	left, right := anysgd.HashSplit(data, 0.5)
	assert.Equal(t, 5, left.Len()+right.Len())
	seen := map[string]bool{}
	for _, l := range []anysgd.SampleList{left, right} {
		for i := 0; i < l.Len(); i++ {
			seen[l.(*Dataset).Utterance(i).ID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestDatasetErrors(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	dir := writeCorpus(t, []int{3})
	p := testParams()
	p.NumClasses = 7
	_, err := NewConfig(c, p, dir)
	assert.Error(t, err)

	cfg, err := NewConfig(c, testParams(), dir)
	require.NoError(t, err)
	utts, err := ReadManifest(ManifestPath(dir, "train"))
	require.NoError(t, err)
	utts[0].Label = []string{"z"}
	_, err = NewDataset(utts, cfg)
	assert.Error(t, err)

	utts[0].Label = []string{"a"}
	utts[0].FeaturePath = filepath.Join(dir, "missing.npy")
	data, err := NewDataset(utts, cfg)
	require.NoError(t, err)
	_, _, err = data.Batches(1).Next()
	assert.Error(t, err)

	empty, err := NewDataset(nil, cfg)
	require.NoError(t, err)
	_, _, err = empty.Batches(1).Next()
	assert.Error(t, err)
}
