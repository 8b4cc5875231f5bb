// Package anydata loads speech corpora for training and
// evaluation.
//
// A corpus directory holds one CSV manifest per split and
// one vocabulary file per label type.
package anydata

import (
	"crypto/md5"
	"runtime"
	"sort"
	"sync"

	"github.com/YYTtyy/neural-sp/anyenc"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/YYTtyy/neural-sp/anysgd"
	"github.com/pkg/errors"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// FeatureConfig describes how stored features become
// encoder inputs.
type FeatureConfig struct {
	// InputSize is the number of static features per frame.
	InputSize int

	Delta       bool
	DoubleDelta bool

	// Interleave stores the static and delta features of
	// each bin next to each other, as expected by a
	// convolutional front-end.
	Interleave bool

	Splice   int
	NumStack int
	NumSkip  int
}

// Channels returns 1 plus the number of delta orders.
func (f *FeatureConfig) Channels() int {
	res := 1
	if f.Delta {
		res++
	}
	if f.DoubleDelta {
		res++
	}
	return res
}

// Process turns stored frames into encoder inputs.
//
// Stored frames either hold only static features, in which
// case deltas are computed, or hold the deltas already.
func (f *FeatureConfig) Process(frames Frames) (Frames, error) {
	switch frames.Width() {
	case 0:
		return nil, errors.New("process features: no frames")
	case f.InputSize:
		frames = AddDeltas(frames, f.Delta, f.DoubleDelta)
	case f.InputSize * f.Channels():
	default:
		return nil, errors.Errorf("process features: unexpected frame width %d (input size %d)",
			frames.Width(), f.InputSize)
	}
	if f.Interleave {
		frames = InterleaveChannels(frames, f.Channels())
	}
	frames = Splice(frames, f.Splice)
	return StackFrames(frames, f.NumStack, f.NumSkip), nil
}

// Config configures a Dataset.
type Config struct {
	Features FeatureConfig

	Vocab *Vocab

	// SubVocab is nil for models without a sub task.
	SubVocab *Vocab

	Creator anyvec.Creator

	// MaxGos limits the goroutines loading features.
	// If it is 0, GOMAXPROCS is used.
	MaxGos int
}

// NewConfig creates a Config for a model, loading the
// vocabularies from a corpus directory.
//
// If p.NumClasses (or p.NumClassesSub) is zero, it is set
// to the size of the vocabulary.
func NewConfig(c anyvec.Creator, p *anymodel.Params, dataDir string) (*Config, error) {
	typ, err := anymodel.ParseType(p.ModelType)
	if err != nil {
		return nil, err
	}
	res := &Config{
		Features: FeatureConfig{
			InputSize:   p.InputChannel,
			Delta:       p.UseDelta,
			DoubleDelta: p.UseDoubleDelta,
			Interleave:  len(p.ConvChannels) > 0,
			Splice:      p.Splice,
			NumStack:    p.NumStack,
			NumSkip:     p.NumSkip,
		},
		Creator: c,
	}
	res.Vocab, err = LoadVocab(VocabPath(dataDir, p.LabelType))
	if err != nil {
		return nil, err
	}
	if err := checkClasses("num_classes", &p.NumClasses, res.Vocab); err != nil {
		return nil, err
	}
	if typ.Hierarchical() {
		if p.LabelTypeSub == "" {
			return nil, errors.Errorf("new config: %s model needs label_type_sub", typ)
		}
		res.SubVocab, err = LoadVocab(VocabPath(dataDir, p.LabelTypeSub))
		if err != nil {
			return nil, err
		}
		if err := checkClasses("num_classes_sub", &p.NumClassesSub, res.SubVocab); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func checkClasses(name string, n *int, v *Vocab) error {
	if *n == 0 {
		*n = v.Len()
	} else if *n != v.Len() {
		return errors.Errorf("new config: %s is %d but vocabulary has %d tokens",
			name, *n, v.Len())
	}
	return nil
}

type sample struct {
	*Utterance
	Labels    []int
	SubLabels []int
}

// A Dataset is a list of utterances.
//
// It is an anysgd.SampleList, an anysgd.Hasher and an
// anysgd.Fetcher.
type Dataset struct {
	Config *Config

	// SortBatchSize, if non-zero, makes PostShuffle sort
	// chunks of this many utterances by length.
	SortBatchSize int

	samples []*sample
}

// LoadDataset reads the manifest of a split from a corpus
// directory.
func LoadDataset(dataDir, split string, cfg *Config) (*Dataset, error) {
	utts, err := ReadManifest(ManifestPath(dataDir, split))
	if err != nil {
		return nil, err
	}
	return NewDataset(utts, cfg)
}

// NewDataset creates a Dataset, encoding every label with
// the vocabularies of cfg.
func NewDataset(utts []*Utterance, cfg *Config) (*Dataset, error) {
	res := &Dataset{Config: cfg, samples: make([]*sample, len(utts))}
	for i, utt := range utts {
		s := &sample{Utterance: utt}
		var err error
		if s.Labels, err = cfg.Vocab.Encode(utt.Label); err != nil {
			return nil, errors.Wrapf(err, "new dataset: utterance %s", utt.ID)
		}
		if cfg.SubVocab != nil {
			if utt.SubLabel == nil {
				return nil, errors.Errorf("new dataset: utterance %s has no sub label", utt.ID)
			}
			if s.SubLabels, err = cfg.SubVocab.Encode(utt.SubLabel); err != nil {
				return nil, errors.Wrapf(err, "new dataset: utterance %s", utt.ID)
			}
		}
		res.samples[i] = s
	}
	return res, nil
}

// Len returns the number of utterances.
func (d *Dataset) Len() int {
	return len(d.samples)
}

// Swap swaps two utterances.
func (d *Dataset) Swap(i, j int) {
	d.samples[i], d.samples[j] = d.samples[j], d.samples[i]
}

// Slice creates a shallow copy of part of the list.
func (d *Dataset) Slice(i, j int) anysgd.SampleList {
	return &Dataset{
		Config:        d.Config,
		SortBatchSize: d.SortBatchSize,
		samples:       append([]*sample{}, d.samples[i:j]...),
	}
}

// Utterance returns the utterance at an index.
func (d *Dataset) Utterance(i int) *Utterance {
	return d.samples[i].Utterance
}

// Hash hashes the utterance ID.
func (d *Dataset) Hash(i int) []byte {
	sum := md5.Sum([]byte(d.samples[i].ID))
	return sum[:]
}

// LenAt returns the number of stored frames of an
// utterance.
func (d *Dataset) LenAt(i int) int {
	return d.samples[i].NumFrames
}

// PostShuffle sorts chunks of SortBatchSize utterances by
// length.
func (d *Dataset) PostShuffle() {
	if d.SortBatchSize <= 0 {
		return
	}
	for i := 0; i < d.Len(); i += d.SortBatchSize {
		end := min(i+d.SortBatchSize, d.Len())
		chunk := d.samples[i:end]
		sort.SliceStable(chunk, func(a, b int) bool {
			return chunk[a].NumFrames < chunk[b].NumFrames
		})
	}
}

// SortByLength sorts every utterance by length.
func (d *Dataset) SortByLength(descending bool) {
	sort.SliceStable(d.samples, func(a, b int) bool {
		if descending {
			return d.samples[a].NumFrames > d.samples[b].NumFrames
		}
		return d.samples[a].NumFrames < d.samples[b].NumFrames
	})
}

// Fetch loads a *anymodel.Batch for a subset of the
// Dataset, reading feature files concurrently.
// The s argument must be a non-empty *Dataset.
func (d *Dataset) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}
	l := s.(*Dataset)
	frames := make([][]anyvec.Vector, l.Len())

	idxChan := make(chan int, l.Len())
	for i := 0; i < l.Len(); i++ {
		idxChan <- i
	}
	close(idxChan)

	maxGos := d.Config.MaxGos
	if maxGos == 0 {
		maxGos = runtime.GOMAXPROCS(0)
	}

	wg := sync.WaitGroup{}
	errChan := make(chan error, maxGos)
	for i := 0; i < maxGos; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				vecs, err := d.load(l.samples[i].Utterance)
				if err != nil {
					errChan <- essentials.AddCtx("fetch batch", err)
					return
				}
				frames[i] = vecs
			}
		}()
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	res := &anymodel.Batch{Inputs: &anyenc.Batch{Frames: frames}}
	for _, s := range l.samples {
		res.Names = append(res.Names, s.ID)
		res.Labels = append(res.Labels, s.Labels)
		if d.Config.SubVocab != nil {
			res.SubLabels = append(res.SubLabels, s.SubLabels)
		}
	}
	return res, nil
}

func (d *Dataset) load(u *Utterance) ([]anyvec.Vector, error) {
	raw, err := ReadFeatures(u.FeaturePath)
	if err != nil {
		return nil, err
	}
	processed, err := d.Config.Features.Process(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "utterance %s", u.ID)
	}
	c := d.Config.Creator
	res := make([]anyvec.Vector, len(processed))
	for i, frame := range processed {
		res[i] = c.MakeVectorData(c.MakeNumericList(frame))
	}
	return res, nil
}

// An Iterator walks through a Dataset in order, one batch
// at a time, wrapping around at the end.
type Iterator struct {
	Data      *Dataset
	BatchSize int

	pos int
}

// Batches creates an Iterator over the Dataset.
func (d *Dataset) Batches(batchSize int) *Iterator {
	return &Iterator{Data: d, BatchSize: batchSize}
}

// Next loads the next batch.
// The returned flag is true for the last batch of a pass
// over the data.
func (it *Iterator) Next() (batch *anymodel.Batch, isNewEpoch bool, err error) {
	if it.Data.Len() == 0 {
		return nil, false, errors.New("next batch: empty dataset")
	}
	size := it.BatchSize
	if size <= 0 {
		size = it.Data.Len()
	}
	end := min(it.pos+size, it.Data.Len())
	b, err := it.Data.Fetch(it.Data.Slice(it.pos, end))
	if err != nil {
		return nil, false, err
	}
	it.pos = end
	if it.pos == it.Data.Len() {
		it.pos = 0
		isNewEpoch = true
	}
	return b.(*anymodel.Batch), isNewEpoch, nil
}
