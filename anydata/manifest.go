package anydata

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Manifest columns.
const (
	ColUttID       = "utt_id"
	ColFeaturePath = "feature_path"
	ColLabel       = "label"
	ColLabelSub    = "label_sub"
)

var manifestTypes = map[string]series.Type{
	ColUttID:       series.String,
	ColFeaturePath: series.String,
	ColLabel:       series.String,
	ColLabelSub:    series.String,
}

// An Utterance is one entry of a manifest.
type Utterance struct {
	ID          string
	FeaturePath string

	// Label and SubLabel are transcripts as token lists.
	// SubLabel is nil if the manifest has no sub labels.
	Label    []string
	SubLabel []string

	// NumFrames is the number of raw feature frames.
	NumFrames int
}

// Speaker returns the prefix of the utterance ID before
// the first WordSeparator.
func (u *Utterance) Speaker() string {
	return strings.SplitN(u.ID, WordSeparator, 2)[0]
}

// ManifestPath returns the path of a split's manifest
// inside a data directory.
func ManifestPath(dataDir, split string) string {
	return filepath.Join(dataDir, split+".csv")
}

// VocabPath returns the path of a label type's vocabulary
// inside a data directory.
func VocabPath(dataDir, labelType string) string {
	return filepath.Join(dataDir, "vocab", labelType+".txt")
}

// ReadManifest reads a CSV manifest with a header row.
//
// Labels are space-separated tokens.
// Relative feature paths are resolved against the
// manifest's directory.
func ReadManifest(path string) ([]*Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true),
		dataframe.WithTypes(manifestTypes))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "read manifest %s", path)
	}
	hasCol := map[string]bool{}
	for _, name := range df.Names() {
		hasCol[name] = true
	}
	for _, name := range []string{ColUttID, ColFeaturePath, ColLabel} {
		if !hasCol[name] {
			return nil, errors.Errorf("read manifest %s: missing column %s", path, name)
		}
	}

	ids := df.Col(ColUttID).Records()
	paths := df.Col(ColFeaturePath).Records()
	labels := df.Col(ColLabel).Records()
	var subLabels []string
	if hasCol[ColLabelSub] {
		subLabels = df.Col(ColLabelSub).Records()
	}

	dir := filepath.Dir(path)
	res := make([]*Utterance, df.Nrow())
	for i := range res {
		featPath := paths[i]
		if !filepath.IsAbs(featPath) {
			featPath = filepath.Join(dir, featPath)
		}
		numFrames, err := FrameCount(featPath)
		if err != nil {
			return nil, errors.Wrapf(err, "read manifest %s: utterance %s", path, ids[i])
		}
		utt := &Utterance{
			ID:          ids[i],
			FeaturePath: featPath,
			Label:       strings.Fields(labels[i]),
			NumFrames:   numFrames,
		}
		if subLabels != nil {
			utt.SubLabel = strings.Fields(subLabels[i])
		}
		res[i] = utt
	}
	return res, nil
}
