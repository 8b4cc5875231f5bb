package anyplot

import (
	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anydata"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/sirupsen/logrus"
)

// Batch plots the attention weights of every utterance in
// a decoded batch.
//
// For nested models, it writes three plots per utterance
// (suffixes _word, _char and _word2char); otherwise it
// writes one plot of the main decoder.
func Batch(plotDir string, b *anymodel.Batch, hyps *anymodel.Hyps, cfg *anydata.Config,
	nested bool) error {
	numStack := cfg.Features.NumStack
	for i, name := range b.Names {
		var spectrogram [][]float64
		for _, frame := range b.Inputs.Frames[i] {
			spectrogram = append(spectrogram, neuralsp.Float64s(frame))
		}
		labels := cfg.Vocab.Idx2Token(hyps.Labels[i])
		ref := cfg.Vocab.Text(b.Labels[i])

		if !nested {
			err := plotUtterance(plotDir, name, "", func(path string) error {
				return AttentionWeights(path, hyps.Weights[i], labels, hyps.Lengths[i],
					numStack, ref, spectrogram)
			})
			if err != nil {
				return err
			}
			continue
		}

		subLabels := cfg.SubVocab.Idx2Token(hyps.SubLabels[i])
		subRef := cfg.SubVocab.Text(b.SubLabels[i])
		plots := []struct {
			suffix string
			f      func(path string) error
		}{
			{"_word", func(path string) error {
				return AttentionWeights(path, hyps.Weights[i], labels, hyps.Lengths[i],
					numStack, ref, spectrogram)
			}},
			{"_char", func(path string) error {
				return AttentionWeights(path, hyps.SubWeights[i], subLabels, hyps.Lengths[i],
					numStack, subRef, spectrogram)
			}},
			{"_word2char", func(path string) error {
				return Word2CharWeights(path, hyps.Word2Char[i], labels, subLabels)
			}},
		}
		for _, p := range plots {
			if err := plotUtterance(plotDir, name, p.suffix, p.f); err != nil {
				return err
			}
		}
	}
	return nil
}

func plotUtterance(plotDir, name, suffix string, f func(path string) error) error {
	path, err := OutputPath(plotDir, name, suffix)
	if err != nil {
		return err
	}
	if err := f(path); err == ErrNoLabels {
		logrus.WithField("utt", name+suffix).Warn("empty hypothesis, skipping plot")
	} else if err != nil {
		return err
	} else {
		logrus.WithField("path", path).Debug("saved plot")
	}
	return nil
}
