// Command plotnested plots the word, character and
// word-to-character attention weights of a nested
// attention model.
package main

import (
	"path/filepath"

	"github.com/YYTtyy/neural-sp/anydata"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/YYTtyy/neural-sp/anyplot"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	modelPath       = kingpin.Flag("model_path", "path to the model to evaluate").Required().String()
	epoch           = kingpin.Flag("epoch", "the epoch to restore (-1 for the latest)").Default("-1").Int()
	evalBatchSize   = kingpin.Flag("eval_batch_size", "the size of mini-batch in evaluation").Default("1").Int()
	maxDecodeLen    = kingpin.Flag("max_decode_len", "maximum number of words without eos").Default("60").Int()
	maxDecodeLenSub = kingpin.Flag("max_decode_len_sub", "maximum number of characters without eos").Default("150").Int()
	dataSavePath    = kingpin.Flag("data_save_path", "path to saved data").Required().String()
	split           = kingpin.Flag("split", "split to plot").Default("eval1").String()
	debug           = kingpin.Flag("debug", "use debug level of logging").Default("false").Bool()
)

func main() {
	kingpin.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("Log level set to debug")
	}

	params, err := anymodel.LoadParams(filepath.Join(*modelPath, anymodel.ConfigFile))
	if err != nil {
		logrus.WithError(err).Fatal("Load config failed")
	}
	model, err := anymodel.Load(*modelPath, *epoch)
	if err != nil {
		logrus.WithError(err).Fatal("Load model failed")
	}
	if model.Type != anymodel.NestedAttention {
		logrus.WithField("type", model.Type).Fatal("Model is not a nested attention model")
	}
	model.SetTraining(false)

	cfg, err := anydata.NewConfig(model.Creator(), params, *dataSavePath)
	if err != nil {
		logrus.WithError(err).Fatal("Load vocabulary failed")
	}
	data, err := anydata.LoadDataset(*dataSavePath, *split, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Load dataset failed")
	}
	data.SortByLength(true)

	plotDir, err := anyplot.ResetDir(*modelPath)
	if err != nil {
		logrus.WithError(err).Fatal("Clean plot directory failed")
	}

	it := data.Batches(*evalBatchSize)
	for {
		batch, isNewEpoch, err := it.Next()
		if err != nil {
			logrus.WithError(err).Fatal("Load batch failed")
		}
		hyps, err := model.AttentionWeights(batch.Inputs, *maxDecodeLen, *maxDecodeLenSub)
		if err != nil {
			logrus.WithError(err).Fatal("Decode failed")
		}
		if err := anyplot.Batch(plotDir, batch, hyps, cfg, true); err != nil {
			logrus.WithError(err).Fatal("Plot failed")
		}
		if isNewEpoch {
			break
		}
	}
	logrus.WithField("dir", plotDir).Info("Plots saved")
}
