// Command eval measures the error rates of a trained model
// on test splits.
package main

import (
	"fmt"
	"path/filepath"

	"github.com/YYTtyy/neural-sp/anydata"
	"github.com/YYTtyy/neural-sp/anyeval"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	modelPath       = kingpin.Flag("model_path", "path to the model to evaluate").Required().String()
	epoch           = kingpin.Flag("epoch", "the epoch to restore (-1 for the latest)").Default("-1").Int()
	beamWidth       = kingpin.Flag("beam_width", "beam width; 1 means greedy decoding").Default("1").Int()
	evalBatchSize   = kingpin.Flag("eval_batch_size", "the size of mini-batch in evaluation").Default("1").Int()
	maxDecodeLen    = kingpin.Flag("max_decode_len", "maximum number of labels without eos").Default("600").Int()
	maxDecodeLenSub = kingpin.Flag("max_decode_len_sub", "maximum number of sub labels without eos").Default("600").Int()
	dataSavePath    = kingpin.Flag("data_save_path", "path to saved data").Required().String()
	splits          = kingpin.Flag("splits", "splits to evaluate").Default("test_clean", "test_other").Strings()
	table           = kingpin.Flag("table", "print a summary table").Default("false").Bool()
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
	cfg, err := anydata.NewConfig(model.Creator(), params, *dataSavePath)
	if err != nil {
		logrus.WithError(err).Fatal("Load vocabulary failed")
	}

	opts := anyeval.Options{
		Decode: anymodel.DecodeOptions{
			BeamWidth: *beamWidth,
			MaxLen:    *maxDecodeLen,
			MaxLenSub: *maxDecodeLenSub,
		},
		BatchSize: *evalBatchSize,
		Progress:  true,
	}

	fmt.Println("=== Test Data Evaluation ===")
	var results []*anyeval.Result
	for _, split := range *splits {
		data, err := anydata.LoadDataset(*dataSavePath, split, cfg)
		if err != nil {
			logrus.WithError(err).WithField("split", split).Fatal("Load dataset failed")
		}
		res, err := anyeval.Evaluate(model, data, split, opts)
		if err != nil {
			logrus.WithError(err).WithField("split", split).Fatal("Evaluation failed")
		}
		fmt.Println()
		fmt.Println(res.Summary())
		results = append(results, res)
	}
	if *table {
		fmt.Println(anyeval.Table(results))
	}
}
