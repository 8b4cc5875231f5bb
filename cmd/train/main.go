// Command train trains a model described by the config.yml
// of a model directory, saving a checkpoint per epoch.
package main

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/YYTtyy/neural-sp/anydata"
	"github.com/YYTtyy/neural-sp/anyeval"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/YYTtyy/neural-sp/anysgd"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anyvec/anyvec32"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	modelPath    = kingpin.Flag("model_path", "model directory containing config.yml").Required().String()
	dataSavePath = kingpin.Flag("data_save_path", "path to saved data").Required().String()
	trainSplit   = kingpin.Flag("train_split", "split to train on").Default("train").String()
	devRatio     = kingpin.Flag("dev_ratio", "fraction of utterances held out for validation").Default("0.05").Float64()
	resume       = kingpin.Flag("resume", "continue from the latest checkpoint").Default("false").Bool()
	debug        = kingpin.Flag("debug", "use debug level of logging").Default("false").Bool()
)

var errFinished = errors.New("finished training")

func main() {
	kingpin.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("Log level set to debug")
	}

	configPath := filepath.Join(*modelPath, anymodel.ConfigFile)
	params, err := anymodel.LoadParams(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Load config failed")
	}
	cfg, err := anydata.NewConfig(anyvec32.CurrentCreator(), params, *dataSavePath)
	if err != nil {
		logrus.WithError(err).Fatal("Load vocabulary failed")
	}

	model, startEpoch := loadOrCreate(params)
	cfg.Creator = model.Creator()
	if err := anymodel.SaveParams(configPath, params); err != nil {
		logrus.WithError(err).Fatal("Save config failed")
	}
	logrus.WithFields(logrus.Fields{
		"type":   model.Type,
		"params": humanize.Comma(int64(model.NumParams())),
	}).Info("Model ready")

	data, err := anydata.LoadDataset(*dataSavePath, *trainSplit, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Load dataset failed")
	}
	if params.SortUtt {
		data.SortBatchSize = params.BatchSize
	}
	devList, trainList := anysgd.HashSplit(data, *devRatio)
	dev := devList.(*anydata.Dataset)
	logrus.WithFields(logrus.Fields{
		"train": trainList.Len(),
		"dev":   dev.Len(),
	}).Info("Loaded utterances")

	optimizer, err := anysgd.NewTransformer(params.Optimizer)
	if err != nil {
		logrus.WithError(err).Fatal("Create optimizer failed")
	}
	transformer := anysgd.Chain{&anysgd.ClipNorm{Threshold: params.ClipGradNorm}}
	if optimizer != nil {
		transformer = append(transformer, optimizer)
	}

	trainer := &anymodel.Trainer{Model: model, WeightDecay: params.WeightDecay}
	model.SetTraining(true)

	var iter int
	sgd := &anysgd.SGD{
		Fetcher:     data,
		Gradienter:  trainer,
		Transformer: transformer,
		Samples:     trainList,
		Rater: &anysgd.DecayRater{
			Initial:    params.LearningRate,
			Decay:      params.DecayRate,
			StartEpoch: params.DecayStartEpoch,
		},
		BatchSize: params.BatchSize,
		StatusFunc: func(b anysgd.Batch) {
			if iter > 0 {
				logrus.WithFields(logrus.Fields{
					"iter": iter,
					"cost": trainer.LastCost,
				}).Debug("Trained batch")
			}
			iter++
		},
		EpochFunc: func(epoch int) error {
			epoch += startEpoch
			if err := model.Save(*modelPath, epoch); err != nil {
				return err
			}
			if dev.Len() > 0 {
				validate(model, dev, epoch, params.BatchSize)
			}
			if epoch >= params.NumEpoch {
				return errFinished
			}
			return nil
		},
	}

	if startEpoch >= params.NumEpoch {
		logrus.WithField("epoch", startEpoch).Info("Already trained")
		return
	}
	logrus.Info("Press ctrl+c once to stop...")
	if err := sgd.Run(interrupt()); err != nil && err != errFinished {
		logrus.WithError(err).Fatal("Training failed")
	}
	logrus.Info("Training stopped")
}

func loadOrCreate(params *anymodel.Params) (*anymodel.Model, int) {
	if *resume {
		epochs, err := anymodel.Epochs(*modelPath)
		if err != nil {
			logrus.WithError(err).Fatal("List checkpoints failed")
		}
		if len(epochs) > 0 {
			model, err := anymodel.Load(*modelPath, -1)
			if err != nil {
				logrus.WithError(err).Fatal("Load model failed")
			}
			return model, epochs[len(epochs)-1]
		}
	}
	model, err := anymodel.New(anyvec32.CurrentCreator(), params)
	if err != nil {
		logrus.WithError(err).Fatal("Create model failed")
	}
	return model, 0
}

func validate(model *anymodel.Model, dev *anydata.Dataset, epoch, batchSize int) {
	defer model.SetTraining(true)
	res, err := anyeval.Evaluate(model, dev, "dev", anyeval.Options{
		Decode:    anymodel.DecodeOptions{BeamWidth: 1, MaxLen: 100, MaxLenSub: 100},
		BatchSize: batchSize,
	})
	if err != nil {
		logrus.WithError(err).Error("Validation failed")
		return
	}
	fields := logrus.Fields{"epoch": epoch, "wer": res.Main.WER.Rate()}
	if res.Main.CharLevel {
		fields["cer"] = res.Main.CER.Rate()
	}
	logrus.WithFields(fields).Info("Validated")
}

func interrupt() <-chan struct{} {
	res := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		signal.Stop(sig)
		close(res)
	}()
	return res
}
