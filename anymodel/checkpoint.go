package anymodel

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/serializer"
)

const checkpointPrefix = "model.epoch-"

// CheckpointPath returns the path of an epoch's checkpoint
// inside a model directory.
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, checkpointPrefix+strconv.Itoa(epoch))
}

// Epochs lists the epochs with checkpoints in a model
// directory, in ascending order.
func Epochs(dir string) ([]int, error) {
	listing, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "list checkpoints")
	}
	var res []int
	for _, entry := range listing {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, checkpointPrefix) {
			continue
		}
		epoch, err := strconv.Atoi(strings.TrimPrefix(name, checkpointPrefix))
		if err != nil || epoch < 0 {
			continue
		}
		res = append(res, epoch)
	}
	sort.Ints(res)
	return res, nil
}

// Save atomically writes a checkpoint for an epoch.
func (m *Model) Save(dir string, epoch int) error {
	data, err := serializer.SerializeAny(m)
	if err != nil {
		return errors.Wrap(err, "save model")
	}
	path := CheckpointPath(dir, epoch)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errors.Wrap(err, "save model")
	}
	logrus.WithFields(logrus.Fields{
		"path": path,
		"size": humanize.Bytes(uint64(len(data))),
	}).Info("saved checkpoint")
	return nil
}

// Load restores the checkpoint of an epoch from a model
// directory.
// An epoch of -1 selects the latest checkpoint.
func Load(dir string, epoch int) (*Model, error) {
	if epoch == -1 {
		epochs, err := Epochs(dir)
		if err != nil {
			return nil, errors.Wrap(err, "load model")
		}
		if len(epochs) == 0 {
			return nil, errors.Errorf("load model: no checkpoints in %s", dir)
		}
		epoch = epochs[len(epochs)-1]
	} else if epoch < 0 {
		return nil, fmt.Errorf("load model: invalid epoch %d", epoch)
	}
	path := CheckpointPath(dir, epoch)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load model")
	}
	var res *Model
	if err := serializer.DeserializeAny(data, &res); err != nil {
		return nil, errors.Wrapf(err, "load model: %s", path)
	}
	logrus.WithFields(logrus.Fields{
		"path":   path,
		"type":   res.Type,
		"params": humanize.Comma(int64(res.NumParams())),
	}).Info("restored checkpoint")
	return res, nil
}
