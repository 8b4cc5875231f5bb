// Package anysgd trains models with mini-batch stochastic
// gradient descent.
package anysgd

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
)

// SGD performs stochastic gradient descent.
type SGD struct {
	Fetcher    Fetcher
	Gradienter Gradienter

	// Transformer may be nil.
	Transformer Transformer

	// Samples is shuffled at the start of every epoch.
	// It may not be empty.
	Samples SampleList

	Rater Rater

	// StatusFunc, if non-nil, is called with every batch
	// before its gradient is computed.
	StatusFunc func(b Batch)

	// EpochFunc, if non-nil, is called after every full
	// pass over the samples, with the number of passes
	// completed so far.
	// Returning an error stops training.
	EpochFunc func(epoch int) error

	// BatchSize is the mini-batch size.
	// If it is 0, every batch is the entire sample list.
	BatchSize int

	// NumProcessed counts the samples used so far.
	NumProcessed int
}

type fetchedBatch struct {
	Batch    Batch
	Size     int
	EpochEnd bool
	Err      error
}

// Run runs SGD until done is closed, a batch fails to
// load, or EpochFunc returns an error.
func (s *SGD) Run(done <-chan struct{}) error {
	if s.Samples.Len() == 0 {
		return errors.New("run SGD: empty sample list")
	}
	stop := make(chan struct{})
	defer close(stop)
	batches := s.fetchBatches(stop)

	for {
		var item *fetchedBatch
		select {
		case <-done:
			return nil
		case item = <-batches:
		}
		if item.Err != nil {
			return essentials.AddCtx("run SGD", item.Err)
		}
		if s.StatusFunc != nil {
			s.StatusFunc(item.Batch)
		}

		grad := s.Gradienter.Gradient(item.Batch)
		if s.Transformer != nil {
			grad = s.Transformer.Transform(grad)
		}
		epoch := float64(s.NumProcessed) / float64(s.Samples.Len())
		scaleGrad(grad, -s.Rater.Rate(epoch))
		grad.AddToVars()

		s.NumProcessed += item.Size
		if item.EpochEnd && s.EpochFunc != nil {
			if err := s.EpochFunc(s.NumProcessed / s.Samples.Len()); err != nil {
				return err
			}
		}
	}
}

func (s *SGD) fetchBatches(stop <-chan struct{}) <-chan *fetchedBatch {
	res := make(chan *fetchedBatch, 1)
	go func() {
		defer close(res)
		total := s.Samples.Len()
		idx := total
		for {
			if idx == total {
				Shuffle(s.Samples)
				idx = 0
			}
			size := s.batchSize(total - idx)
			batch, err := s.Fetcher.Fetch(s.Samples.Slice(idx, idx+size))
			idx += size
			item := &fetchedBatch{
				Batch:    batch,
				Size:     size,
				EpochEnd: idx == total,
				Err:      err,
			}
			select {
			case res <- item:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return res
}

func (s *SGD) batchSize(remaining int) int {
	if s.BatchSize == 0 || s.BatchSize > remaining {
		return remaining
	}
	return s.BatchSize
}

func scaleGrad(g anydiff.Grad, s float64) {
	for _, v := range g {
		g.Scale(v.Creator().MakeNumeric(s))
		return
	}
}
