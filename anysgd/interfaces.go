package anysgd

import "github.com/unixpickle/anydiff"

// A Transformer transforms gradients before they are
// applied, for example to implement an adaptive
// optimizer.
//
// After its first call, a Transformer expects gradients
// over the same variables.
// It may modify its input in place and return it.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A Batch is a mini-batch that is ready to be used.
//
// Unlike a SampleList, a Batch has all of its data loaded.
type Batch interface{}

// A Fetcher loads the data for a list of samples.
//
// SGD runs its Fetcher in the background, so that the next
// Batch is usually ready when the previous one has been
// used.
type Fetcher interface {
	Fetch(s SampleList) (Batch, error)
}

// A Gradienter computes the gradient of a cost for a
// Batch.
type Gradienter interface {
	Gradient(b Batch) anydiff.Grad
}

// A Rater determines the learning rate given the epoch.
// Epochs are fractional: 1.5 is halfway through the second
// pass over the data.
type Rater interface {
	Rate(epoch float64) float64
}

// A SampleList is a lazy list of training samples.
type SampleList interface {
	Len() int
	Swap(i, j int)

	// Slice returns a shallow copy of part of the list.
	Slice(i, j int) SampleList
}

// A PostShuffler is a SampleList that wants to re-order
// its samples after a shuffle.
// For example, it may group samples of similar lengths.
type PostShuffler interface {
	PostShuffle()
}
