package anyctc

import (
	"errors"

	"github.com/YYTtyy/neural-sp/anysgd"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Batch stores a batch of input sequences and the
// corresponding labels.
type Batch struct {
	Inputs anyseq.Seq
	Labels [][]int
}

// A Trainer fetches batches and computes CTC gradients for
// a function which maps input sequences to log
// probabilities.
type Trainer struct {
	Func   func(anyseq.Seq) anyseq.Seq
	Params []*anydiff.Var

	// Average divides the total cost by the batch size.
	Average bool

	// LastCost is set by Gradient to the cost of the
	// latest batch.
	LastCost anyvec.Numeric
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must implement SampleList and may not be
// empty.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}
	l := s.(SampleList)
	ins := make([][]anyvec.Vector, l.Len())
	labels := make([][]int, l.Len())
	for i := range ins {
		sample, err := l.GetSample(i)
		if err != nil {
			return nil, essentials.AddCtx("fetch batch", err)
		}
		ins[i] = sample.Input
		labels[i] = sample.Label
	}
	return &Batch{
		Inputs: anyseq.ConstSeqList(l.Creator(), ins),
		Labels: labels,
	}, nil
}

// TotalCost computes the total (or average) cost of the
// batch.
func (t *Trainer) TotalCost(b *Batch) anydiff.Res {
	costs := Cost(t.Func(b.Inputs), b.Labels)
	sum := anydiff.Sum(costs)
	if t.Average {
		n := float64(costs.Output().Len())
		return anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(1/n))
	}
	return sum
}

// Gradient computes the gradient of the cost of a *Batch
// and records the cost in LastCost.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	res := anydiff.NewGrad(t.Params...)
	cost := t.TotalCost(b.(*Batch))
	t.LastCost = anyvec.Sum(cost.Output())

	c := cost.Output().Creator()
	cost.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), res)
	return res
}
