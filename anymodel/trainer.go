package anymodel

import (
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anysgd"
	"github.com/unixpickle/anydiff"
)

// A Trainer is an anysgd.Gradienter for a Model.
// It expects batches of type *Batch.
type Trainer struct {
	Model *Model

	// WeightDecay adds WeightDecay/2 times the squared norm
	// of the parameters to the cost.
	WeightDecay float64

	// LastCost is set by Gradient to the cost of the
	// latest batch, excluding weight decay.
	LastCost float64
}

// Gradient computes the gradient of the model's cost.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	batch, ok := b.(*Batch)
	if !ok {
		panic(fmt.Sprintf("unexpected batch type: %T", b))
	}
	params := t.Model.Parameters()
	res := anydiff.NewGrad(params...)

	cost := t.Model.Cost(batch)
	t.LastCost = scalar(cost.Output())
	if t.WeightDecay > 0 {
		cost = anydiff.Add(cost, neuralsp.L2Penalty(t.WeightDecay, params))
	}

	c := cost.Output().Creator()
	cost.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), res)
	return res
}
