package neuralsp

import "github.com/unixpickle/anydiff"

// A Cost measures the error of a batch of outputs.
//
// It takes a packed batch of desired outputs and actual
// outputs, and produces a batch of costs.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// DotCost computes the cost by taking the dot product of
// the desired and actual outputs, and then negating it.
//
// Used with LogSoftmax outputs and one-hot targets, this
// is the cross-entropy loss.
type DotCost struct{}

// Cost takes the dot product of each actual output with
// each desired output, negates it, and uses that as the
// cost.
func (d DotCost) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	comb := anydiff.Mul(desired, actual)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: comb,
		Rows: n,
		Cols: comb.Output().Len() / n,
	})
	return anydiff.Scale(dots, dots.Output().Creator().MakeNumeric(-1))
}

// L2Reg wraps a Cost and adds an L2 penalty, which is
// Penalty/2 times the sum of the squared parameters.
type L2Reg struct {
	Penalty float64
	Params  []*anydiff.Var
	Wrapped Cost
}

// Cost computes the cost from l.Wrapped and adds the L2
// penalty to each component.
func (l *L2Reg) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	return anydiff.AddRepeated(l.Wrapped.Cost(desired, actual, n), L2Penalty(l.Penalty, l.Params))
}

// L2Penalty computes penalty/2 times the sum of squares
// of every parameter, as a single-component result.
func L2Penalty(penalty float64, params []*anydiff.Var) anydiff.Res {
	var sum anydiff.Res
	for _, p := range params {
		sq := anydiff.Sum(anydiff.Square(p))
		if sum == nil {
			sum = sq
		} else {
			sum = anydiff.Add(sum, sq)
		}
	}
	if sum == nil {
		panic("no parameters to regularize")
	}
	return anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(penalty/2))
}
