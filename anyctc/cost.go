package anyctc

import (
	"math"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
)

// Cost computes the negative log likelihood of each label
// given the corresponding output sequence.
//
// The outputs must be log probabilities, with the blank
// symbol last.
// The result has one component per sequence.
func Cost(seqs anyseq.Seq, labels [][]int) anydiff.Res {
	c := seqs.Creator()
	if len(seqs.Output()) == 0 {
		costs := make([]float64, len(labels))
		for i, l := range labels {
			if len(l) > 0 {
				costs[i] = math.Inf(1)
			}
		}
		return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(costs)))
	}
	lengths := neuralsp.SeqLengths(seqs)
	if len(lengths) != len(labels) {
		panic("sequence count does not match label count")
	}
	return anydiff.Scale(neuralsp.PoolSeqs(seqs, func(in []anydiff.Res) anydiff.Res {
		res := make([]anydiff.Res, len(in))
		for i, x := range in {
			res[i] = logLikelihood(c, neuralsp.SplitRes(x, lengths[i]), labels[i])
		}
		return anydiff.Concat(res...)
	}), c.MakeNumeric(-1))
}
