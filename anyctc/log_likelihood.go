package anyctc

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// logLikelihood computes the log probability of a label
// given per-timestep log probabilities, using the CTC
// forward algorithm.
func logLikelihood(c anyvec.Creator, steps []anydiff.Res, label []int) anydiff.Res {
	if len(steps) == 0 {
		var logProb float64
		if len(label) > 0 {
			logProb = math.Inf(-1)
		}
		return anydiff.NewConst(makeVector(c, []float64{logProb}))
	}

	blank := steps[0].Output().Len() - 1
	ext := blankInfused(label, blank)

	// Before the first step, all the mass sits on the
	// leading blank position.
	start := make([]float64, len(ext))
	for i := 1; i < len(start); i++ {
		start[i] = math.Inf(-1)
	}
	var alpha anydiff.Res = anydiff.NewConst(makeVector(c, start))
	for _, step := range steps {
		alpha = newForwardStep(alpha, step, ext)
	}

	if len(ext) == 1 {
		return newLogSumRes(alpha, []int{0})
	}
	return newLogSumRes(alpha, []int{len(ext) - 2, len(ext) - 1})
}

// blankInfused surrounds every label entry with blanks.
func blankInfused(label []int, blank int) []int {
	res := make([]int, 0, len(label)*2+1)
	res = append(res, blank)
	for _, x := range label {
		res = append(res, x, blank)
	}
	return res
}

// predecessors lists the positions that may transition to
// position s of a blank-infused label.
func predecessors(ext []int, s int) []int {
	switch {
	case s == 0:
		return []int{0}
	case s == 1 || ext[s] == ext[0] || ext[s] == ext[s-2]:
		return []int{s - 1, s}
	default:
		return []int{s - 2, s - 1, s}
	}
}

type forwardStep struct {
	Prev   anydiff.Res
	Input  anydiff.Res
	Ext    []int
	OutVec anyvec.Vector
	V      anydiff.VarSet
}

func newForwardStep(prev, input anydiff.Res, ext []int) *forwardStep {
	last := vectorFloats(prev.Output())
	in := vectorFloats(input.Output())
	next := make([]float64, len(ext))
	for s, label := range ext {
		terms := make([]float64, 0, 3)
		for _, p := range predecessors(ext, s) {
			terms = append(terms, last[p])
		}
		next[s] = logSumExp(terms...) + in[label]
	}
	return &forwardStep{
		Prev:   prev,
		Input:  input,
		Ext:    ext,
		OutVec: makeVector(input.Output().Creator(), next),
		V:      anydiff.MergeVarSets(prev.Vars(), input.Vars()),
	}
}

func (f *forwardStep) Output() anyvec.Vector {
	return f.OutVec
}

func (f *forwardStep) Vars() anydiff.VarSet {
	return f.V
}

func (f *forwardStep) Propagate(u anyvec.Vector, g anydiff.Grad) {
	upstream := vectorFloats(u)
	last := vectorFloats(f.Prev.Output())
	prevGrad := make([]float64, len(last))
	inGrad := make([]float64, f.Input.Output().Len())

	for s, label := range f.Ext {
		inGrad[label] += upstream[s]
		preds := predecessors(f.Ext, s)
		terms := make([]float64, len(preds))
		for i, p := range preds {
			terms[i] = last[p]
		}
		total := logSumExp(terms...)
		if math.IsInf(total, -1) {
			continue
		}
		for i, p := range preds {
			prevGrad[p] += upstream[s] * math.Exp(terms[i]-total)
		}
	}

	c := u.Creator()
	if g.Intersects(f.Prev.Vars()) {
		f.Prev.Propagate(makeVector(c, prevGrad), g)
	}
	if g.Intersects(f.Input.Vars()) {
		f.Input.Propagate(makeVector(c, inGrad), g)
	}
}

// logSumRes adds a subset of the components of a vector in
// the log domain.
type logSumRes struct {
	In      anydiff.Res
	Indices []int
	OutVec  anyvec.Vector
}

func newLogSumRes(in anydiff.Res, indices []int) *logSumRes {
	vals := vectorFloats(in.Output())
	terms := make([]float64, len(indices))
	for i, idx := range indices {
		terms[i] = vals[idx]
	}
	return &logSumRes{
		In:      in,
		Indices: indices,
		OutVec:  makeVector(in.Output().Creator(), []float64{logSumExp(terms...)}),
	}
}

func (l *logSumRes) Output() anyvec.Vector {
	return l.OutVec
}

func (l *logSumRes) Vars() anydiff.VarSet {
	return l.In.Vars()
}

func (l *logSumRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	vals := vectorFloats(l.In.Output())
	total := vectorFloats(l.OutVec)[0]
	upstream := vectorFloats(u)[0]
	downstream := make([]float64, len(vals))
	if !math.IsInf(total, -1) {
		for _, idx := range l.Indices {
			downstream[idx] = upstream * math.Exp(vals[idx]-total)
		}
	}
	l.In.Propagate(makeVector(u.Creator(), downstream), g)
}

// logSumExp adds numbers in the log domain.
func logSumExp(xs ...float64) float64 {
	max := math.Inf(-1)
	for _, x := range xs {
		max = math.Max(max, x)
	}
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return math.Log(sum) + max
}

func vectorFloats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	}
	panic(fmt.Sprintf("unsupported numeric type: %T", v.Data()))
}

func makeVector(c anyvec.Creator, data []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(data))
}
