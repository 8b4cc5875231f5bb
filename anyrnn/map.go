package anyrnn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// Map runs a Block over a packed sequence batch.
//
// Every sequence starts from the block's zero state, so no
// state is carried between calls.
// The output has the same PresentMaps as the input; time
// steps where a sequence is absent cost nothing.
func Map(s anyseq.Seq, b Block) anyseq.Seq {
	steps := s.Output()
	res := &mapRes{creator: s.Creator(), in: s, block: b, vars: s.Vars()}
	if len(steps) == 0 {
		return res
	}

	state := b.Start(len(steps[0].Present))
	res.startPres = state.Present()
	for _, x := range steps {
		if x.NumPresent() != state.Present().NumPresent() {
			state = state.Reduce(x.Present)
		}
		step := b.Step(state, x.Packed)
		res.steps = append(res.steps, step)
		res.vars = anydiff.MergeVarSets(res.vars, step.Vars())
		res.out = append(res.out, &anyseq.Batch{
			Packed:  step.Output(),
			Present: x.Present,
		})
		state = step.State()
	}
	return res
}

type mapRes struct {
	creator   anyvec.Creator
	in        anyseq.Seq
	block     Block
	startPres PresentMap
	steps     []Res
	out       []*anyseq.Batch
	vars      anydiff.VarSet
}

func (m *mapRes) Creator() anyvec.Creator {
	return m.creator
}

func (m *mapRes) Output() []*anyseq.Batch {
	return m.out
}

func (m *mapRes) Vars() anydiff.VarSet {
	if m.vars == nil {
		return anydiff.VarSet{}
	}
	return m.vars
}

func (m *mapRes) Propagate(u []*anyseq.Batch, g anydiff.Grad) {
	if len(u) == 0 {
		return
	}

	var down []*anyseq.Batch
	if g.Intersects(m.in.Vars()) {
		down = make([]*anyseq.Batch, len(u))
	}

	var stateGrad StateGrad
	for i := len(m.steps) - 1; i >= 0; i-- {
		step := m.steps[i]
		if stateGrad != nil {
			pres := step.State().Present()
			if pres.NumPresent() != stateGrad.Present().NumPresent() {
				stateGrad = stateGrad.Expand(pres)
			}
		}
		inGrad, prevGrad := step.Propagate(u[i].Packed, stateGrad, g)
		if down != nil {
			down[i] = &anyseq.Batch{Packed: inGrad, Present: u[i].Present}
		}
		stateGrad = prevGrad
	}

	if stateGrad != nil {
		if m.startPres.NumPresent() != stateGrad.Present().NumPresent() {
			stateGrad = stateGrad.Expand(m.startPres)
		}
		m.block.PropagateStart(stateGrad, g)
	}

	if down != nil {
		m.in.Propagate(down, g)
	}
}
