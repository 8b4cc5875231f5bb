package anyrnn

import (
	"fmt"
	"strings"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
)

// CellType identifies a kind of recurrent cell.
type CellType int

const (
	LSTMCell CellType = iota
	GRUCell
	VanillaCell
)

// ParseCellType parses the cell names used in model
// configurations: "lstm", "gru", or "rnn".
func ParseCellType(name string) (CellType, error) {
	switch strings.ToLower(name) {
	case "lstm":
		return LSTMCell, nil
	case "gru":
		return GRUCell, nil
	case "rnn", "vanilla":
		return VanillaCell, nil
	}
	return 0, fmt.Errorf("unknown cell type: %s", name)
}

// String returns the configuration name of the cell type.
func (c CellType) String() string {
	switch c {
	case LSTMCell:
		return "lstm"
	case GRUCell:
		return "gru"
	case VanillaCell:
		return "rnn"
	}
	return fmt.Sprintf("CellType(%d)", int(c))
}

// A Cell is a serializable recurrent Block whose outputs
// are its hidden states.
type Cell interface {
	Block
	neuralsp.Parameterizer
	serializer.Serializer

	// HiddenSize returns the size of each output vector.
	HiddenSize() int

	// StepRes applies the cell to differentiable inputs.
	// It maps a batch of n inputs and state parts to the
	// next state parts, the last of which is the output.
	StepRes(in anydiff.Res, state []anydiff.Res, n int) []anydiff.Res
}

// StartParts returns constant zero state parts for a batch
// of n sequences, for use with StepRes.
func StartParts(cell Cell, n int) []anydiff.Res {
	start := cell.Start(n).(PartState)
	res := make([]anydiff.Res, len(start))
	for i, part := range start {
		res[i] = anydiff.NewConst(part.Vector)
	}
	return res
}

// NewCell creates a randomized cell of the given type.
func NewCell(t CellType, c anyvec.Creator, in, hidden int, paramInit float64) (Cell, error) {
	if in <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("invalid %s dimensions: %d -> %d", t, in, hidden)
	}
	switch t {
	case LSTMCell:
		return NewLSTM(c, in, hidden, paramInit), nil
	case GRUCell:
		return NewGRU(c, in, hidden, paramInit), nil
	case VanillaCell:
		return NewVanilla(c, in, hidden, paramInit), nil
	}
	return nil, fmt.Errorf("unknown cell type: %d", int(t))
}

// zeroStart creates a start state of zero vectors with one
// part per entry of sizes.
func zeroStart(c anyvec.Creator, n int, sizes ...int) PartState {
	res := make(PartState, len(sizes))
	for i, size := range sizes {
		res[i] = NewZeroVecState(c, size, n)
	}
	return res
}

// cellFunc computes the next state parts from pooled
// inputs and state parts.
// The last part is used as the output.
type cellFunc func(in anydiff.Res, state []anydiff.Res, n int) []anydiff.Res

type cellRes struct {
	InPool     *anydiff.Var
	StatePools []*anydiff.Var
	Parts      []anydiff.Res
	Joint      anydiff.Res
	OutState   PartState
	V          anydiff.VarSet
}

func stepCell(s State, in anyvec.Vector, f cellFunc) Res {
	ps := s.(PartState)
	res := &cellRes{InPool: anydiff.NewVar(in)}
	stateRes := make([]anydiff.Res, len(ps))
	for i, x := range ps {
		pool := anydiff.NewVar(x.Vector)
		res.StatePools = append(res.StatePools, pool)
		stateRes[i] = pool
	}

	res.Parts = f(res.InPool, stateRes, s.Present().NumPresent())
	res.OutState = make(PartState, len(res.Parts))
	for i, p := range res.Parts {
		res.OutState[i] = &VecState{Vector: p.Output(), PresentMap: s.Present()}
	}
	if len(res.Parts) == 1 {
		res.Joint = res.Parts[0]
	} else {
		res.Joint = anydiff.Concat(res.Parts...)
	}

	res.V = anydiff.MergeVarSets(res.Joint.Vars())
	res.V.Del(res.InPool)
	for _, p := range res.StatePools {
		res.V.Del(p)
	}
	return res
}

func (c *cellRes) State() State {
	return c.OutState
}

func (c *cellRes) Output() anyvec.Vector {
	return c.Parts[len(c.Parts)-1].Output()
}

func (c *cellRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *cellRes) Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	cr := u.Creator()
	g[c.InPool] = cr.MakeVector(c.InPool.Vector.Len())
	for _, p := range c.StatePools {
		g[p] = cr.MakeVector(p.Vector.Len())
	}

	last := len(c.Parts) - 1
	ups := make([]anyvec.Vector, len(c.Parts))
	if s == nil {
		for i, p := range c.Parts[:last] {
			ups[i] = cr.MakeVector(p.Output().Len())
		}
		ups[last] = u
	} else {
		sp := s.(PartState)
		for i := range ups {
			ups[i] = sp[i].Vector
		}
		ups[last].Add(u)
	}
	if len(ups) == 1 {
		c.Joint.Propagate(ups[0], g)
	} else {
		c.Joint.Propagate(cr.Concat(ups...), g)
	}

	down := g[c.InPool]
	delete(g, c.InPool)
	downState := make(PartState, len(c.StatePools))
	for i, p := range c.StatePools {
		downState[i] = &VecState{Vector: g[p], PresentMap: c.OutState.Present()}
		delete(g, p)
	}
	return down, downState
}
