package neuralsp

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// MapSeq applies a Layer to every timestep of a sequence
// batch.
func MapSeq(seq anyseq.Seq, l Layer) anyseq.Seq {
	return anyseq.Map(seq, func(in anydiff.Res, n int) anydiff.Res {
		return l.Apply(in, n)
	})
}

// SeqLengths counts the timesteps of each sequence in a
// batch using the present maps.
func SeqLengths(seq anyseq.Seq) []int {
	out := seq.Output()
	if len(out) == 0 {
		return nil
	}
	res := make([]int, len(out[0].Present))
	for _, b := range out {
		for i, p := range b.Present {
			if p {
				res[i]++
			}
		}
	}
	return res
}

// SeqWidth returns the size of each timestep vector, or 0
// for an empty sequence batch.
func SeqWidth(seq anyseq.Seq) int {
	out := seq.Output()
	if len(out) == 0 {
		return 0
	}
	return out[0].Packed.Len() / out[0].NumPresent()
}

type poolRes struct {
	In      anyseq.Seq
	Pools   []*anydiff.Var
	Lengths []int
	Res     anydiff.Res
	V       anydiff.VarSet
}

// PoolSeqs splits a sequence batch into its sequences and
// passes them to f.
// Each sequence is given to f as a single result holding
// its timesteps back to back.
//
// Gradients of the result of f are propagated back into
// seqs.
func PoolSeqs(seqs anyseq.Seq, f func(in []anydiff.Res) anydiff.Res) anydiff.Res {
	rawData := anyseq.SeparateSeqs(seqs.Output())
	pools := make([]*anydiff.Var, len(rawData))
	pooled := make([]anydiff.Res, len(rawData))
	lengths := make([]int, len(rawData))
	for i, raw := range rawData {
		if len(raw) == 0 {
			pools[i] = anydiff.NewVar(seqs.Creator().MakeVector(0))
		} else {
			pools[i] = anydiff.NewVar(seqs.Creator().Concat(raw...))
		}
		pooled[i] = pools[i]
		lengths[i] = len(raw)
	}
	res := f(pooled)
	v := anydiff.MergeVarSets(seqs.Vars(), res.Vars())
	for _, p := range pools {
		v.Del(p)
	}
	return &poolRes{
		In:      seqs,
		Pools:   pools,
		Lengths: lengths,
		Res:     res,
		V:       v,
	}
}

func (p *poolRes) Output() anyvec.Vector {
	return p.Res.Output()
}

func (p *poolRes) Vars() anydiff.VarSet {
	return p.V
}

func (p *poolRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	for _, pvar := range p.Pools {
		g[pvar] = pvar.Vector.Creator().MakeVector(pvar.Vector.Len())
	}
	p.Res.Propagate(u, g)
	if !g.Intersects(p.In.Vars()) {
		for _, pvar := range p.Pools {
			delete(g, pvar)
		}
		return
	}
	downstream := make([][]anyvec.Vector, len(p.Pools))
	for i, pvar := range p.Pools {
		downstream[i] = splitVec(g[pvar], p.Lengths[i])
		delete(g, p.Pools[i])
	}
	joinedU := anyseq.ConstSeqList(u.Creator(), downstream).Output()
	p.In.Propagate(joinedU, g)
}

// SplitRes splits a result into equally sized chunks.
func SplitRes(res anydiff.Res, parts int) []anydiff.Res {
	if parts == 0 {
		return nil
	}
	reses := make([]anydiff.Res, parts)
	chunkSize := res.Output().Len() / parts
	for i := range reses {
		reses[i] = anydiff.Slice(res, i*chunkSize, (i+1)*chunkSize)
	}
	return reses
}

func splitVec(vec anyvec.Vector, parts int) []anyvec.Vector {
	if parts == 0 {
		return nil
	}
	res := make([]anyvec.Vector, parts)
	chunkSize := vec.Len() / parts
	for i := range res {
		res[i] = vec.Slice(i*chunkSize, (i+1)*chunkSize)
	}
	return res
}

type joinedSeq struct {
	C       anyvec.Creator
	Joint   anydiff.Res
	Lengths []int
	Out     []*anyseq.Batch
}

// JoinPacked builds a sequence batch out of a result that
// holds every sequence back to back, sequence i made of
// lengths[i] equally sized timesteps.
// It is the inverse of PoolSeqs.
func JoinPacked(c anyvec.Creator, joint anydiff.Res, lengths []int) anyseq.Seq {
	var total int
	for _, l := range lengths {
		total += l
	}
	var frameSize int
	if total > 0 {
		if joint.Output().Len()%total != 0 {
			panic("joint size is not a multiple of the timestep count")
		}
		frameSize = joint.Output().Len() / total
	}
	vecs := make([][]anyvec.Vector, len(lengths))
	var offset int
	for i, l := range lengths {
		size := l * frameSize
		vecs[i] = splitVec(joint.Output().Slice(offset, offset+size), l)
		offset += size
	}
	return &joinedSeq{
		C:       c,
		Joint:   joint,
		Lengths: lengths,
		Out:     anyseq.ConstSeqList(c, vecs).Output(),
	}
}

func (j *joinedSeq) Creator() anyvec.Creator {
	return j.C
}

func (j *joinedSeq) Output() []*anyseq.Batch {
	return j.Out
}

func (j *joinedSeq) Vars() anydiff.VarSet {
	return j.Joint.Vars()
}

func (j *joinedSeq) Propagate(u []*anyseq.Batch, g anydiff.Grad) {
	var parts []anyvec.Vector
	for _, seq := range anyseq.SeparateSeqs(u) {
		parts = append(parts, seq...)
	}
	j.Joint.Propagate(j.C.Concat(parts...), g)
}

// Float64s copies a vector's components into a float64
// slice.
func Float64s(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return append([]float64{}, data...)
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	}
	panic(fmt.Sprintf("unsupported numeric type: %T", v.Data()))
}
