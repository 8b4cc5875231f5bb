package anyenc

import (
	"fmt"
	"sort"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// A Batch is a batch of utterances, one vector per frame.
//
// Lengths gives the number of valid frames in each
// utterance.
// Frames beyond an utterance's length are padding and are
// never read.
// If Lengths is nil, every frame is valid.
type Batch struct {
	Frames  [][]anyvec.Vector
	Lengths []int
}

// NumSeqs returns the number of utterances.
func (b *Batch) NumSeqs() int {
	return len(b.Frames)
}

// ValidLengths returns the number of valid frames in each
// utterance.
// It panics if a length is out of bounds.
func (b *Batch) ValidLengths() []int {
	if b.Lengths == nil {
		res := make([]int, len(b.Frames))
		for i, f := range b.Frames {
			res[i] = len(f)
		}
		return res
	}
	if len(b.Lengths) != len(b.Frames) {
		panic(fmt.Sprintf("%d lengths for %d utterances", len(b.Lengths), len(b.Frames)))
	}
	for i, l := range b.Lengths {
		if l < 0 || l > len(b.Frames[i]) {
			panic(fmt.Sprintf("utterance %d: length %d out of bounds", i, l))
		}
	}
	return append([]int{}, b.Lengths...)
}

// A Perm records how a batch was reordered.
// Entry i is the original index of the i-th sorted item.
type Perm []int

// SortPerm computes the permutation that sorts lengths in
// descending order.
// Equal lengths keep their original order.
func SortPerm(lengths []int) Perm {
	res := make(Perm, len(lengths))
	for i := range res {
		res[i] = i
	}
	sort.SliceStable(res, func(i, j int) bool {
		return lengths[res[i]] > lengths[res[j]]
	})
	return res
}

// Inverse returns the permutation which undoes p.
func (p Perm) Inverse() Perm {
	res := make(Perm, len(p))
	for i, x := range p {
		res[x] = i
	}
	return res
}

// Restore puts sorted integers back in their original
// order.
func (p Perm) Restore(sorted []int) []int {
	return RestoreSlice(p, sorted)
}

// PermuteSlice reorders items the way p sorts them.
func PermuteSlice[T any](p Perm, items []T) []T {
	if len(items) != len(p) {
		panic("slice length does not match permutation")
	}
	res := make([]T, len(p))
	for i, x := range p {
		res[i] = items[x]
	}
	return res
}

// RestoreSlice is the inverse of PermuteSlice.
func RestoreSlice[T any](p Perm, sorted []T) []T {
	if len(sorted) != len(p) {
		panic("slice length does not match permutation")
	}
	res := make([]T, len(p))
	for i, x := range p {
		res[x] = sorted[i]
	}
	return res
}

// A Result is the output of an Encoder.
//
// Every per-utterance field is in sorted order; use Perm
// to map back to the order of the Batch.
type Result struct {
	// Outputs and SubOutputs are the outputs of the last
	// layer and the sub layer.
	Outputs    anyseq.Seq
	SubOutputs anyseq.Seq

	// FinalState and SubFinalState hold the last forward
	// hidden state of each utterance, packed as a
	// batch of NumUnits-sized vectors.
	FinalState    anydiff.Res
	SubFinalState anydiff.Res

	Lengths []int
	Perm    Perm
}

// Padded returns the outputs of each utterance, padded with
// zero vectors to the longest length.
func (r *Result) Padded() [][]anyvec.Vector {
	return PadSeqs(r.Outputs)
}

// SubPadded is like Padded, but for SubOutputs.
func (r *Result) SubPadded() [][]anyvec.Vector {
	return PadSeqs(r.SubOutputs)
}

// PadSeqs separates a sequence batch and pads every
// sequence with zero vectors to the longest length.
func PadSeqs(seq anyseq.Seq) [][]anyvec.Vector {
	seqs := anyseq.SeparateSeqs(seq.Output())
	width := neuralsp.SeqWidth(seq)
	var maxLen int
	for _, s := range seqs {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	for i, s := range seqs {
		for len(s) < maxLen {
			s = append(s, seq.Creator().MakeVector(width))
		}
		seqs[i] = s
	}
	return seqs
}
