package anymodel

import (
	"fmt"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/YYTtyy/neural-sp/anyattn"
	"github.com/YYTtyy/neural-sp/anyctc"
	"github.com/YYTtyy/neural-sp/anyenc"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// A Batch is a batch of utterances with their labels.
type Batch struct {
	// Names are the utterance IDs.
	Names []string

	Inputs *anyenc.Batch

	// Labels are token IDs of the main task.
	Labels [][]int

	// SubLabels are token IDs of the sub task, or nil for
	// models without one.
	SubLabels [][]int
}

// Size returns the number of utterances.
func (b *Batch) Size() int {
	return b.Inputs.NumSeqs()
}

// Cost computes the average cost per utterance.
//
// For hierarchical models, the cost is
// w*main + (1-w)*sub, where w is MainLossWeight.
func (m *Model) Cost(b *Batch) anydiff.Res {
	if len(b.Labels) != b.Size() {
		panic(fmt.Sprintf("%d labels for %d utterances", len(b.Labels), b.Size()))
	}
	if m.Type.Hierarchical() && len(b.SubLabels) != b.Size() {
		panic(fmt.Sprintf("%d sub labels for %d utterances", len(b.SubLabels), b.Size()))
	}

	enc := m.Encoder.Apply(b.Inputs)
	labels := anyenc.PermuteSlice(enc.Perm, b.Labels)
	var subLabels [][]int
	if m.Type.Hierarchical() {
		subLabels = anyenc.PermuteSlice(enc.Perm, b.SubLabels)
	}

	c := enc.Outputs.Creator()
	var main, sub anydiff.Res
	switch m.Type {
	case CTC, HierarchicalCTC:
		main = anydiff.Sum(anyctc.Cost(ctcOutputs(m.CTCOut, enc.Outputs), labels))
		if m.SubCTCOut != nil {
			sub = anydiff.Sum(anyctc.Cost(ctcOutputs(m.SubCTCOut, enc.SubOutputs), subLabels))
		}
	case Attention, HierarchicalAttention:
		main = decoderCost(m.Decoder, enc.Outputs, nil, labels)
		if m.SubDecoder != nil {
			sub = decoderCost(m.SubDecoder, enc.SubOutputs, nil, subLabels)
		}
	case NestedAttention:
		main, sub = m.nestedCost(enc, labels, subLabels)
	}

	total := main
	if sub != nil {
		w := m.MainLossWeight
		total = anydiff.Add(
			anydiff.Scale(main, c.MakeNumeric(w)),
			anydiff.Scale(sub, c.MakeNumeric(1-w)),
		)
	}
	return anydiff.Scale(total, c.MakeNumeric(1/float64(b.Size())))
}

// nestedCost runs the sub decoder first so that the main
// decoder can attend to its states.
func (m *Model) nestedCost(enc *anyenc.Result, labels,
	subLabels [][]int) (main, sub anydiff.Res) {
	subLengths := neuralsp.SeqLengths(enc.SubOutputs)
	joint := neuralsp.PoolSeqs(enc.SubOutputs, func(subIns []anydiff.Res) anydiff.Res {
		costs := make([]anydiff.Res, len(subIns))
		mems := make([]*anyattn.Memory, len(subIns))
		for i, in := range subIns {
			subMem := anyattn.NewMemory(in, subLengths[i])
			var states anydiff.Res
			costs[i], states = m.SubDecoder.Cost(subMem, nil, subLabels[i])
			if states == nil {
				mems[i] = anyattn.ConstMemory(in.Output().Creator(), nil,
					m.SubDecoder.HiddenSize())
			} else {
				mems[i] = anyattn.NewMemory(states, len(subLabels[i]))
			}
		}
		mainCost := decoderCost(m.Decoder, enc.Outputs, mems, labels)
		return anydiff.Concat(anydiff.Sum(anydiff.Concat(costs...)), mainCost)
	})
	return anydiff.Slice(joint, 1, 2), anydiff.Slice(joint, 0, 1)
}

func decoderCost(d *anyattn.Decoder, outs anyseq.Seq, mems []*anyattn.Memory,
	labels [][]int) anydiff.Res {
	lengths := neuralsp.SeqLengths(outs)
	return neuralsp.PoolSeqs(outs, func(ins []anydiff.Res) anydiff.Res {
		costs := make([]anydiff.Res, len(ins))
		for i, in := range ins {
			var mem *anyattn.Memory
			if mems != nil {
				mem = mems[i]
			}
			costs[i], _ = d.Cost(anyattn.NewMemory(in, lengths[i]), mem, labels[i])
		}
		return anydiff.Sum(anydiff.Concat(costs...))
	})
}

func ctcOutputs(l *neuralsp.Linear, outs anyseq.Seq) anyseq.Seq {
	return neuralsp.MapSeq(outs, neuralsp.Net{l, neuralsp.LogSoftmax})
}

// scalar reads the only component of a vector.
func scalar(v anyvec.Vector) float64 {
	return neuralsp.Float64s(v)[0]
}
