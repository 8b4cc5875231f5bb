package anymodel

import (
	"errors"

	"github.com/YYTtyy/neural-sp/anyattn"
	"github.com/YYTtyy/neural-sp/anyctc"
	"github.com/YYTtyy/neural-sp/anyenc"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// DecodeOptions controls decoding.
type DecodeOptions struct {
	// BeamWidth of 1 or less selects greedy decoding.
	BeamWidth int

	// MaxLen and MaxLenSub limit the number of labels an
	// attention decoder may emit for the main and sub tasks.
	MaxLen    int
	MaxLenSub int
}

// Hyps stores the decoded labels of a batch, in the
// original order of the batch.
type Hyps struct {
	Labels    [][]int
	SubLabels [][]int

	// Weights holds, for every utterance, one row of
	// attention weights over the encoder outputs per label.
	// It is nil for CTC models.
	Weights    [][][]float64
	SubWeights [][][]float64

	// Word2Char holds the weights of the main decoder over
	// the sub decoder's states in nested models.
	Word2Char [][][]float64

	// Lengths are the encoder output lengths.
	Lengths []int
}

// Decode decodes a batch of utterances.
func (m *Model) Decode(in *anyenc.Batch, opts DecodeOptions) *Hyps {
	enc := m.Encoder.Apply(in)
	res := &Hyps{}
	if m.Type.UsesAttention() {
		m.decodeAttention(enc, opts, res)
	} else {
		res.Labels = decodeCTC(ctcOutputs(m.CTCOut, enc.Outputs), opts.BeamWidth)
		if m.SubCTCOut != nil {
			res.SubLabels = decodeCTC(ctcOutputs(m.SubCTCOut, enc.SubOutputs),
				opts.BeamWidth)
		}
	}
	res.Lengths = enc.Lengths
	res.restore(enc.Perm)
	return res
}

// AttentionWeights greedily decodes a batch and returns
// the attention weights of every emitted label.
func (m *Model) AttentionWeights(in *anyenc.Batch, maxLen, maxLenSub int) (*Hyps, error) {
	if !m.Type.UsesAttention() {
		return nil, errors.New("attention weights: " + m.Type.String() +
			" model has no attention")
	}
	return m.Decode(in, DecodeOptions{BeamWidth: 1, MaxLen: maxLen, MaxLenSub: maxLenSub}), nil
}

func (m *Model) decodeAttention(enc *anyenc.Result, opts DecodeOptions, res *Hyps) {
	c := enc.Outputs.Creator()
	mains := anyseq.SeparateSeqs(enc.Outputs.Output())
	var subs [][]anyvec.Vector
	if m.SubDecoder != nil {
		subs = anyseq.SeparateSeqs(enc.SubOutputs.Output())
	}
	for i, outs := range mains {
		var mem *anyattn.Memory
		if m.SubDecoder != nil {
			subMem := anyattn.ConstMemory(c, subs[i], m.SubDecoder.EncoderSize())
			subHyp := m.SubDecoder.Decode(subMem, nil, opts.MaxLenSub, opts.BeamWidth)
			res.SubLabels = append(res.SubLabels, subHyp.Labels)
			res.SubWeights = append(res.SubWeights, subHyp.Weights)
			if m.Type == NestedAttention {
				mem = anyattn.ConstMemory(c, subHyp.States, m.SubDecoder.HiddenSize())
			}
		}
		hyp := m.Decoder.Decode(anyattn.ConstMemory(c, outs, m.Decoder.EncoderSize()), mem,
			opts.MaxLen, opts.BeamWidth)
		res.Labels = append(res.Labels, hyp.Labels)
		res.Weights = append(res.Weights, hyp.Weights)
		if mem != nil {
			res.Word2Char = append(res.Word2Char, hyp.MemWeights)
		}
	}
}

func (h *Hyps) restore(p anyenc.Perm) {
	h.Labels = restore(p, h.Labels)
	h.SubLabels = restore(p, h.SubLabels)
	h.Weights = restore(p, h.Weights)
	h.SubWeights = restore(p, h.SubWeights)
	h.Word2Char = restore(p, h.Word2Char)
	h.Lengths = restore(p, h.Lengths)
}

func restore[T any](p anyenc.Perm, s []T) []T {
	if s == nil {
		return nil
	}
	return anyenc.RestoreSlice(p, s)
}

func decodeCTC(outs anyseq.Seq, beamWidth int) [][]int {
	if beamWidth <= 1 {
		return anyctc.Greedy(outs)
	}
	return anyctc.BeamSearch(outs, beamWidth)
}
