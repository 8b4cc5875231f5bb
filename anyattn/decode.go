package anyattn

import (
	"sort"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anyvec"
)

// A Hyp is a decoded hypothesis.
type Hyp struct {
	// Labels excludes the terminating <eos>.
	Labels  []int
	LogProb float64

	// Weights has one row per label: the attention weights
	// over the encoder outputs when the label was emitted.
	Weights [][]float64

	// MemWeights is like Weights, but for the second
	// memory. It is nil for decoders without one.
	MemWeights [][]float64

	// States holds the decoder state for each label, which
	// may serve as the second memory of another decoder.
	States []anyvec.Vector
}

type beamHyp struct {
	Hyp
	done  bool
	state *stepState
	prev  int
}

// Decode decodes an utterance, emitting at most maxLen
// labels.
// A beamWidth of 1 or less performs greedy decoding.
func (d *Decoder) Decode(enc, mem *Memory, maxLen, beamWidth int) *Hyp {
	src := d.sources(enc, mem)
	start := &beamHyp{
		Hyp:   Hyp{Labels: []int{}},
		state: d.start(enc.Values.Output().Creator()),
		prev:  d.EOS(),
	}
	if beamWidth < 1 {
		beamWidth = 1
	}

	beam := []*beamHyp{start}
	var finished []*beamHyp
	for t := 0; t <= maxLen && len(beam) > 0; t++ {
		var candidates []*beamHyp
		for _, h := range beam {
			candidates = append(candidates, d.expand(src, h, beamWidth, t == maxLen)...)
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].LogProb > candidates[j].LogProb
		})
		if len(candidates) > beamWidth {
			candidates = candidates[:beamWidth]
		}
		beam = beam[:0]
		for _, c := range candidates {
			if c.done {
				finished = append(finished, c)
			} else {
				beam = append(beam, c)
			}
		}
		if len(finished) >= beamWidth {
			break
		}
	}

	pool := append(finished, beam...)
	best := pool[0]
	for _, h := range pool[1:] {
		if h.LogProb > best.LogProb {
			best = h
		}
	}
	return &best.Hyp
}

// expand extends a hypothesis with its most likely next
// tokens.
// If last is set, only <eos> is considered.
func (d *Decoder) expand(src *sources, h *beamHyp, k int, last bool) []*beamHyp {
	out := d.step(src, h.prev, h.state)
	logProbs := neuralsp.Float64s(out.LogProbs.Output())

	var tokens []int
	if last {
		tokens = []int{d.EOS()}
	} else {
		tokens = topTokens(logProbs, k)
	}

	var weights, memWeights []float64
	var res []*beamHyp
	for _, token := range tokens {
		next := &beamHyp{
			Hyp: Hyp{
				Labels:     h.Labels,
				LogProb:    h.LogProb + logProbs[token],
				Weights:    h.Weights,
				MemWeights: h.MemWeights,
				States:     h.States,
			},
			state: out.Next,
			prev:  token,
		}
		if token == d.EOS() {
			next.done = true
			res = append(res, next)
			continue
		}
		if weights == nil {
			weights = neuralsp.Float64s(out.Weights.Output())
			if out.MemWeights != nil {
				memWeights = neuralsp.Float64s(out.MemWeights.Output())
			}
		}
		next.Labels = appendCopy(h.Labels, token)
		next.Weights = appendCopy(h.Weights, weights)
		if memWeights != nil {
			next.MemWeights = appendCopy(h.MemWeights, memWeights)
		}
		next.States = appendCopy(h.States, out.Hidden.Output())
		res = append(res, next)
	}
	return res
}

// topTokens returns the indices of the k largest values,
// largest first, preferring lower indices on ties.
func topTokens(logProbs []float64, k int) []int {
	idxs := make([]int, len(logProbs))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool {
		return logProbs[idxs[i]] > logProbs[idxs[j]]
	})
	if len(idxs) > k {
		idxs = idxs[:k]
	}
	return idxs
}

func appendCopy[T any](s []T, x T) []T {
	res := make([]T, len(s), len(s)+1)
	copy(res, s)
	return append(res, x)
}
