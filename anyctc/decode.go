package anyctc

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/unixpickle/anydiff/anyseq"
)

// bestLabelsBeam is wide enough for the short segments
// BestLabels searches to be searched exhaustively in
// practice.
const bestLabelsBeam = 64

// Greedy decodes each sequence by taking the most likely
// output at every timestep, merging repeated labels, and
// removing blanks.
func Greedy(seqs anyseq.Seq) [][]int {
	var res [][]int
	for _, seq := range separateFloats(seqs) {
		labels := []int{}
		last := -1
		for _, step := range seq {
			best := argmax(step)
			if best != last && best != len(step)-1 {
				labels = append(labels, best)
			}
			last = best
		}
		res = append(res, labels)
	}
	return res
}

// BeamSearch decodes each sequence with a prefix beam
// search that keeps the beamWidth most likely labelings
// after every timestep.
//
// A beamWidth of 1 approximates Greedy, but merges
// alignments of the same labeling.
func BeamSearch(seqs anyseq.Seq, beamWidth int) [][]int {
	if beamWidth < 1 {
		beamWidth = 1
	}
	var res [][]int
	for _, seq := range separateFloats(seqs) {
		res = append(res, prefixBeamSearch(seq, beamWidth))
	}
	return res
}

// BestLabels produces likely labelings for the output
// sequences, splitting each sequence at confident blanks.
//
// Any timestep whose blank log probability exceeds
// blankThresh is treated as a certain blank, and the
// segments between such timesteps are searched separately.
// Typically, a value close to -1e-3 is sufficient.
func BestLabels(seqs anyseq.Seq, blankThresh float64) [][]int {
	var res [][]int
	for _, seq := range separateFloats(seqs) {
		labels := []int{}
		for _, segment := range splitOnBlanks(seq, blankThresh) {
			labels = append(labels, prefixBeamSearch(segment, bestLabelsBeam)...)
		}
		res = append(res, labels)
	}
	return res
}

func splitOnBlanks(seq [][]float64, blankThresh float64) [][][]float64 {
	var res [][][]float64
	var segment [][]float64
	for _, step := range seq {
		if step[len(step)-1] > blankThresh {
			if len(segment) > 0 {
				res = append(res, segment)
				segment = nil
			}
		} else {
			segment = append(segment, step)
		}
	}
	if len(segment) > 0 {
		res = append(res, segment)
	}
	return res
}

// A prefix is a partial labeling along with the log
// probabilities of the alignments that produce it, split
// by whether they end in a blank.
type prefix struct {
	Labels  []int
	Blank   float64
	NoBlank float64
}

func (p *prefix) Total() float64 {
	return logSumExp(p.Blank, p.NoBlank)
}

func (p *prefix) last() int {
	if len(p.Labels) == 0 {
		return -1
	}
	return p.Labels[len(p.Labels)-1]
}

func prefixBeamSearch(seq [][]float64, beamWidth int) []int {
	beam := []*prefix{{Labels: []int{}, Blank: 0, NoBlank: math.Inf(-1)}}
	for _, step := range seq {
		blank := len(step) - 1
		next := map[string]*prefix{}
		get := func(labels []int) *prefix {
			key := prefixKey(labels)
			if p, ok := next[key]; ok {
				return p
			}
			p := &prefix{Labels: labels, Blank: math.Inf(-1), NoBlank: math.Inf(-1)}
			next[key] = p
			return p
		}
		for _, p := range beam {
			total := p.Total()
			same := get(p.Labels)
			same.Blank = logSumExp(same.Blank, total+step[blank])
			if last := p.last(); last >= 0 {
				same.NoBlank = logSumExp(same.NoBlank, p.NoBlank+step[last])
			}
			for label, logProb := range step[:blank] {
				extended := get(append(append([]int{}, p.Labels...), label))
				if label == p.last() {
					extended.NoBlank = logSumExp(extended.NoBlank, p.Blank+logProb)
				} else {
					extended.NoBlank = logSumExp(extended.NoBlank, total+logProb)
				}
			}
		}
		beam = pruneBeam(next, beamWidth)
	}
	return beam[0].Labels
}

func pruneBeam(prefixes map[string]*prefix, beamWidth int) []*prefix {
	res := make([]*prefix, 0, len(prefixes))
	for _, p := range prefixes {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool {
		t1, t2 := res[i].Total(), res[j].Total()
		if t1 != t2 {
			return t1 > t2
		}
		return prefixKey(res[i].Labels) < prefixKey(res[j].Labels)
	})
	if len(res) > beamWidth {
		res = res[:beamWidth]
	}
	return res
}

func prefixKey(labels []int) string {
	parts := make([]string, len(labels))
	for i, x := range labels {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func separateFloats(seqs anyseq.Seq) [][][]float64 {
	var res [][][]float64
	for _, seq := range anyseq.SeparateSeqs(seqs.Output()) {
		floatSeq := make([][]float64, len(seq))
		for i, x := range seq {
			floatSeq[i] = vectorFloats(x)
		}
		res = append(res, floatSeq)
	}
	return res
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
