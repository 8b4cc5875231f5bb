package anysgd

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
)

// Shuffle shuffles a list of samples.
// If the list implements PostShuffler, then PostShuffle
// is called after the shuffle completes.
func Shuffle(s SampleList) {
	for i := 0; i < s.Len(); i++ {
		j := i + rand.Intn(s.Len()-i)
		s.Swap(i, j)
	}
	if p, ok := s.(PostShuffler); ok {
		p.PostShuffle()
	}
}

// A ConstRater is a Rater which always returns the same
// constant learning rate.
type ConstRater float64

// Rate returns float64(c).
func (c ConstRater) Rate(epoch float64) float64 {
	return float64(c)
}

// A DecayRater multiplies the learning rate by Decay once
// for every full epoch completed after StartEpoch epochs.
type DecayRater struct {
	Initial    float64
	Decay      float64
	StartEpoch int
}

// Rate returns the decayed learning rate.
func (d *DecayRater) Rate(epoch float64) float64 {
	n := int(math.Floor(epoch)) - d.StartEpoch
	if n <= 0 || d.Decay == 0 {
		return d.Initial
	}
	return d.Initial * math.Pow(d.Decay, float64(n))
}

func valueOrDefault(x, def float64) float64 {
	if x == 0 {
		return def
	}
	return x
}

func zeroGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for v, x := range g {
		res[v] = x.Creator().MakeVector(x.Len())
	}
	return res
}
