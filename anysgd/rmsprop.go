package anysgd

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	rmspropDefaultDecay   = 0.9
	rmspropDefaultEpsilon = 1e-8
)

// RMSProp divides gradients by a running root mean square
// of their recent magnitudes.
type RMSProp struct {
	// Decay defaults to 0.9.
	Decay float64

	// Epsilon defaults to 1e-8.
	Epsilon float64

	meanSquare anydiff.Grad
}

// Transform transforms the gradient using RMSProp.
//
// This is not thread-safe.
func (r *RMSProp) Transform(g anydiff.Grad) anydiff.Grad {
	decay := valueOrDefault(r.Decay, rmspropDefaultDecay)
	if r.meanSquare == nil {
		r.meanSquare = zeroGrad(g)
		decay = 0
	}
	for v, grad := range g {
		c := grad.Creator()
		sq := grad.Copy()
		anyvec.Pow(sq, c.MakeNumeric(2))
		sq.Scale(c.MakeNumeric(1 - decay))
		ms := r.meanSquare[v]
		ms.Scale(c.MakeNumeric(decay))
		ms.Add(sq)

		div := ms.Copy()
		div.AddScalar(c.MakeNumeric(valueOrDefault(r.Epsilon, rmspropDefaultEpsilon)))
		anyvec.Pow(div, c.MakeNumeric(-0.5))
		grad.Mul(div)
	}
	return g
}
