package anysgd

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	adamDefaultBeta1   = 0.9
	adamDefaultBeta2   = 0.999
	adamDefaultEpsilon = 1e-8
)

// Adam implements the optimizer from "Adam: A Method for
// Stochastic Optimization" (https://arxiv.org/abs/1412.6980).
//
// Zero fields are replaced with the defaults from the
// paper.
type Adam struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64

	mean     anydiff.Grad
	variance anydiff.Grad
	steps    float64
}

// Transform replaces the gradient with the bias-corrected
// Adam step direction.
//
// This is not thread-safe.
func (a *Adam) Transform(g anydiff.Grad) anydiff.Grad {
	beta1 := valueOrDefault(a.Beta1, adamDefaultBeta1)
	beta2 := valueOrDefault(a.Beta2, adamDefaultBeta2)
	if a.mean == nil {
		a.mean = zeroGrad(g)
		a.variance = zeroGrad(g)
	}
	a.steps++

	correction := math.Sqrt(1-math.Pow(beta2, a.steps)) / (1 - math.Pow(beta1, a.steps))
	epsilon := valueOrDefault(a.Epsilon, adamDefaultEpsilon)
	for v, grad := range g {
		c := grad.Creator()
		mean := a.mean[v]
		variance := a.variance[v]

		mean.Scale(c.MakeNumeric(beta1))
		scaled := grad.Copy()
		scaled.Scale(c.MakeNumeric(1 - beta1))
		mean.Add(scaled)

		variance.Scale(c.MakeNumeric(beta2))
		sq := grad.Copy()
		anyvec.Pow(sq, c.MakeNumeric(2))
		sq.Scale(c.MakeNumeric(1 - beta2))
		variance.Add(sq)

		denom := variance.Copy()
		anyvec.Pow(denom, c.MakeNumeric(0.5))
		denom.AddScalar(c.MakeNumeric(epsilon))
		grad.Set(mean)
		grad.Scale(c.MakeNumeric(correction))
		grad.Div(denom)
	}
	return g
}
