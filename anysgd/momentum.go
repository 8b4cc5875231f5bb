package anysgd

import "github.com/unixpickle/anydiff"

// Momentum implements SGD with classical or Nesterov
// momentum.
//
// The velocity is accumulated as v := Momentum*v + grad.
// The classical step is v; the Nesterov step looks ahead
// and uses grad + Momentum*v.
type Momentum struct {
	Momentum float64
	Nesterov bool

	velocity anydiff.Grad
}

// Transform replaces the gradient with the momentum step.
//
// This is not thread-safe.
func (m *Momentum) Transform(g anydiff.Grad) anydiff.Grad {
	if m.velocity == nil {
		m.velocity = anydiff.Grad{}
	}
	for p, grad := range g {
		vel, ok := m.velocity[p]
		if !ok {
			vel = grad.Creator().MakeVector(grad.Len())
			m.velocity[p] = vel
		}
		scale := vel.Creator().MakeNumeric(m.Momentum)
		vel.Scale(scale)
		vel.Add(grad)
		if m.Nesterov {
			step := vel.Copy()
			step.Scale(scale)
			grad.Add(step)
		} else {
			grad.Set(vel)
		}
	}
	return g
}
