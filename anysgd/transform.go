package anysgd

import (
	"fmt"
	"math"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// ClipNorm rescales gradients whose L2 norm exceeds
// Threshold so that their norm equals Threshold.
// A non-positive Threshold disables clipping.
type ClipNorm struct {
	Threshold float64
}

// Transform clips the gradient in place.
func (c *ClipNorm) Transform(g anydiff.Grad) anydiff.Grad {
	if c.Threshold <= 0 {
		return g
	}
	if norm := GradNorm(g); norm > c.Threshold {
		scaleGrad(g, c.Threshold/norm)
	}
	return g
}

// GradNorm computes the L2 norm of a gradient.
func GradNorm(g anydiff.Grad) float64 {
	var sum float64
	for _, v := range g {
		sum += numericFloat(v.Dot(v))
	}
	return math.Sqrt(sum)
}

// A Chain applies Transformers in order.
type Chain []Transformer

// Transform runs every Transformer.
func (c Chain) Transform(g anydiff.Grad) anydiff.Grad {
	for _, t := range c {
		g = t.Transform(g)
	}
	return g
}

// NewTransformer creates the optimizer named by a model
// configuration: "sgd", "momentum", "nesterov", "rmsprop"
// or "adam".
// The result is nil for plain SGD.
func NewTransformer(name string) (Transformer, error) {
	switch strings.ToLower(name) {
	case "sgd", "":
		return nil, nil
	case "momentum":
		return &Momentum{Momentum: 0.9}, nil
	case "nesterov":
		return &Momentum{Momentum: 0.9, Nesterov: true}, nil
	case "rmsprop":
		return &RMSProp{}, nil
	case "adam":
		return &Adam{}, nil
	}
	return nil, fmt.Errorf("unknown optimizer: %s", name)
}

func numericFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	}
	panic(fmt.Sprintf("unsupported numeric type: %T", n))
}
