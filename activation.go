package neuralsp

import (
	"fmt"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Activation
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeActivation)
}

// An Activation is a standard activation function.
type Activation int

// These are the supported activation functions.
const (
	Identity Activation = iota
	Tanh
	LogSoftmax
	Sigmoid
	ReLU
	HardTanh
	SELU
)

const (
	seluAlpha  = 1.6732632423543772848170429916717
	seluLambda = 1.0507009873554804934193349852946
)

var activationNames = map[string]Activation{
	"identity":   Identity,
	"linear":     Identity,
	"tanh":       Tanh,
	"logsoftmax": LogSoftmax,
	"sigmoid":    Sigmoid,
	"relu":       ReLU,
	"hard_tanh":  HardTanh,
	"selu":       SELU,
}

// ParseActivation looks up an activation by the name used
// in model configurations, such as "relu" or "tanh".
func ParseActivation(name string) (Activation, error) {
	if a, ok := activationNames[strings.ToLower(name)]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("unknown activation: %s", name)
}

// DeserializeActivation deserializes an Activation.
func DeserializeActivation(d []byte) (Activation, error) {
	if len(d) != 1 {
		return 0, fmt.Errorf("deserialize Activation: data length (%d) should be 1", len(d))
	}
	a := Activation(d[0])
	if a > SELU {
		return 0, fmt.Errorf("deserialize Activation: unknown activation ID: %d", a)
	}
	return a, nil
}

// Apply applies the activation function.
func (a Activation) Apply(in anydiff.Res, n int) anydiff.Res {
	switch a {
	case Identity:
		return in
	case Tanh:
		return anydiff.Tanh(in)
	case LogSoftmax:
		inLen := in.Output().Len()
		if inLen%n != 0 {
			panic("batch size must divide input length")
		}
		return anydiff.LogSoftmax(in, inLen/n)
	case Sigmoid:
		return anydiff.Sigmoid(in)
	case ReLU:
		return anydiff.ClipPos(in)
	case HardTanh:
		// max(-1, min(1, x)) == relu(x+1) - relu(x-1) - 1
		c := in.Output().Creator()
		return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
			upper := anydiff.ClipPos(anydiff.AddScalar(in, c.MakeNumeric(1)))
			lower := anydiff.ClipPos(anydiff.AddScalar(in, c.MakeNumeric(-1)))
			return anydiff.AddScalar(anydiff.Sub(upper, lower), c.MakeNumeric(-1))
		})
	case SELU:
		// lambda * (relu(x) + alpha*exp(-relu(-x)) - alpha)
		c := in.Output().Creator()
		return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
			neg := anydiff.Scale(anydiff.ClipPos(anydiff.Scale(in, c.MakeNumeric(-1))),
				c.MakeNumeric(-1))
			sum := anydiff.Add(anydiff.ClipPos(in),
				anydiff.Scale(anydiff.Exp(neg), c.MakeNumeric(seluAlpha)))
			return anydiff.Scale(anydiff.AddScalar(sum, c.MakeNumeric(-seluAlpha)),
				c.MakeNumeric(seluLambda))
		})
	default:
		panic(fmt.Sprintf("unknown activation: %d", a))
	}
}

// SerializerType returns the unique ID used to serialize
// an Activation.
func (a Activation) SerializerType() string {
	return "github.com/YYTtyy/neural-sp.Activation"
}

// Serialize serializes the activation.
func (a Activation) Serialize() ([]byte, error) {
	return []byte{byte(a)}, nil
}
