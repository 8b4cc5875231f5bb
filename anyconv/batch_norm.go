package anyconv

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	defaultBNStabilizer = 1e-5
	defaultBNMomentum   = 0.1
)

func init() {
	var b BatchNorm
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBatchNorm)
}

// BatchNorm normalizes each channel of a convolution
// output.
//
// While training, statistics are taken over every
// time/frequency position of the input and folded into
// running averages.
// Otherwise, the running averages are used.
type BatchNorm struct {
	// InputCount is the number of channels.
	InputCount int

	// Post-normalization affine transform.
	Scalers *anydiff.Var
	Biases  *anydiff.Var

	RunningMean     anyvec.Vector
	RunningVariance anyvec.Vector

	// Stabilizer is added to the variances.
	// If it is 0, a default is used.
	Stabilizer float64

	Training bool
}

// DeserializeBatchNorm deserializes a BatchNorm.
func DeserializeBatchNorm(d []byte) (*BatchNorm, error) {
	var s, b, mean, variance *anyvecsave.S
	var stab serializer.Float64
	if err := serializer.DeserializeAny(d, &s, &b, &mean, &variance, &stab); err != nil {
		return nil, essentials.AddCtx("deserialize BatchNorm", err)
	}
	return &BatchNorm{
		InputCount:      s.Vector.Len(),
		Scalers:         anydiff.NewVar(s.Vector),
		Biases:          anydiff.NewVar(b.Vector),
		RunningMean:     mean.Vector,
		RunningVariance: variance.Vector,
		Stabilizer:      float64(stab),
	}, nil
}

// NewBatchNorm creates an identity BatchNorm for the
// given number of channels.
func NewBatchNorm(c anyvec.Creator, inCount int) *BatchNorm {
	oneScaler := c.MakeVector(inCount)
	oneScaler.AddScalar(c.MakeNumeric(1))
	oneVariance := oneScaler.Copy()
	return &BatchNorm{
		InputCount:      inCount,
		Scalers:         anydiff.NewVar(oneScaler),
		Biases:          anydiff.NewVar(c.MakeVector(inCount)),
		RunningMean:     c.MakeVector(inCount),
		RunningVariance: oneVariance,
	}
}

// Apply normalizes an image.
// The batch size is ignored, since statistics are taken
// over every position in the input.
func (b *BatchNorm) Apply(in anydiff.Res, batch int) anydiff.Res {
	if in.Output().Len()%b.InputCount != 0 {
		panic("invalid input size")
	}
	if !b.Training {
		return b.applyRunning(in)
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		c := in.Output().Creator()

		negMean := negMeanRows(in, b.InputCount)
		secondMoment := meanSquare(in, b.InputCount)
		variance := anydiff.Sub(secondMoment, anydiff.Square(negMean))
		b.updateRunning(negMean.Output(), variance.Output())

		variance = anydiff.AddScalar(variance, c.MakeNumeric(b.stabilizer()))
		normalizer := anydiff.Pow(variance, c.MakeNumeric(-0.5))

		totalScaler := anydiff.Mul(b.Scalers, normalizer)
		return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
			return anydiff.ScaleAddRepeated(
				in,
				totalScaler,
				anydiff.Add(b.Biases, anydiff.Mul(negMean, totalScaler)),
			)
		})
	})
}

// Parameters returns a slice containing the scales and
// biases, in that order.
func (b *BatchNorm) Parameters() []*anydiff.Var {
	return []*anydiff.Var{b.Scalers, b.Biases}
}

// SerializerType returns the unique ID used to serialize
// a BatchNorm with the serializer package.
func (b *BatchNorm) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyconv.BatchNorm"
}

// Serialize serializes the layer.
func (b *BatchNorm) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: b.Scalers.Vector},
		&anyvecsave.S{Vector: b.Biases.Vector},
		&anyvecsave.S{Vector: b.RunningMean},
		&anyvecsave.S{Vector: b.RunningVariance},
		serializer.Float64(b.Stabilizer),
	)
}

func (b *BatchNorm) applyRunning(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	normalizer := b.RunningVariance.Copy()
	normalizer.AddScalar(c.MakeNumeric(b.stabilizer()))
	anyvec.Pow(normalizer, c.MakeNumeric(-0.5))
	negMean := b.RunningMean.Copy()
	negMean.Scale(c.MakeNumeric(-1))

	totalScaler := anydiff.Mul(b.Scalers, anydiff.NewConst(normalizer))
	return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
		return anydiff.ScaleAddRepeated(
			in,
			totalScaler,
			anydiff.Add(b.Biases, anydiff.Mul(anydiff.NewConst(negMean), totalScaler)),
		)
	})
}

func (b *BatchNorm) updateRunning(negMean, variance anyvec.Vector) {
	c := negMean.Creator()
	keep := c.MakeNumeric(1 - defaultBNMomentum)
	b.RunningMean.Scale(keep)
	meanStep := negMean.Copy()
	meanStep.Scale(c.MakeNumeric(-defaultBNMomentum))
	b.RunningMean.Add(meanStep)

	b.RunningVariance.Scale(keep)
	varStep := variance.Copy()
	varStep.Scale(c.MakeNumeric(defaultBNMomentum))
	b.RunningVariance.Add(varStep)
}

func (b *BatchNorm) stabilizer() float64 {
	if b.Stabilizer == 0 {
		return defaultBNStabilizer
	}
	return b.Stabilizer
}
