package anyrnn

import (
	"errors"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const lstmForgetBias = 1

func init() {
	var l LSTM
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLSTM)
}

// LSTM is a long short-term memory cell without
// peephole connections.
//
// Its state has two parts, the memory cell and the hidden
// vector; the hidden vector is also the output.
type LSTM struct {
	Input     *Gate
	Forget    *Gate
	Candidate *Gate
	Output    *Gate
}

// DeserializeLSTM deserializes an LSTM.
func DeserializeLSTM(d []byte) (*LSTM, error) {
	var res LSTM
	err := serializer.DeserializeAny(d, &res.Input, &res.Forget, &res.Candidate, &res.Output)
	if err != nil {
		return nil, essentials.AddCtx("deserialize LSTM", err)
	}
	for _, g := range []*Gate{res.Forget, res.Candidate, res.Output} {
		if g.InCount != res.Input.InCount || g.OutCount != res.Input.OutCount {
			return nil, errors.New("deserialize LSTM: mismatched gate sizes")
		}
	}
	return &res, nil
}

// NewLSTM creates a randomized LSTM.
//
// The forget gates are biased to remember.
func NewLSTM(c anyvec.Creator, in, hidden int, paramInit float64) *LSTM {
	res := &LSTM{
		Input:     NewGate(c, in, hidden, neuralsp.Sigmoid, paramInit),
		Forget:    NewGate(c, in, hidden, neuralsp.Sigmoid, paramInit),
		Candidate: NewGate(c, in, hidden, neuralsp.Tanh, paramInit),
		Output:    NewGate(c, in, hidden, neuralsp.Sigmoid, paramInit),
	}
	res.Forget.Biases.Vector.AddScalar(c.MakeNumeric(lstmForgetBias))
	return res
}

// HiddenSize returns the size of the hidden state.
func (l *LSTM) HiddenSize() int {
	return l.Input.OutCount
}

// Start returns zero cells and hidden vectors.
func (l *LSTM) Start(n int) State {
	c := l.Input.Biases.Vector.Creator()
	return zeroStart(c, n, l.HiddenSize(), l.HiddenSize())
}

// PropagateStart does nothing, since the start state is
// constant.
func (l *LSTM) PropagateStart(s StateGrad, g anydiff.Grad) {
}

// Step performs one timestep.
func (l *LSTM) Step(s State, in anyvec.Vector) Res {
	return stepCell(s, in, l.StepRes)
}

// StepRes computes the next cell and hidden states.
// The state parts are (cell, hidden).
func (l *LSTM) StepRes(in anydiff.Res, state []anydiff.Res, n int) []anydiff.Res {
	cell, hidden := state[0], state[1]
	inGate := l.Input.Apply(in, hidden, n)
	forget := l.Forget.Apply(in, hidden, n)
	candidate := l.Candidate.Apply(in, hidden, n)
	outGate := l.Output.Apply(in, hidden, n)

	newCell := anydiff.Add(anydiff.Mul(forget, cell), anydiff.Mul(inGate, candidate))
	newHidden := anydiff.Mul(outGate, anydiff.Tanh(newCell))
	return []anydiff.Res{newCell, newHidden}
}

// Parameters returns the parameters of every gate.
func (l *LSTM) Parameters() []*anydiff.Var {
	return neuralsp.AllParameters(l.Input, l.Forget, l.Candidate, l.Output)
}

// SerializerType returns the unique ID used to serialize
// an LSTM with the serializer package.
func (l *LSTM) SerializerType() string {
	return "github.com/YYTtyy/neural-sp/anyrnn.LSTM"
}

// Serialize serializes the LSTM.
func (l *LSTM) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.Input, l.Forget, l.Candidate, l.Output)
}
