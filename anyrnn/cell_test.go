package anyrnn

import (
	"math"
	"reflect"
	"testing"

	neuralsp "github.com/YYTtyy/neural-sp"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

func TestCellProp(t *testing.T) {
	c := anyvec32.CurrentCreator()
	for _, cellType := range []CellType{LSTMCell, GRUCell, VanillaCell} {
		t.Run(cellType.String(), func(t *testing.T) {
			inSeq, inVars := randomTestSequence(c, 3)
			block, err := NewCell(cellType, c, 3, 2, 0.3)
			if err != nil {
				t.Fatal(err)
			}
			checker := &anydifftest.SeqChecker{
				F: func() anyseq.Seq {
					return Map(inSeq, block)
				},
				V: append(inVars, block.Parameters()...),
			}
			checker.FullCheck(t)
		})
	}
}

func TestCellParamCounts(t *testing.T) {
	c := anyvec32.CurrentCreator()
	expected := map[CellType]int{LSTMCell: 12, GRUCell: 9, VanillaCell: 3}
	for cellType, count := range expected {
		cell, err := NewCell(cellType, c, 4, 3, 0)
		if err != nil {
			t.Fatal(err)
		}
		if n := len(cell.Parameters()); n != count {
			t.Errorf("%s: expected %d parameters but got %d", cellType, count, n)
		}
		if cell.HiddenSize() != 3 {
			t.Errorf("%s: bad hidden size %d", cellType, cell.HiddenSize())
		}
	}
}

func TestVanillaOutput(t *testing.T) {
	c := anyvec32.CurrentCreator()
	v := NewVanilla(c, 1, 1, 0)
	v.Gate.InputWeights.Vector.SetData([]float32{2})
	v.Gate.StateWeights.Vector.SetData([]float32{0.5})
	v.Gate.Biases.Vector.SetData([]float32{0})

	seq := anyseq.ConstSeqList(c, [][]anyvec.Vector{
		{anyvec32.MakeVectorData([]float32{1}), anyvec32.MakeVectorData([]float32{-1})},
	})
	out := anyseq.SeparateSeqs(Map(seq, v).Output())[0]
	h1 := math.Tanh(2)
	h2 := math.Tanh(-2 + 0.5*h1)
	for i, expected := range []float64{h1, h2} {
		actual := float64(out[i].Data().([]float32)[0])
		if math.Abs(actual-expected) > 1e-4 {
			t.Errorf("step %d: expected %f but got %f", i, expected, actual)
		}
	}
}

func TestGRUOutput(t *testing.T) {
	c := anyvec32.CurrentCreator()
	g := &GRU{
		Reset:     NewGateZero(c, 1, 1, neuralsp.Sigmoid),
		Update:    NewGateZero(c, 1, 1, neuralsp.Sigmoid),
		Candidate: NewGateZero(c, 1, 1, neuralsp.Tanh),
	}
	g.Candidate.Biases.Vector.SetData([]float32{1})

	seq := anyseq.ConstSeqList(c, [][]anyvec.Vector{
		{anyvec32.MakeVectorData([]float32{3}), anyvec32.MakeVectorData([]float32{-3})},
	})
	out := anyseq.SeparateSeqs(Map(seq, g).Output())[0]
	h1 := 0.5 * math.Tanh(1)
	h2 := 0.5*math.Tanh(1) + 0.5*h1
	for i, expected := range []float64{h1, h2} {
		actual := float64(out[i].Data().([]float32)[0])
		if math.Abs(actual-expected) > 1e-4 {
			t.Errorf("step %d: expected %f but got %f", i, expected, actual)
		}
	}
}

func TestLSTMZeroStart(t *testing.T) {
	c := anyvec32.CurrentCreator()
	l := NewLSTM(c, 2, 3, 0.1)
	s := l.Start(4).(PartState)
	if len(s) != 2 {
		t.Fatalf("expected two state parts but got %d", len(s))
	}
	for _, part := range s {
		if part.Vector.Len() != 12 || anyvec.AbsMax(part.Vector).(float32) != 0 {
			t.Error("start state should be zero")
		}
	}
}

func TestBidirWidths(t *testing.T) {
	c := anyvec32.CurrentCreator()
	inSeq, _ := randomTestSequence(c, 3)
	for _, mixer := range []neuralsp.Mixer{neuralsp.SumMixer{}, neuralsp.ConcatMixer{}} {
		b := &Bidir{
			Forward:  NewLSTM(c, 3, 4, 0.1),
			Backward: NewLSTM(c, 3, 4, 0.1),
			Mixer:    mixer,
		}
		mixed, forward := b.ApplyDirs(inSeq)
		expected := 4
		if _, ok := mixer.(neuralsp.ConcatMixer); ok {
			expected = 8
		}
		if w := neuralsp.SeqWidth(mixed); w != expected {
			t.Errorf("%T: expected width %d but got %d", mixer, expected, w)
		}
		if w := neuralsp.SeqWidth(forward); w != 4 {
			t.Errorf("%T: forward width should be 4 but got %d", mixer, w)
		}
	}
}

func TestBidirProp(t *testing.T) {
	c := anyvec32.CurrentCreator()
	inSeq, inVars := randomTestSequence(c, 3)
	b := &Bidir{
		Forward:  NewGRU(c, 3, 2, 0.3),
		Backward: NewVanilla(c, 3, 2, 0.3),
		Mixer:    neuralsp.SumMixer{},
	}
	checker := &anydifftest.SeqChecker{
		F: func() anyseq.Seq {
			return b.Apply(inSeq)
		},
		V: append(inVars, b.Parameters()...),
	}
	checker.FullCheck(t)
}

func TestParseCellType(t *testing.T) {
	for name, expected := range map[string]CellType{
		"lstm": LSTMCell, "GRU": GRUCell, "rnn": VanillaCell,
	} {
		actual, err := ParseCellType(name)
		if err != nil || actual != expected {
			t.Errorf("%s: got %v, %v", name, actual, err)
		}
	}
	if _, err := ParseCellType("qrnn"); err == nil {
		t.Error("expected error for unknown cell")
	}
	if _, err := NewCell(CellType(7), anyvec32.CurrentCreator(), 2, 2, 0); err == nil {
		t.Error("expected error for unknown cell type")
	}
}

func TestCellSerialize(t *testing.T) {
	c := anyvec32.CurrentCreator()
	blocks := []serializer.Serializer{
		NewLSTM(c, 3, 2, 0.1),
		NewGRU(c, 3, 2, 0.1),
		NewVanilla(c, 3, 2, 0.1),
		&Bidir{
			Forward:  NewLSTM(c, 3, 2, 0.1),
			Backward: NewLSTM(c, 3, 2, 0.1),
			Mixer:    neuralsp.ConcatMixer{},
		},
	}
	for _, b := range blocks {
		data, err := serializer.SerializeAny(b)
		if err != nil {
			t.Fatal(err)
		}
		var decoded serializer.Serializer
		if err := serializer.DeserializeAny(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(decoded, b) {
			t.Errorf("%T: decoded value differs", b)
		}
	}
}

func randomTestSequence(c anyvec.Creator, inSize int) (anyseq.Seq, []*anydiff.Var) {
	inVars := []*anydiff.Var{}
	inBatches := []*anyseq.ResBatch{}

	presents := [][]bool{{true, true, true}, {true, false, true}, {false, false, true}}
	numPres := []int{3, 2, 1}

	for i, pres := range presents {
		vec := c.MakeVector(inSize * numPres[i])
		anyvec.Rand(vec, anyvec.Normal, nil)
		v := anydiff.NewVar(vec)
		inVars = append(inVars, v)
		inBatches = append(inBatches, &anyseq.ResBatch{Packed: v, Present: pres})
	}
	return anyseq.ResSeq(c, inBatches), inVars
}
