package anyctc

import (
	"github.com/YYTtyy/neural-sp/anysgd"
	"github.com/unixpickle/anyvec"
)

// A Sample is an input sequence paired with its label.
type Sample struct {
	Input []anyvec.Vector
	Label []int
}

// A SampleList is an anysgd.SampleList that produces CTC
// samples.
type SampleList interface {
	anysgd.SampleList

	GetSample(idx int) (*Sample, error)
	Creator() anyvec.Creator
}

// A SliceSampleList is a SampleList with samples that are
// already in memory.
type SliceSampleList struct {
	C       anyvec.Creator
	Samples []*Sample
}

// Len returns the number of samples.
func (s *SliceSampleList) Len() int {
	return len(s.Samples)
}

// Swap swaps two samples.
func (s *SliceSampleList) Swap(i, j int) {
	s.Samples[i], s.Samples[j] = s.Samples[j], s.Samples[i]
}

// Slice copies a sub-slice of the list.
func (s *SliceSampleList) Slice(i, j int) anysgd.SampleList {
	return &SliceSampleList{
		C:       s.C,
		Samples: append([]*Sample{}, s.Samples[i:j]...),
	}
}

// GetSample returns the sample at the index.
func (s *SliceSampleList) GetSample(idx int) (*Sample, error) {
	return s.Samples[idx], nil
}

// Creator returns the creator for the input vectors.
func (s *SliceSampleList) Creator() anyvec.Creator {
	return s.C
}
