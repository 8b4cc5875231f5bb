package anyconv

import "github.com/unixpickle/anyvec"

// Im2Row maps (possibly overlapping) windows of an
// utterance image to rows of a matrix.
// Windows slide along time and frequency by the strides.
//
// The i-th row corresponds to the i-th output position of
// a Conv or MaxPool, in row-major order.
type Im2Row struct {
	WindowTime int
	WindowFreq int
	StrideTime int
	StrideFreq int

	Input Geometry

	mapper anyvec.Mapper
}

// NumTime returns the number of window positions along
// the time axis.
func (m *Im2Row) NumTime() int {
	return windowCount(m.Input.Time, m.WindowTime, m.StrideTime)
}

// NumFreq returns the number of window positions along
// the frequency axis.
func (m *Im2Row) NumFreq() int {
	return windowCount(m.Input.Freq, m.WindowFreq, m.StrideFreq)
}

// MakeOut allocates a row matrix for the mapping.
func (m *Im2Row) MakeOut(c anyvec.Creator) *anyvec.Matrix {
	rows := m.NumTime() * m.NumFreq()
	cols := m.WindowTime * m.WindowFreq * m.Input.Channels
	return &anyvec.Matrix{Data: c.MakeVector(rows * cols), Rows: rows, Cols: cols}
}

// Mapper returns a mapper which gathers an input image
// into the row matrix.
// The mapper is cached after the first call.
func (m *Im2Row) Mapper(c anyvec.Creator) anyvec.Mapper {
	if m.mapper != nil && m.mapper.Creator() == c {
		return m.mapper
	}

	var mapping []int
	rowSize := m.Input.Freq * m.Input.Channels
	for t := 0; t+m.WindowTime <= m.Input.Time; t += m.StrideTime {
		for f := 0; f+m.WindowFreq <= m.Input.Freq; f += m.StrideFreq {
			for subT := 0; subT < m.WindowTime; subT++ {
				rowIdx := (t + subT) * rowSize
				for subF := 0; subF < m.WindowFreq; subF++ {
					colIdx := rowIdx + (f+subF)*m.Input.Channels
					for ch := 0; ch < m.Input.Channels; ch++ {
						mapping = append(mapping, colIdx+ch)
					}
				}
			}
		}
	}

	m.mapper = c.MakeMapper(m.Input.Size(), mapping)
	return m.mapper
}
