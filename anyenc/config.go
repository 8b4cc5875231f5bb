package anyenc

import (
	"errors"
	"fmt"

	"github.com/YYTtyy/neural-sp/anyconv"
	"github.com/YYTtyy/neural-sp/anyrnn"
)

// ResidualMode determines how the outputs of lower layers
// are added to the outputs of higher layers.
type ResidualMode int

const (
	// NoResidual disables residual connections.
	NoResidual ResidualMode = iota

	// Residual adds the output of the previous layer to
	// the output of each layer after the first.
	Residual

	// DenseResidual adds the outputs of every lower layer
	// to the output of each layer after the first.
	DenseResidual
)

// ParseResidualMode converts the two boolean flags found in
// model configurations into a ResidualMode.
// It fails if both flags are set.
func ParseResidualMode(residual, dense bool) (ResidualMode, error) {
	switch {
	case residual && dense:
		return 0, errors.New("residual and dense residual are mutually exclusive")
	case residual:
		return Residual, nil
	case dense:
		return DenseResidual, nil
	}
	return NoResidual, nil
}

// String returns a human-readable name for the mode.
func (r ResidualMode) String() string {
	switch r {
	case NoResidual:
		return "none"
	case Residual:
		return "residual"
	case DenseResidual:
		return "dense_residual"
	}
	return fmt.Sprintf("ResidualMode(%d)", int(r))
}

// Config describes a hierarchical encoder.
type Config struct {
	// InputSize is the number of features per frame before
	// splicing and stacking.
	InputSize int

	// CellType is "lstm", "gru", or "rnn".
	CellType string

	Bidirectional bool
	NumUnits      int

	// NumProj is the output size of the projection applied
	// after every layer but the last.
	// Zero disables projections.
	NumProj int

	NumLayers int

	// NumLayersSub is the 1-based index of the layer whose
	// output is exposed for the sub task.
	NumLayersSub int

	Dropout       float64
	ParameterInit float64

	// MergeBidirectional sums the two directions of the
	// final and sub outputs instead of concatenating them.
	MergeBidirectional bool

	NumStack int
	Splice   int

	Conv     anyconv.FrontendConfig
	Residual ResidualMode
}

// FrameSize returns the size of each input frame the
// encoder expects.
func (c *Config) FrameSize() int {
	if c.Conv.Enabled() {
		return c.InputSize
	}
	return c.InputSize * positive(c.Splice) * positive(c.NumStack)
}

// Validate checks the configuration without building an
// encoder.
func (c *Config) Validate() error {
	if c.NumLayers <= 0 {
		return fmt.Errorf("invalid layer count: %d", c.NumLayers)
	}
	if c.NumLayersSub < 1 || c.NumLayersSub > c.NumLayers {
		return fmt.Errorf("sub layer %d must be between 1 and %d", c.NumLayersSub,
			c.NumLayers)
	}
	if c.NumUnits <= 0 {
		return fmt.Errorf("invalid unit count: %d", c.NumUnits)
	}
	if c.NumProj < 0 {
		return fmt.Errorf("invalid projection size: %d", c.NumProj)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("invalid input size: %d", c.InputSize)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout rate %f out of range [0, 1)", c.Dropout)
	}
	if _, err := anyrnn.ParseCellType(c.CellType); err != nil {
		return err
	}
	switch c.Residual {
	case NoResidual, Residual, DenseResidual:
	default:
		return fmt.Errorf("unknown residual mode: %d", int(c.Residual))
	}
	if c.Conv.Enabled() {
		if positive(c.NumStack) != 1 || positive(c.Splice) != 1 {
			return errors.New("frame stacking and splicing are not supported with a conv front-end")
		}
		if c.Conv.InputSize != 0 && c.Conv.InputSize != c.InputSize {
			return fmt.Errorf("conv input size %d differs from input size %d",
				c.Conv.InputSize, c.InputSize)
		}
	}

	if c.Residual != NoResidual && c.NumLayers > 1 {
		if c.NumProj > 0 && c.NumProj != c.lastWidth() {
			return fmt.Errorf("residual connections need projection size %d to equal "+
				"output size %d", c.NumProj, c.lastWidth())
		}
	}
	if c.MergeBidirectional && c.Bidirectional && c.NumProj > 0 &&
		c.NumLayersSub < c.NumLayers {
		return errors.New("cannot merge directions of a projected sub layer")
	}
	return nil
}

func (c *Config) directions() int {
	if c.Bidirectional {
		return 2
	}
	return 1
}

func (c *Config) lastWidth() int {
	return c.NumUnits * c.directions()
}

func positive(x int) int {
	if x <= 0 {
		return 1
	}
	return x
}
