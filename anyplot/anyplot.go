// Package anyplot renders attention weights as heatmaps.
package anyplot

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// DirName is the directory inside a model directory which
// holds the plots.
const DirName = "att_weights"

// SpectrogramBins is the number of feature bins shown
// below a heatmap.
const SpectrogramBins = 80

// Figure size.
var (
	Width  = 20 * vg.Inch
	Height = 8 * vg.Inch
)

// ErrNoLabels is returned when there is nothing to plot
// because a hypothesis is empty.
var ErrNoLabels = errors.New("no labels to plot")

// ResetDir removes and re-creates the plot directory of a
// model.
func ResetDir(modelDir string) (string, error) {
	dir := filepath.Join(modelDir, DirName)
	if err := os.RemoveAll(dir); err != nil {
		return "", errors.Wrap(err, "reset plot directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "reset plot directory")
	}
	return dir, nil
}

// OutputPath returns the path of an utterance's plot,
// creating the speaker directory.
// The speaker is the part of the utterance ID before the
// first underscore.
func OutputPath(plotDir, uttID, suffix string) (string, error) {
	speaker := strings.SplitN(uttID, "_", 2)[0]
	dir := filepath.Join(plotDir, speaker)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "output path")
	}
	return filepath.Join(dir, uttID+suffix+".png"), nil
}

// AttentionWeights plots the weights of each label over
// the encoder outputs.
//
// Only the first frameNum columns of weights are used.
// Each encoder output spans numStack input frames.
// If spectrogram is non-nil, its first SpectrogramBins
// features are drawn below the weights.
func AttentionWeights(path string, weights [][]float64, labels []string, frameNum,
	numStack int, ref string, spectrogram [][]float64) error {
	if len(labels) == 0 || len(weights) == 0 {
		return ErrNoLabels
	}
	if numStack < 1 {
		numStack = 1
	}
	rows := min(len(labels), len(weights))
	cols := min(frameNum, len(weights[0]))
	if cols == 0 {
		return ErrNoLabels
	}
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		m.SetRow(rows-1-i, weights[i][:cols])
	}

	p := heatmapPlot(&grid{Data: m, XScale: float64(numStack)}, 0, 1)
	p.Title.Text = ref
	p.X.Label.Text = "Input frames"
	p.Y.Label.Text = "Output labels"
	p.Y.Tick.Marker = labelTicks(labels[:rows], true)

	if spectrogram == nil {
		return savePlots(path, p)
	}
	spec := spectrogramPlot(spectrogram)
	spec.X.Label.Text = "Input frames"
	spec.Y.Label.Text = "Frequency bin"
	return savePlots(path, p, spec)
}

// Word2CharWeights plots the weights of each word over the
// character decoder's states in a nested model.
func Word2CharWeights(path string, weights [][]float64, words, chars []string) error {
	if len(words) == 0 || len(chars) == 0 || len(weights) == 0 {
		return ErrNoLabels
	}
	rows := min(len(words), len(weights))
	cols := min(len(chars), len(weights[0]))
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		m.SetRow(rows-1-i, weights[i][:cols])
	}
	p := heatmapPlot(&grid{Data: m, XScale: 1}, 0, 1)
	p.X.Label.Text = "Character decoder"
	p.Y.Label.Text = "Output labels"
	p.X.Tick.Marker = labelTicks(chars[:cols], false)
	p.Y.Tick.Marker = labelTicks(words[:rows], true)
	return savePlots(path, p)
}

func spectrogramPlot(frames [][]float64) *plot.Plot {
	bins := 0
	if len(frames) > 0 {
		bins = min(len(frames[0]), SpectrogramBins)
	}
	m := mat.NewDense(max(1, bins), max(1, len(frames)), nil)
	lo, hi := math.Inf(1), math.Inf(-1)
	for t, frame := range frames {
		for f := 0; f < bins; f++ {
			m.Set(f, t, frame[f])
			lo, hi = math.Min(lo, frame[f]), math.Max(hi, frame[f])
		}
	}
	if !(hi > lo) {
		lo, hi = 0, 1
	}
	return heatmapPlot(&grid{Data: m, XScale: 1}, lo, hi)
}

func heatmapPlot(g *grid, lo, hi float64) *plot.Plot {
	h := plotter.NewHeatMap(g, palette.Heat(64, 1))
	h.Min, h.Max = lo, hi
	p := plot.New()
	p.Add(h)
	return p
}

func labelTicks(labels []string, flip bool) plot.ConstantTicks {
	res := make(plot.ConstantTicks, len(labels))
	for i, l := range labels {
		pos := i
		if flip {
			pos = len(labels) - 1 - i
		}
		res[i] = plot.Tick{Value: float64(pos), Label: l}
	}
	return res
}

func savePlots(path string, plots ...*plot.Plot) error {
	img := vgimg.New(Width, Height)
	dc := draw.New(img)
	layout := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		layout[i] = []*plot.Plot{p}
	}
	tiles := draw.Tiles{Rows: len(plots), Cols: 1, PadY: vg.Millimeter * 4}
	canvases := plot.Align(layout, tiles, dc)
	for i, p := range plots {
		p.Draw(canvases[i][0])
	}

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return errors.Wrapf(atomic.WriteFile(path, &buf), "save plot %s", path)
}

// grid adapts a matrix to plotter.GridXYZ, with matrix
// rows along the y axis.
// Labels are stored bottom row first so that they read
// from the top of the plot.
type grid struct {
	Data   mat.Matrix
	XScale float64
}

func (g *grid) Dims() (c, r int) {
	r, c = g.Data.Dims()
	return c, r
}

func (g *grid) Z(c, r int) float64 {
	return g.Data.At(r, c)
}

func (g *grid) X(c int) float64 {
	return float64(c) * g.XScale
}

func (g *grid) Y(r int) float64 {
	return float64(r)
}
