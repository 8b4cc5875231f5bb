package anydata

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Frames is a sequence of feature vectors, one per frame.
type Frames [][]float64

// Width returns the size of each frame, or 0 if there are
// no frames.
func (f Frames) Width() int {
	if len(f) == 0 {
		return 0
	}
	return len(f[0])
}

// ReadFeatures reads a feature file, choosing the format
// from the file extension (.npy or .htk).
func ReadFeatures(path string) (Frames, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return ReadNpy(path)
	case ".htk":
		return ReadHTK(path)
	}
	return nil, errors.Errorf("read features: unknown format for %s", path)
}

// FrameCount reads the number of frames in a feature file
// without reading the features.
func FrameCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "frame count")
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		h, err := readNpyHeader(f)
		if err != nil {
			return 0, errors.Wrapf(err, "frame count: %s", path)
		}
		return h.Shape[0], nil
	case ".htk":
		h, err := readHTKHeader(f)
		if err != nil {
			return 0, errors.Wrapf(err, "frame count: %s", path)
		}
		return int(h.NumSamples), nil
	}
	return 0, errors.Errorf("frame count: unknown format for %s", path)
}

type npyHeader struct {
	Descr   string
	Fortran bool
	Shape   []int
}

var (
	npyDescrExpr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortranExpr = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShapeExpr   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

func readNpyHeader(r io.Reader) (*npyHeader, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, errors.Wrap(err, "read magic string")
	}
	if string(prefix[:6]) != "\x93NUMPY" {
		return nil, errors.New("not a .npy file")
	}
	var headerLen int
	switch prefix[6] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "read header length")
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "read header length")
		}
		headerLen = int(n)
	default:
		return nil, errors.Errorf("unsupported .npy version %d.%d", prefix[6], prefix[7])
	}
	data := make([]byte, headerLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	header := string(data)

	descr := npyDescrExpr.FindStringSubmatch(header)
	fortran := npyFortranExpr.FindStringSubmatch(header)
	shape := npyShapeExpr.FindStringSubmatch(header)
	if descr == nil || fortran == nil || shape == nil {
		return nil, errors.Errorf("malformed header: %q", header)
	}
	res := &npyHeader{Descr: descr[1], Fortran: fortran[1] == "True"}
	for _, part := range strings.Split(shape[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid shape %q", shape[1])
		}
		res.Shape = append(res.Shape, n)
	}
	if len(res.Shape) != 2 {
		return nil, errors.Errorf("expected a 2-D array but got shape %v", res.Shape)
	}
	return res, nil
}

// ReadNpy reads a 2-D float32 or float64 .npy array of
// shape (frames, features).
func ReadNpy(path string) (Frames, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read npy")
	}
	defer f.Close()
	r := bufio.NewReader(f)
	h, err := readNpyHeader(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read npy %s", path)
	}

	var order binary.ByteOrder = binary.LittleEndian
	descr := h.Descr
	if strings.HasPrefix(descr, ">") {
		order = binary.BigEndian
	}
	descr = strings.TrimLeft(descr, "<>=|")

	rows, cols := h.Shape[0], h.Shape[1]
	flat := make([]float64, rows*cols)
	switch descr {
	case "f2":
		buf := make([]uint16, len(flat))
		if err := binary.Read(r, order, buf); err != nil {
			return nil, errors.Wrapf(err, "read npy %s", path)
		}
		for i, x := range buf {
			flat[i] = float64(float16.Frombits(x).Float32())
		}
	case "f4":
		buf := make([]float32, len(flat))
		if err := binary.Read(r, order, buf); err != nil {
			return nil, errors.Wrapf(err, "read npy %s", path)
		}
		for i, x := range buf {
			flat[i] = float64(x)
		}
	case "f8":
		if err := binary.Read(r, order, flat); err != nil {
			return nil, errors.Wrapf(err, "read npy %s", path)
		}
	default:
		return nil, errors.Errorf("read npy %s: unsupported dtype %s", path, h.Descr)
	}

	res := make(Frames, rows)
	for i := range res {
		res[i] = make([]float64, cols)
		for j := range res[i] {
			if h.Fortran {
				res[i][j] = flat[j*rows+i]
			} else {
				res[i][j] = flat[i*cols+j]
			}
		}
	}
	return res, nil
}

// WriteNpy writes frames as a little-endian float32 .npy
// file.
func WriteNpy(path string, frames Frames) error {
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': (" +
		strconv.Itoa(len(frames)) + ", " + strconv.Itoa(frames.Width()) + "), }"
	// Pad so that the data starts on a 64-byte boundary.
	total := 10 + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "write npy")
	}
	w := bufio.NewWriter(f)
	w.WriteString("\x93NUMPY\x01\x00")
	binary.Write(w, binary.LittleEndian, uint16(len(header)))
	w.WriteString(header)
	for _, frame := range frames {
		for _, x := range frame {
			binary.Write(w, binary.LittleEndian, float32(x))
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "write npy")
	}
	return errors.Wrap(f.Close(), "write npy")
}

type htkHeader struct {
	NumSamples   int32
	SamplePeriod int32
	SampleSize   int16
	ParamKind    int16
}

func readHTKHeader(r io.Reader) (*htkHeader, error) {
	var h htkHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, errors.Wrap(err, "read HTK header")
	}
	if h.NumSamples < 0 || h.SampleSize <= 0 || h.SampleSize%4 != 0 {
		return nil, errors.Errorf("invalid HTK header: %+v", h)
	}
	return &h, nil
}

// ReadHTK reads an uncompressed HTK parameter file.
func ReadHTK(path string) (Frames, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read HTK")
	}
	defer f.Close()
	r := bufio.NewReader(f)
	h, err := readHTKHeader(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read HTK %s", path)
	}
	dim := int(h.SampleSize) / 4
	buf := make([]float32, dim)
	res := make(Frames, h.NumSamples)
	for i := range res {
		if err := binary.Read(r, binary.BigEndian, buf); err != nil {
			return nil, errors.Wrapf(err, "read HTK %s", path)
		}
		res[i] = make([]float64, dim)
		for j, x := range buf {
			res[i][j] = float64(x)
		}
	}
	return res, nil
}

// AddDeltas appends delta (and optionally double delta)
// coefficients to every frame, using a regression window
// of two frames on each side.
//
// The resulting frames hold the static features, then the
// deltas, then the double deltas.
func AddDeltas(frames Frames, delta, doubleDelta bool) Frames {
	if !delta && !doubleDelta {
		return frames
	}
	d := regression(frames)
	res := make(Frames, len(frames))
	for i, frame := range frames {
		res[i] = append(append([]float64{}, frame...), d[i]...)
	}
	if doubleDelta {
		dd := regression(d)
		for i := range res {
			res[i] = append(res[i], dd[i]...)
		}
	}
	return res
}

func regression(frames Frames) Frames {
	const window = 2
	var norm float64
	for n := 1; n <= window; n++ {
		norm += 2 * float64(n*n)
	}
	clamp := func(t int) int {
		return max(0, min(t, len(frames)-1))
	}
	res := make(Frames, len(frames))
	for t := range frames {
		res[t] = make([]float64, len(frames[t]))
		for n := 1; n <= window; n++ {
			next, prev := frames[clamp(t+n)], frames[clamp(t-n)]
			for j := range res[t] {
				res[t][j] += float64(n) * (next[j] - prev[j])
			}
		}
		for j := range res[t] {
			res[t][j] /= norm
		}
	}
	return res
}

// InterleaveChannels reorders frames laid out as whole
// channels (static, delta, double delta) so that the
// channels of each feature bin are adjacent.
func InterleaveChannels(frames Frames, channels int) Frames {
	if channels <= 1 {
		return frames
	}
	res := make(Frames, len(frames))
	for t, frame := range frames {
		bins := len(frame) / channels
		res[t] = make([]float64, len(frame))
		for ch := 0; ch < channels; ch++ {
			for f := 0; f < bins; f++ {
				res[t][f*channels+ch] = frame[ch*bins+f]
			}
		}
	}
	return res
}

// Splice concatenates every frame with its (splice-1)/2
// neighbors on each side.
// Neighbors past the edges repeat the edge frames.
func Splice(frames Frames, splice int) Frames {
	if splice <= 1 {
		return frames
	}
	side := (splice - 1) / 2
	res := make(Frames, len(frames))
	for t := range frames {
		var joined []float64
		for i := t - side; i <= t+side; i++ {
			joined = append(joined, frames[max(0, min(i, len(frames)-1))]...)
		}
		res[t] = joined
	}
	return res
}

// StackFrames concatenates numStack consecutive frames,
// starting a new stacked frame every numSkip frames.
// A stack running past the end is padded with the last
// frame.
func StackFrames(frames Frames, numStack, numSkip int) Frames {
	if numStack <= 1 && numSkip <= 1 {
		return frames
	}
	if numSkip < 1 {
		numSkip = 1
	}
	var res Frames
	for t := 0; t < len(frames); t += numSkip {
		var joined []float64
		for i := t; i < t+numStack; i++ {
			joined = append(joined, frames[min(i, len(frames)-1)]...)
		}
		res = append(res, joined)
	}
	return res
}
