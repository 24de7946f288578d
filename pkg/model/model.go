// Package model holds the classifier parameters and their binary artifact
// format.
//
// Layout, little-endian:
//
//	"EMGW" | version u8 | precision u8 (32 or 16) | layers u16
//	per layer: in u32 | out u32 | out*in weights (row-major) | out biases
package model

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/x448/float16"
)

const (
	magic   = "EMGW"
	version = 1

	// Upper bound on a single layer dimension; guards allocations on corrupt input.
	maxDim = 1 << 16
)

// ErrFormat is returned for any malformed model artifact.
var ErrFormat = errors.New("invalid model format")

//go:embed default.bin
var defaultBlob []byte

// Precision is the on-disk width of each parameter.
type Precision uint8

const (
	Float32 Precision = 32
	Float16 Precision = 16
)

func (p Precision) size() int {
	return int(p) / 8
}

func (p Precision) valid() bool {
	return p == Float32 || p == Float16
}

// Layer is one fully connected layer. Weights is Out rows of In columns.
type Layer struct {
	In      int
	Out     int
	Weights []float32
	Bias    []float32
}

// At returns the weight connecting input i to output o.
func (l Layer) At(o, i int) float32 {
	return l.Weights[o*l.In+i]
}

// Weights is the immutable parameter set of the feed-forward network.
type Weights struct {
	Precision Precision
	Layers    []Layer
}

// InputLen returns the width of the first layer.
func (w *Weights) InputLen() int {
	if len(w.Layers) == 0 {
		return 0
	}
	return w.Layers[0].In
}

// OutputLen returns the width of the last layer.
func (w *Weights) OutputLen() int {
	if len(w.Layers) == 0 {
		return 0
	}
	return w.Layers[len(w.Layers)-1].Out
}

// Validate checks the layer shapes and that consecutive layers chain.
func (w *Weights) Validate() error {
	if len(w.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrFormat)
	}
	for i, l := range w.Layers {
		if l.In <= 0 || l.Out <= 0 || l.In > maxDim || l.Out > maxDim {
			return fmt.Errorf("%w: layer %d has shape %dx%d", ErrFormat, i, l.Out, l.In)
		}
		if len(l.Weights) != l.In*l.Out {
			return fmt.Errorf("%w: layer %d has %d weights, want %d", ErrFormat, i, len(l.Weights), l.In*l.Out)
		}
		if len(l.Bias) != l.Out {
			return fmt.Errorf("%w: layer %d has %d biases, want %d", ErrFormat, i, len(l.Bias), l.Out)
		}
		if i > 0 && w.Layers[i-1].Out != l.In {
			return fmt.Errorf("%w: layer %d input %d does not match previous output %d", ErrFormat, i, l.In, w.Layers[i-1].Out)
		}
	}
	return nil
}

// Default returns the weights compiled into the binary.
func Default() (*Weights, error) {
	w, err := Unmarshal(defaultBlob)
	if err != nil {
		return nil, fmt.Errorf("embedded model: %w", err)
	}
	return w, nil
}

// Load reads a model artifact from path.
func Load(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	w, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Decode reads a whole artifact from r.
func Decode(r io.Reader) (*Weights, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Unmarshal parses an artifact. Truncated data, trailing bytes and layers that
// do not chain are all reported as ErrFormat.
func Unmarshal(data []byte) (*Weights, error) {
	r := bytes.NewReader(data)

	var hdr struct {
		Magic     [4]byte
		Version   uint8
		Precision uint8
		Layers    uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if string(hdr.Magic[:]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, hdr.Magic[:])
	}
	if hdr.Version != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, hdr.Version)
	}
	p := Precision(hdr.Precision)
	if !p.valid() {
		return nil, fmt.Errorf("%w: unsupported precision %d", ErrFormat, hdr.Precision)
	}

	w := &Weights{Precision: p, Layers: make([]Layer, 0, hdr.Layers)}
	for i := 0; i < int(hdr.Layers); i++ {
		var shape [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &shape); err != nil {
			return nil, fmt.Errorf("%w: layer %d shape: %v", ErrFormat, i, err)
		}
		in, out := int(shape[0]), int(shape[1])
		if in <= 0 || out <= 0 || in > maxDim || out > maxDim {
			return nil, fmt.Errorf("%w: layer %d has shape %dx%d", ErrFormat, i, out, in)
		}
		if need := (in*out + out) * p.size(); r.Len() < need {
			return nil, fmt.Errorf("%w: layer %d truncated", ErrFormat, i)
		}

		l := Layer{In: in, Out: out}
		l.Weights = readValues(r, p, in*out)
		l.Bias = readValues(r, p, out)
		w.Layers = append(w.Layers, l)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrFormat, r.Len())
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// readValues expects the caller to have checked that n values are available.
func readValues(r *bytes.Reader, p Precision, n int) []float32 {
	out := make([]float32, n)
	buf := make([]byte, p.size())
	for i := range out {
		_, _ = io.ReadFull(r, buf)
		switch p {
		case Float16:
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(buf)).Float32()
		default:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
	}
	return out
}

// Encode writes the artifact with the given precision. Converting to Float16
// rounds every parameter to the nearest half-precision value.
func (w *Weights) Encode(dst io.Writer, p Precision) error {
	if !p.valid() {
		return fmt.Errorf("%w: unsupported precision %d", ErrFormat, p)
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if len(w.Layers) > math.MaxUint16 {
		return fmt.Errorf("%w: too many layers", ErrFormat)
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(version)
	buf.WriteByte(byte(p))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(w.Layers)))

	for _, l := range w.Layers {
		_ = binary.Write(&buf, binary.LittleEndian, [2]uint32{uint32(l.In), uint32(l.Out)})
		writeValues(&buf, p, l.Weights)
		writeValues(&buf, p, l.Bias)
	}

	_, err := dst.Write(buf.Bytes())
	return err
}

// MarshalBinary encodes the weights with their own precision.
func (w *Weights) MarshalBinary() ([]byte, error) {
	p := w.Precision
	if p == 0 {
		p = Float32
	}
	var buf bytes.Buffer
	if err := w.Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValues(buf *bytes.Buffer, p Precision, values []float32) {
	var tmp [4]byte
	for _, v := range values {
		switch p {
		case Float16:
			binary.LittleEndian.PutUint16(tmp[:2], float16.Fromfloat32(v).Bits())
			buf.Write(tmp[:2])
		default:
			binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
			buf.Write(tmp[:])
		}
	}
}

// ParamCount returns the total number of weights and biases.
func (w *Weights) ParamCount() int {
	n := 0
	for _, l := range w.Layers {
		n += len(l.Weights) + len(l.Bias)
	}
	return n
}
