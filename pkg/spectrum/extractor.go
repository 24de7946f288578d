// Package spectrum turns windows of filtered EMG samples into feature vectors.
package spectrum

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FeatureVector is the concatenation of the per-channel magnitude spectra,
// (N/2) values per channel in channel order.
type FeatureVector []float64

// Extractor accumulates non-overlapping windows for every channel in lockstep
// and produces one FeatureVector each time the windows fill up.
//
// All buffers are allocated once by New. The extractor belongs to the
// acquisition task and is not safe for concurrent use.
type Extractor struct {
	size     int
	channels int
	pos      int

	windows [][]float32
	seq     []float64
	coeff   []complex128
	fft     *fourier.FFT
}

// New creates an extractor for the given window size (a power of two) and
// channel count.
func New(size, channels int) (*Extractor, error) {
	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("window size must be a power of two >= 2, got %d", size)
	}
	if channels < 1 {
		return nil, fmt.Errorf("need at least one channel, got %d", channels)
	}

	arena := make([]float32, size*channels)
	windows := make([][]float32, channels)
	for ch := range windows {
		windows[ch] = arena[ch*size : (ch+1)*size : (ch+1)*size]
	}

	return &Extractor{
		size:     size,
		channels: channels,
		windows:  windows,
		seq:      make([]float64, size),
		coeff:    make([]complex128, size/2+1),
		fft:      fourier.NewFFT(size),
	}, nil
}

// Len returns the length of the produced feature vectors.
func (e *Extractor) Len() int {
	return e.size / 2 * e.channels
}

// Channels returns the channel count.
func (e *Extractor) Channels() int {
	return e.channels
}

// Size returns the window length.
func (e *Extractor) Size() int {
	return e.size
}

// Position returns the shared write position inside the current window.
func (e *Extractor) Position() int {
	return e.pos
}

// Push stores one filtered sample for a channel. The write position advances
// once the last channel of the tick has been pushed; when that completes the
// window, the feature vector is returned and the position wraps to zero.
func (e *Extractor) Push(channel int, sample float32) (FeatureVector, bool) {
	e.windows[channel][e.pos] = sample
	if channel != e.channels-1 {
		return nil, false
	}

	e.pos++
	if e.pos < e.size {
		return nil, false
	}
	e.pos = 0

	return e.features(), true
}

// features transforms every window into its magnitude spectrum.
func (e *Extractor) features() FeatureVector {
	half := e.size / 2
	out := make(FeatureVector, half*e.channels)

	for ch, w := range e.windows {
		for i, v := range w {
			e.seq[i] = float64(v)
		}
		e.coeff = e.fft.Coefficients(e.coeff, e.seq)

		// The DC term is real; drop any rounding residue in its imaginary part.
		e.coeff[0] = complex(real(e.coeff[0]), 0)

		dst := out[ch*half : (ch+1)*half]
		for i := range dst {
			dst[i] = l1(e.coeff[i])
		}
	}

	return out
}

// l1 is the magnitude used for the features: |re| + |im|.
func l1(c complex128) float64 {
	return math.Abs(real(c)) + math.Abs(imag(c))
}
