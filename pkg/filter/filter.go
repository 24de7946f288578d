// Package filter conditions raw EMG samples before spectral analysis.
//
// Each sensor channel owns an independent cascade of second order sections:
// a notch at the power-line frequency followed by low-pass and high-pass band
// limiting. Coefficients are designed from the sample rate with the RBJ audio
// cookbook formulas and run in float32, matching what the microcontroller does.
package filter

import (
	"fmt"

	"github.com/chewxy/math32"
)

// butterworthQ is the quality factor of a maximally flat second order section.
const butterworthQ = 0.70710678

// Biquad is a second order IIR section in direct form II transposed.
type Biquad struct {
	b0, b1, b2 float32
	a1, a2     float32
	z1, z2     float32
}

// Update filters one sample.
func (f *Biquad) Update(x float32) float32 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// Reset clears the section history.
func (f *Biquad) Reset() {
	f.z1, f.z2 = 0, 0
}

// DCGain returns the section response at 0 Hz.
func (f *Biquad) DCGain() float32 {
	return (f.b0 + f.b1 + f.b2) / (1 + f.a1 + f.a2)
}

func normalized(b0, b1, b2, a0, a1, a2 float32) Biquad {
	return Biquad{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

func design(f0, fs, q float32) (cosw, alpha float32, err error) {
	if fs <= 0 {
		return 0, 0, fmt.Errorf("sample rate must be positive, got %g", fs)
	}
	if f0 <= 0 || f0 >= fs/2 {
		return 0, 0, fmt.Errorf("corner %g Hz outside (0, %g) Hz", f0, fs/2)
	}
	if q <= 0 {
		return 0, 0, fmt.Errorf("quality factor must be positive, got %g", q)
	}
	w0 := 2 * math32.Pi * f0 / fs
	return math32.Cos(w0), math32.Sin(w0) / (2 * q), nil
}

// NewNotch designs a band-stop section centred on f0.
func NewNotch(f0, fs, q float32) (Biquad, error) {
	cos, alpha, err := design(f0, fs, q)
	if err != nil {
		return Biquad{}, fmt.Errorf("notch: %w", err)
	}
	return normalized(1, -2*cos, 1, 1+alpha, -2*cos, 1-alpha), nil
}

// NewLowpass designs a Butterworth low-pass section.
func NewLowpass(f0, fs float32) (Biquad, error) {
	cos, alpha, err := design(f0, fs, butterworthQ)
	if err != nil {
		return Biquad{}, fmt.Errorf("lowpass: %w", err)
	}
	return normalized((1-cos)/2, 1-cos, (1-cos)/2, 1+alpha, -2*cos, 1-alpha), nil
}

// NewHighpass designs a Butterworth high-pass section.
func NewHighpass(f0, fs float32) (Biquad, error) {
	cos, alpha, err := design(f0, fs, butterworthQ)
	if err != nil {
		return Biquad{}, fmt.Errorf("highpass: %w", err)
	}
	return normalized((1+cos)/2, -(1 + cos), (1+cos)/2, 1+alpha, -2*cos, 1-alpha), nil
}
