package dsp

import (
	"fmt"
	"math"
)

// Coefficients of a first-order IIR section with numerator [B0, B1] and
// denominator [1, A1].
type Coefficients struct {
	B0 float64 `yaml:"b0"`
	B1 float64 `yaml:"b1"`
	A1 float64 `yaml:"a1"`
}

var (
	// DefaultCoefficients is a 1-pole low-pass: pass band to 0.1*fs, about
	// -20 dB at 0.35*fs.
	DefaultCoefficients = Coefficients{B0: 0.1584, B1: 0.1584, A1: -0.6832}

	// NarrowCoefficients is a 1-pole low-pass: pass band to 0.01*fs, about
	// -20 dB at 0.1*fs.
	NarrowCoefficients = Coefficients{B0: 0.03054, B1: 0.03054, A1: -0.9389}
)

// Validate reports whether the coefficients describe a stable filter.
func (c Coefficients) Validate() error {
	for _, v := range []float64{c.B0, c.B1, c.A1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite filter coefficient in %+v", ErrInvalidConfiguration, c)
		}
	}
	if math.Abs(c.A1) >= 1 {
		return fmt.Errorf("%w: filter pole |a1|=%g is not inside the unit circle", ErrInvalidConfiguration, math.Abs(c.A1))
	}
	return nil
}

// IIRFilter is a single-pole filter processing one sample per call. Instead of
// keeping sample history it carries two registers: the feed-forward term of
// the previous input and the previous output.
type IIRFilter struct {
	coeffs       Coefficients
	bufferInput  float64
	bufferOutput float64
}

// NewIIRFilter creates a filter with zeroed state.
func NewIIRFilter(c Coefficients) *IIRFilter {
	return &IIRFilter{coeffs: c}
}

// Process filters a single sample:
// y[n] = b0*x[n] + b1*x[n-1] - a1*y[n-1].
func (f *IIRFilter) Process(x float64) float64 {
	acc := x*f.coeffs.B0 + f.bufferInput - f.bufferOutput*f.coeffs.A1
	f.bufferInput = x * f.coeffs.B1
	f.bufferOutput = acc
	return acc
}

// Reset zeroes the filter state.
func (f *IIRFilter) Reset() {
	f.bufferInput = 0
	f.bufferOutput = 0
}

// Coefficients returns the filter's coefficients.
func (f *IIRFilter) Coefficients() Coefficients {
	return f.coeffs
}
