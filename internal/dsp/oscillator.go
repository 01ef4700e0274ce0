package dsp

import "fmt"

// LocalOscillator approximates sin and cos of the LO with switching (±1)
// square waves, one table entry per input sample.
type LocalOscillator struct {
	sine   []float64
	cosine []float64
	index  int
}

// NewLocalOscillator builds the sine and cosine switching patterns for an LO
// period of the given number of samples. The period must be a positive
// multiple of 4 so that the quarter-period shift lands on a whole sample.
func NewLocalOscillator(period int) (*LocalOscillator, error) {
	if period <= 0 || period%4 != 0 {
		return nil, fmt.Errorf("%w: local oscillator period %d is not a positive multiple of 4", ErrInvalidConfiguration, period)
	}
	quarter := period / 4

	sine := make([]float64, period)
	cosine := make([]float64, period)
	for n := 0; n < period; n++ {
		if n < 2*quarter {
			sine[n] = 1
		} else {
			sine[n] = -1
		}
		if n < quarter || n >= 3*quarter {
			cosine[n] = 1
		} else {
			cosine[n] = -1
		}
	}
	return &LocalOscillator{sine: sine, cosine: cosine}, nil
}

// Period returns the number of samples in one LO cycle.
func (lo *LocalOscillator) Period() int {
	return len(lo.sine)
}

// Next returns the sine and cosine pattern values for the current sample and
// advances the oscillator by one sample.
func (lo *LocalOscillator) Next() (sine, cosine float64) {
	sine, cosine = lo.sine[lo.index], lo.cosine[lo.index]
	lo.index++
	if lo.index == len(lo.sine) {
		lo.index = 0
	}
	return sine, cosine
}

// Index returns the position of the next sample within the LO cycle.
func (lo *LocalOscillator) Index() int {
	return lo.index
}

// Reset rewinds the oscillator to the start of its cycle.
func (lo *LocalOscillator) Reset() {
	lo.index = 0
}

// Sine returns a copy of the sine switching pattern.
func (lo *LocalOscillator) Sine() []float64 {
	return append([]float64(nil), lo.sine...)
}

// Cosine returns a copy of the cosine switching pattern.
func (lo *LocalOscillator) Cosine() []float64 {
	return append([]float64(nil), lo.cosine...)
}
