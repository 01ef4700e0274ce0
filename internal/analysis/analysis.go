// Package analysis compares demodulated audio against a reference and
// measures its spectral content.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

var (
	// ErrLengthMismatch is returned when two signals must be compared sample
	// by sample but differ in length.
	ErrLengthMismatch = errors.New("signal lengths differ")

	// ErrFlatSignal is returned when a signal has no variation to measure.
	ErrFlatSignal = errors.New("signal is flat")
)

// Mean returns the average of x, or 0 for an empty slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// RemoveDC returns a copy of x with its mean subtracted.
func RemoveDC(x []float64) []float64 {
	m := Mean(x)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - m
	}
	return out
}

// Correlation returns the Pearson correlation coefficient of a and b.
func Correlation(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	ma, mb := Mean(a), Mean(b)
	var sab, saa, sbb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		sab += da * db
		saa += da * da
		sbb += db * db
	}
	if saa == 0 || sbb == 0 {
		return 0, ErrFlatSignal
	}
	return sab / math.Sqrt(saa*sbb), nil
}

// ScaleToReference linearly maps x onto the range of ref: x is centred on the
// midpoint of its extremes, stretched to ref's peak-to-peak span and shifted
// to ref's midpoint. invert flips x first.
func ScaleToReference(ref, x []float64, invert bool) ([]float64, error) {
	if len(ref) == 0 || len(x) == 0 {
		return nil, ErrFlatSignal
	}
	sign := 1.0
	if invert {
		sign = -1
	}
	refMin, refMax := slices.Min(ref), slices.Max(ref)
	xMin, xMax := sign*slices.Min(x), sign*slices.Max(x)
	if invert {
		xMin, xMax = xMax, xMin
	}
	if xMax == xMin {
		return nil, ErrFlatSignal
	}

	centre := (xMax + xMin) / 2
	scale := (refMax - refMin) / (xMax - xMin)
	offset := (refMax + refMin) / 2

	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (sign*v-centre)*scale + offset
	}
	return out, nil
}

// DominantFrequency returns the frequency in Hz of the strongest non-DC
// component of x. The signal is Hann-windowed and the peak bin refined by
// parabolic interpolation of the neighbouring magnitudes.
func DominantFrequency(x []float64, sampleRate float64) (float64, error) {
	if len(x) < 4 {
		return 0, fmt.Errorf("%w: need at least 4 samples, have %d", ErrFlatSignal, len(x))
	}
	windowed := RemoveDC(x)
	window.Apply(windowed, window.Hann)
	spectrum := fft.FFTReal(windowed)

	half := len(spectrum) / 2
	peak := 0
	var peakMag float64
	for k := 1; k < half; k++ {
		if mag := cmplx.Abs(spectrum[k]); mag > peakMag {
			peak, peakMag = k, mag
		}
	}
	if peak == 0 || peakMag == 0 {
		return 0, ErrFlatSignal
	}

	bin := float64(peak)
	if peak > 1 && peak < half-1 {
		l := cmplx.Abs(spectrum[peak-1])
		r := cmplx.Abs(spectrum[peak+1])
		if den := l - 2*peakMag + r; den != 0 {
			bin += 0.5 * (l - r) / den
		}
	}
	return bin * sampleRate / float64(len(x)), nil
}
