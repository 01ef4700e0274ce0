package dsp

// DeemphasisCoefficients returns the first-order low-pass used for FM
// de-emphasis, y += alpha*(x - y), in IIRFilter form.
// sampleRate is the audio sample rate.
// tau is the time constant (e.g., 50e-6 for Europe, 75e-6 for US).
func DeemphasisCoefficients(sampleRate int, tau float64) Coefficients {
	dt := 1.0 / float64(sampleRate)
	alpha := dt / (tau + dt)
	return Coefficients{B0: alpha, B1: 0, A1: -(1 - alpha)}
}

// NewDeemphasis creates a new de-emphasis filter.
func NewDeemphasis(sampleRate int, tau float64) *IIRFilter {
	return NewIIRFilter(DeemphasisCoefficients(sampleRate, tau))
}

// DCBlockerCoefficients returns y[n] = x[n] - x[n-1] + r*y[n-1] in IIRFilter
// form. r close to 1 gives a narrow notch at DC.
func DCBlockerCoefficients(r float64) Coefficients {
	return Coefficients{B0: 1, B1: -1, A1: -r}
}
