package pipeline

import (
	"errors"
	"fmt"
	"math"

	"nfm-demodulator/internal/analysis"
)

// ErrShortReference is returned when the reference ends inside the startup
// transient.
var ErrShortReference = errors.New("reference shorter than the startup transient")

// Comparison scores recovered audio against the modulating signal.
type Comparison struct {
	Samples     int
	Correlation float64
	// RMSError is measured after the audio is scaled onto the reference's
	// range.
	RMSError float64
}

// CompareReference runs reference, the modulating signal at the IF sampling
// rate, through the same transient skip and audio filtering as the
// demodulated stream and compares the result with audio. The demodulator
// output lags the modulation by half the discriminator delay.
func (p *Processor) CompareReference(audio, reference []float64) (Comparison, error) {
	delay := p.demod.DiscriminatorDelay()
	skip := delay + p.cfg.Audio.SettleSamples - delay/2
	if skip >= len(reference) {
		return Comparison{}, ErrShortReference
	}

	shaped := newAudioChain(p.cfg).process(reference[skip:])
	n := min(len(shaped), len(audio))
	shaped, audio = shaped[:n], audio[:n]

	// Polarity has already been applied to audio.
	scaled, err := analysis.ScaleToReference(shaped, audio, false)
	if err != nil {
		return Comparison{}, fmt.Errorf("scale audio: %w", err)
	}
	corr, err := analysis.Correlation(shaped, scaled)
	if err != nil {
		return Comparison{}, fmt.Errorf("correlate audio: %w", err)
	}

	var sumSq float64
	for i := range scaled {
		d := scaled[i] - shaped[i]
		sumSq += d * d
	}
	return Comparison{
		Samples:     n,
		Correlation: corr,
		RMSError:    math.Sqrt(sumSq / float64(n)),
	}, nil
}
