// Package synth generates FM test signals: a modulating signal built from
// sine tones and the IF signal it frequency-modulates.
package synth

import "math"

// Tone is one sine component of a modulating signal.
type Tone struct {
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
}

// Modulation is a sum of tones.
type Modulation []Tone

// At returns the modulating signal at time t seconds.
func (m Modulation) At(t float64) float64 {
	var v float64
	for _, tone := range m {
		v += tone.Amplitude * math.Sin(2*math.Pi*tone.Frequency*t)
	}
	return v
}

// AmplitudeSum returns the peak the tones can reach together.
func (m Modulation) AmplitudeSum() float64 {
	var sum float64
	for _, tone := range m {
		sum += math.Abs(tone.Amplitude)
	}
	return sum
}

// FMModulator frequency-modulates a carrier by integrating the modulating
// signal into its phase.
type FMModulator struct {
	carrierAmplitude float64
	carrierStep      float64 // rad/sample
	deviationStep    float64 // rad/sample per unit of modulation

	carrierPhase float64
	phase        float64
}

// NewFMModulator creates a modulator. sensitivity is the frequency deviation
// in Hz per unit of modulating signal.
func NewFMModulator(samplingFrequency, carrierFrequency, carrierAmplitude, sensitivity float64) *FMModulator {
	return &FMModulator{
		carrierAmplitude: carrierAmplitude,
		carrierStep:      2 * math.Pi * carrierFrequency / samplingFrequency,
		deviationStep:    2 * math.Pi * sensitivity / samplingFrequency,
	}
}

// Next returns the next IF sample for the given modulating value.
func (m *FMModulator) Next(modulation float64) float64 {
	m.phase = math.Mod(m.phase+m.deviationStep*modulation, 2*math.Pi)
	out := m.carrierAmplitude * math.Cos(m.carrierPhase+m.phase)
	m.carrierPhase = math.Mod(m.carrierPhase+m.carrierStep, 2*math.Pi)
	return out
}

// Phase returns the accumulated modulation phase in radians, wrapped to
// (-2π, 2π).
func (m *FMModulator) Phase() float64 {
	return m.phase
}

// Params describe a synthesized FM signal.
type Params struct {
	SamplingFrequency float64
	CarrierFrequency  float64
	CarrierAmplitude  float64
	Sensitivity       float64
	Modulation        Modulation
}

// Generator produces an FM signal together with the modulating signal it was
// built from.
type Generator struct {
	params    Params
	modulator *FMModulator
	n         int
}

// NewGenerator creates a generator starting at t=0.
func NewGenerator(p Params) *Generator {
	return &Generator{
		params:    p,
		modulator: NewFMModulator(p.SamplingFrequency, p.CarrierFrequency, p.CarrierAmplitude, p.Sensitivity),
	}
}

// Next returns the next IF sample and the modulating value behind it.
func (g *Generator) Next() (sample, reference float64) {
	reference = g.params.Modulation.At(float64(g.n) / g.params.SamplingFrequency)
	g.n++
	return g.modulator.Next(reference), reference
}

// Fill writes len(signal) samples to signal and, when reference is not nil,
// the modulating values to reference.
func (g *Generator) Fill(signal, reference []float64) {
	for i := range signal {
		s, r := g.Next()
		signal[i] = s
		if reference != nil {
			reference[i] = r
		}
	}
}

// Generate returns n samples of the FM signal described by p and the
// modulating signal.
func Generate(p Params, n int) (signal, reference []float64) {
	signal = make([]float64, n)
	reference = make([]float64, n)
	NewGenerator(p).Fill(signal, reference)
	return signal, reference
}
