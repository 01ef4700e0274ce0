package dsp

import (
	"fmt"
	"math"
)

// State is the lifecycle stage of a Demodulator.
type State int

const (
	// Unconfigured demodulators have no sampling geometry.
	Unconfigured State = iota
	// Configured demodulators have an LO but no discriminator delay yet.
	Configured
	// Running demodulators accept samples.
	Running
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config is the static sampling geometry of a Demodulator.
type Config struct {
	// SamplingFrequency is the rate raw samples arrive at, in Hz.
	SamplingFrequency float64
	// OversamplingRatio is SamplingFrequency over the LO frequency. It must be
	// a positive multiple of 4.
	OversamplingRatio int
	// Coefficients of the three low-pass filters. The zero value selects
	// DefaultCoefficients.
	Coefficients Coefficients
}

// RunParams describe the signal expected by one run of the demodulator.
type RunParams struct {
	// DiscriminatorDelayRatio is the number of half-cycles of the carrier
	// offset spanned by the discriminator delay.
	DiscriminatorDelayRatio int
	// CarrierFrequency of the incoming IF signal, in Hz.
	CarrierFrequency float64
	// ModulationAmplitudeSum and FrequencySensitivity only feed
	// MaxPhaseDeviation.
	ModulationAmplitudeSum float64
	FrequencySensitivity   float64
}

// Demodulator recovers the modulating signal from a real NFM IF stream, one
// sample at a time. It mixes against a switching LO, low-pass filters I and
// Q, takes the cross product of the current and a delayed I/Q pair, and
// low-pass filters the result.
//
// A Demodulator is not safe for concurrent use; use one per channel.
type Demodulator struct {
	cfg Config
	lo  *LocalOscillator

	params            RunParams
	delay             *DelayLine
	preciseDelay      float64
	maxPhaseDeviation float64

	filterI   *IIRFilter
	filterQ   *IIRFilter
	filterOut *IIRFilter
}

// NewDemodulator creates a configured demodulator. Init must be called before
// samples are processed.
func NewDemodulator(cfg Config) (*Demodulator, error) {
	d := &Demodulator{}
	if err := d.Configure(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Configure replaces the sampling geometry. On success the demodulator drops
// back to the Configured state and needs a fresh Init; on failure it is left
// exactly as it was.
func (d *Demodulator) Configure(cfg Config) error {
	if math.IsNaN(cfg.SamplingFrequency) || math.IsInf(cfg.SamplingFrequency, 0) || cfg.SamplingFrequency <= 0 {
		return fmt.Errorf("%w: sampling frequency %g Hz must be positive", ErrInvalidConfiguration, cfg.SamplingFrequency)
	}
	if cfg.Coefficients == (Coefficients{}) {
		cfg.Coefficients = DefaultCoefficients
	}
	if err := cfg.Coefficients.Validate(); err != nil {
		return err
	}
	lo, err := NewLocalOscillator(cfg.OversamplingRatio)
	if err != nil {
		return fmt.Errorf("oversampling ratio %d: %w", cfg.OversamplingRatio, err)
	}

	d.cfg = cfg
	d.lo = lo
	d.params = RunParams{}
	d.delay = nil
	d.preciseDelay = 0
	d.maxPhaseDeviation = 0
	d.filterI = NewIIRFilter(cfg.Coefficients)
	d.filterQ = NewIIRFilter(cfg.Coefficients)
	d.filterOut = NewIIRFilter(cfg.Coefficients)
	return nil
}

// DiscriminatorDelay resolves the discriminator delay in samples for a given
// delay ratio, sampling frequency, LO frequency and carrier frequency. It
// returns the rounded delay and the unrounded value.
func DiscriminatorDelay(ratio int, samplingFrequency, loFrequency, carrierFrequency float64) (int, float64, error) {
	if ratio < 1 {
		return 0, 0, fmt.Errorf("%w: discriminator delay ratio %d must be at least 1", ErrDegenerateParameters, ratio)
	}
	if math.IsNaN(carrierFrequency) || math.IsInf(carrierFrequency, 0) {
		return 0, 0, fmt.Errorf("%w: carrier frequency %g Hz is not finite", ErrDegenerateParameters, carrierFrequency)
	}
	offset := math.Abs(loFrequency - carrierFrequency)
	if offset == 0 {
		return 0, 0, fmt.Errorf("%w: carrier frequency equals LO frequency %g Hz", ErrDegenerateParameters, loFrequency)
	}
	precise := float64(ratio) * samplingFrequency / (2 * offset)
	delay := math.Round(precise)
	if delay < 1 {
		return 0, precise, fmt.Errorf("%w: discriminator delay %.3f rounds below one sample", ErrDegenerateParameters, precise)
	}
	if delay > math.MaxInt32 {
		return 0, precise, fmt.Errorf("%w: discriminator delay %.0f samples is too long", ErrDegenerateParameters, precise)
	}
	return int(delay), precise, nil
}

// Init starts a run: it sizes the delay line for p, zeroes every filter and
// rewinds the LO. It returns the discriminator delay in samples; callers
// should discard at least that many leading outputs.
func (d *Demodulator) Init(p RunParams) (int, error) {
	if d.lo == nil {
		return 0, fmt.Errorf("init before configure: %w", ErrInvalidConfiguration)
	}
	samples, precise, err := DiscriminatorDelay(p.DiscriminatorDelayRatio, d.cfg.SamplingFrequency, d.LocalOscillatorFrequency(), p.CarrierFrequency)
	if err != nil {
		return 0, err
	}
	delay, err := NewDelayLine(samples)
	if err != nil {
		return 0, err
	}

	d.params = p
	d.delay = delay
	d.preciseDelay = precise
	d.maxPhaseDeviation = p.FrequencySensitivity * (float64(samples) / d.cfg.SamplingFrequency) * p.ModulationAmplitudeSum
	d.Reset()
	return samples, nil
}

// Reset restarts the stream with the current run parameters.
func (d *Demodulator) Reset() {
	if d.lo == nil {
		return
	}
	d.lo.Reset()
	d.filterI.Reset()
	d.filterQ.Reset()
	d.filterOut.Reset()
	if d.delay != nil {
		d.delay.Reset()
	}
}

// ProcessSample demodulates one raw IF sample. It panics with an error
// wrapping ErrNotInitialized if Init has not succeeded.
func (d *Demodulator) ProcessSample(x float64) float64 {
	if d.delay == nil {
		panic(fmt.Errorf("dsp: ProcessSample: %w", ErrNotInitialized))
	}

	// Mix to baseband.
	sine, cosine := d.lo.Next()
	i := d.filterI.Process(x * sine)
	q := d.filterQ.Process(x * cosine)

	// Imaginary part of current * conj(delayed).
	iDelayed, qDelayed := d.delay.Push(i, q)
	polar := i*qDelayed - q*iDelayed

	return d.filterOut.Process(polar)
}

// Process demodulates a block of samples, appending the results to dst.
func (d *Demodulator) Process(dst, src []float64) ([]float64, error) {
	if d.delay == nil {
		return dst, ErrNotInitialized
	}
	for _, x := range src {
		dst = append(dst, d.ProcessSample(x))
	}
	return dst, nil
}

// State returns the lifecycle stage.
func (d *Demodulator) State() State {
	switch {
	case d.lo == nil:
		return Unconfigured
	case d.delay == nil:
		return Configured
	}
	return Running
}

// Config returns the active configuration.
func (d *Demodulator) Config() Config {
	return d.cfg
}

// RunParams returns the parameters of the current run.
func (d *Demodulator) RunParams() RunParams {
	return d.params
}

// LocalOscillatorFrequency returns the LO frequency in Hz.
func (d *Demodulator) LocalOscillatorFrequency() float64 {
	if d.cfg.OversamplingRatio == 0 {
		return 0
	}
	return d.cfg.SamplingFrequency / float64(d.cfg.OversamplingRatio)
}

// LocalOscillatorPeriod returns the LO period in samples.
func (d *Demodulator) LocalOscillatorPeriod() int {
	if d.lo == nil {
		return 0
	}
	return d.lo.Period()
}

// DiscriminatorDelay returns the delay of the current run in samples, or 0
// before Init.
func (d *Demodulator) DiscriminatorDelay() int {
	if d.delay == nil {
		return 0
	}
	return d.delay.Len()
}

// PreciseDiscriminatorDelay returns the delay before rounding.
func (d *Demodulator) PreciseDiscriminatorDelay() float64 {
	return d.preciseDelay
}

// MaxPhaseDeviation returns the theoretical maximum phase change across the
// discriminator delay, in cycles. Multiply by 360 for degrees.
func (d *Demodulator) MaxPhaseDeviation() float64 {
	return d.maxPhaseDeviation
}

// Polarity returns the sign that makes the output follow the modulating
// signal, or 0 before Init. The delay spans DiscriminatorDelayRatio
// half-cycles of the carrier offset and each half-cycle flips the slope the
// cross product sits on: with this mixer an odd ratio tracks the modulation
// and an even ratio inverts it.
func (d *Demodulator) Polarity() float64 {
	switch {
	case d.delay == nil:
		return 0
	case d.params.DiscriminatorDelayRatio%2 == 0:
		return -1
	}
	return 1
}
