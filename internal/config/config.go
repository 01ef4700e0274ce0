package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"nfm-demodulator/internal/dsp"
	"nfm-demodulator/internal/synth"
)

// ErrInvalid is returned by Validate for settings no run could use.
var ErrInvalid = errors.New("invalid configuration")

// Filter presets for the demodulator's low-pass filters.
const (
	FilterDefault = "default"
	FilterNarrow  = "narrow"
	FilterCustom  = "custom"
)

// Config holds all the configuration parameters for the application.
type Config struct {
	Demodulator Demodulator `yaml:"demodulator"`
	Run         Run         `yaml:"run"`
	Stream      Stream      `yaml:"stream"`
	Audio       Audio       `yaml:"audio"`
	Synth       Synth       `yaml:"synth"`
}

// Demodulator is the static sampling geometry.
type Demodulator struct {
	SamplingFrequency float64 `yaml:"sampling_frequency"`
	OversamplingRatio int     `yaml:"oversampling_ratio"`
	// Filter selects the low-pass coefficients: default, narrow or custom.
	Filter       string           `yaml:"filter"`
	Coefficients dsp.Coefficients `yaml:"coefficients"`
}

// Run describes the expected signal.
type Run struct {
	DiscriminatorDelayRatio int     `yaml:"discriminator_delay_ratio"`
	CarrierFrequency        float64 `yaml:"carrier_frequency"`
	FrequencySensitivity    float64 `yaml:"frequency_sensitivity"`
	// ModulationAmplitudeSum is only used for the phase deviation report. When
	// zero, the synth tones' amplitude sum is used.
	ModulationAmplitudeSum float64 `yaml:"modulation_amplitude_sum"`
}

// Stream sizes the hand-off between the sample source and the demodulator.
type Stream struct {
	RingBufferSize  int `yaml:"ring_buffer_size"`
	ChunkSize       int `yaml:"chunk_size"`
	SampleBlockSize int `yaml:"sample_block_size"`
}

// Audio shapes the recovered signal for output.
type Audio struct {
	OutputSampleRate int     `yaml:"output_sample_rate"`
	FilterTaps       int     `yaml:"filter_taps"`
	FilterCutoff     float64 `yaml:"filter_cutoff"` // Hz
	DeemphTau        float64 `yaml:"deemph_tau"`    // seconds, 0 disables
	Gain             float64 `yaml:"gain"`
	// SettleSamples are discarded after the discriminator delay while the
	// IIR filters settle.
	SettleSamples int `yaml:"settle_samples"`
}

// Synth describes the built-in FM test signal.
type Synth struct {
	CarrierAmplitude float64      `yaml:"carrier_amplitude"`
	Tones            []synth.Tone `yaml:"tones"`
	Duration         float64      `yaml:"duration"` // seconds
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		Demodulator: Demodulator{
			SamplingFrequency: 800_000,
			OversamplingRatio: 8, // LO at 100 kHz
			Filter:            FilterDefault,
		},
		Run: Run{
			DiscriminatorDelayRatio: 1,
			CarrierFrequency:        106_700,
			FrequencySensitivity:    1000,
		},
		Stream: Stream{
			RingBufferSize:  2 * 800_000, // 2s of IF
			ChunkSize:       8192,
			SampleBlockSize: 4096,
		},
		Audio: Audio{
			OutputSampleRate: 48_000,
			FilterTaps:       251,
			FilterCutoff:     4000,
			Gain:             100_000,
			SettleSamples:    150,
		},
		Synth: Synth{
			CarrierAmplitude: 1,
			Tones: []synth.Tone{
				{Frequency: 370, Amplitude: 0.5},
				{Frequency: 962, Amplitude: 0.5},
			},
			Duration: 2,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := New()
	if err := cfg.Decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML from r onto cfg. Unknown keys are rejected.
func (cfg *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Coefficients resolves the filter preset.
func (cfg *Config) Coefficients() (dsp.Coefficients, error) {
	switch cfg.Demodulator.Filter {
	case FilterDefault, "":
		return dsp.DefaultCoefficients, nil
	case FilterNarrow:
		return dsp.NarrowCoefficients, nil
	case FilterCustom:
		if cfg.Demodulator.Coefficients == (dsp.Coefficients{}) {
			return dsp.Coefficients{}, fmt.Errorf("%w: custom filter needs coefficients", ErrInvalid)
		}
		return cfg.Demodulator.Coefficients, nil
	}
	return dsp.Coefficients{}, fmt.Errorf("%w: unknown filter preset %q", ErrInvalid, cfg.Demodulator.Filter)
}

// DSPConfig returns the demodulator configuration.
func (cfg *Config) DSPConfig() (dsp.Config, error) {
	coeffs, err := cfg.Coefficients()
	if err != nil {
		return dsp.Config{}, err
	}
	return dsp.Config{
		SamplingFrequency: cfg.Demodulator.SamplingFrequency,
		OversamplingRatio: cfg.Demodulator.OversamplingRatio,
		Coefficients:      coeffs,
	}, nil
}

// RunParams returns the demodulator run parameters.
func (cfg *Config) RunParams() dsp.RunParams {
	amplitudeSum := cfg.Run.ModulationAmplitudeSum
	if amplitudeSum == 0 {
		amplitudeSum = synth.Modulation(cfg.Synth.Tones).AmplitudeSum()
	}
	return dsp.RunParams{
		DiscriminatorDelayRatio: cfg.Run.DiscriminatorDelayRatio,
		CarrierFrequency:        cfg.Run.CarrierFrequency,
		ModulationAmplitudeSum:  amplitudeSum,
		FrequencySensitivity:    cfg.Run.FrequencySensitivity,
	}
}

// SynthParams returns the test signal parameters.
func (cfg *Config) SynthParams() synth.Params {
	return synth.Params{
		SamplingFrequency: cfg.Demodulator.SamplingFrequency,
		CarrierFrequency:  cfg.Run.CarrierFrequency,
		CarrierAmplitude:  cfg.Synth.CarrierAmplitude,
		Sensitivity:       cfg.Run.FrequencySensitivity,
		Modulation:        cfg.Synth.Tones,
	}
}

// SynthSamples returns the number of IF samples the synth produces.
func (cfg *Config) SynthSamples() int {
	return int(cfg.Synth.Duration * cfg.Demodulator.SamplingFrequency)
}

// Validate checks the settings the demodulator does not check itself.
func (cfg *Config) Validate() error {
	dspCfg, err := cfg.DSPConfig()
	if err != nil {
		return err
	}
	demod, err := dsp.NewDemodulator(dspCfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, _, err := dsp.DiscriminatorDelay(cfg.Run.DiscriminatorDelayRatio, dspCfg.SamplingFrequency, demod.LocalOscillatorFrequency(), cfg.Run.CarrierFrequency); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(cfg.Stream.SampleBlockSize > 0, "sample_block_size %d must be positive", cfg.Stream.SampleBlockSize)
	check(cfg.Stream.ChunkSize > 0, "chunk_size %d must be positive", cfg.Stream.ChunkSize)
	check(cfg.Stream.RingBufferSize > cfg.Stream.SampleBlockSize, "ring_buffer_size %d must exceed sample_block_size %d", cfg.Stream.RingBufferSize, cfg.Stream.SampleBlockSize)
	check(cfg.Audio.OutputSampleRate > 0, "output_sample_rate %d must be positive", cfg.Audio.OutputSampleRate)
	check(float64(cfg.Audio.OutputSampleRate) <= cfg.Demodulator.SamplingFrequency, "output_sample_rate %d exceeds sampling frequency %g", cfg.Audio.OutputSampleRate, cfg.Demodulator.SamplingFrequency)
	check(cfg.Audio.FilterTaps >= 3, "filter_taps %d must be at least 3", cfg.Audio.FilterTaps)
	check(cfg.Audio.FilterCutoff > 0 && 2*cfg.Audio.FilterCutoff <= float64(cfg.Audio.OutputSampleRate), "filter_cutoff %g Hz must be in (0, output_sample_rate/2]", cfg.Audio.FilterCutoff)
	check(cfg.Audio.DeemphTau >= 0, "deemph_tau %g must not be negative", cfg.Audio.DeemphTau)
	check(cfg.Audio.SettleSamples >= 0, "settle_samples %d must not be negative", cfg.Audio.SettleSamples)
	check(cfg.Synth.Duration >= 0, "synth duration %g must not be negative", cfg.Synth.Duration)
	return errors.Join(errs...)
}
