package dsp

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfm-demodulator/internal/analysis"
	"nfm-demodulator/internal/synth"
)

const (
	testSamplingFrequency = 400_000.0
	testOversampling      = 4 // LO at 100 kHz
	testSettleSamples     = 150
)

func newTestDemodulator(t *testing.T) *Demodulator {
	t.Helper()
	d, err := NewDemodulator(Config{SamplingFrequency: testSamplingFrequency, OversamplingRatio: testOversampling})
	require.NoError(t, err)
	return d
}

func TestNewDemodulator_Geometry(t *testing.T) {
	d, err := NewDemodulator(Config{SamplingFrequency: 800_000, OversamplingRatio: 8})
	require.NoError(t, err)

	assert.Equal(t, Configured, d.State())
	assert.Equal(t, 100_000.0, d.LocalOscillatorFrequency())
	assert.Equal(t, 8, d.LocalOscillatorPeriod())
	assert.Equal(t, DefaultCoefficients, d.Config().Coefficients)
	assert.Zero(t, d.DiscriminatorDelay())
	assert.Zero(t, d.Polarity())
}

func TestNewDemodulator_InvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"ratio not multiple of 4", Config{SamplingFrequency: 400_000, OversamplingRatio: 6}},
		{"zero ratio", Config{SamplingFrequency: 400_000, OversamplingRatio: 0}},
		{"negative ratio", Config{SamplingFrequency: 400_000, OversamplingRatio: -4}},
		{"zero sampling frequency", Config{SamplingFrequency: 0, OversamplingRatio: 4}},
		{"negative sampling frequency", Config{SamplingFrequency: -1, OversamplingRatio: 4}},
		{"NaN sampling frequency", Config{SamplingFrequency: math.NaN(), OversamplingRatio: 4}},
		{"unstable filter", Config{SamplingFrequency: 400_000, OversamplingRatio: 4, Coefficients: Coefficients{B0: 1, B1: 1, A1: 1.5}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDemodulator(tc.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			assert.Nil(t, d)
		})
	}
}

func TestDemodulator_ConfigureFailureKeepsState(t *testing.T) {
	d := newTestDemodulator(t)
	_, err := d.Init(RunParams{DiscriminatorDelayRatio: 2, CarrierFrequency: 108_900})
	require.NoError(t, err)

	err = d.Configure(Config{SamplingFrequency: 400_000, OversamplingRatio: 5})
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	assert.Equal(t, Running, d.State())
	assert.Equal(t, 45, d.DiscriminatorDelay())
	assert.Equal(t, 4, d.LocalOscillatorPeriod())

	// A successful reconfiguration needs a new Init.
	require.NoError(t, d.Configure(Config{SamplingFrequency: 800_000, OversamplingRatio: 8}))
	assert.Equal(t, Configured, d.State())
	_, err = d.Process(nil, []float64{1})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDiscriminatorDelay_Resolution(t *testing.T) {
	d := newTestDemodulator(t)

	delay, err := d.Init(RunParams{
		DiscriminatorDelayRatio: 2,
		CarrierFrequency:        108_900,
		ModulationAmplitudeSum:  1,
		FrequencySensitivity:    1000,
	})
	require.NoError(t, err)

	// round(2*400000/(2*8900)) = round(44.94)
	assert.Equal(t, 45, delay)
	assert.Equal(t, 45, d.DiscriminatorDelay())
	assert.InDelta(t, 44.9438, d.PreciseDiscriminatorDelay(), 1e-4)
	assert.InDelta(t, 1000*45/testSamplingFrequency, d.MaxPhaseDeviation(), 1e-12)
	assert.Equal(t, Running, d.State())
}

func TestDiscriminatorDelay_Table(t *testing.T) {
	testCases := []struct {
		name    string
		ratio   int
		fs      float64
		lo      float64
		carrier float64
		want    int
		wantErr error
	}{
		{"reference", 2, 400_000, 100_000, 108_900, 45, nil},
		{"carrier below LO", 2, 400_000, 100_000, 91_100, 45, nil},
		{"odd ratio", 1, 400_000, 100_000, 108_900, 22, nil},
		{"testbench", 1, 800_000, 100_000, 106_700, 60, nil},
		{"carrier at LO", 1, 400_000, 100_000, 100_000, 0, ErrDegenerateParameters},
		{"zero ratio", 0, 400_000, 100_000, 108_900, 0, ErrDegenerateParameters},
		{"rounds to zero", 1, 400_000, 100_000, 1e9, 0, ErrDegenerateParameters},
		{"NaN carrier", 1, 400_000, 100_000, math.NaN(), 0, ErrDegenerateParameters},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := DiscriminatorDelay(tc.ratio, tc.fs, tc.lo, tc.carrier)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDemodulator_InitFailureKeepsRun(t *testing.T) {
	d := newTestDemodulator(t)
	_, err := d.Init(RunParams{DiscriminatorDelayRatio: 1, CarrierFrequency: 108_900})
	require.NoError(t, err)

	_, err = d.Init(RunParams{DiscriminatorDelayRatio: 1, CarrierFrequency: 100_000})
	require.ErrorIs(t, err, ErrDegenerateParameters)
	assert.Equal(t, 22, d.DiscriminatorDelay())
	assert.Equal(t, Running, d.State())
}

func TestDemodulator_PrematureUse(t *testing.T) {
	d := newTestDemodulator(t)

	out, err := d.Process(nil, []float64{0.1, 0.2})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Empty(t, out)

	defer func() {
		r := recover()
		require.NotNil(t, r, "ProcessSample before Init must panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrNotInitialized))
	}()
	d.ProcessSample(0.1)
}

// demodulate runs a synthesized FM signal through a fresh demodulator and
// returns the output, the modulating signal and the delay.
func demodulate(t *testing.T, ratio int, carrier, sensitivity float64, n int) (out, reference []float64, d *Demodulator) {
	t.Helper()
	tones := synth.Modulation{{Frequency: 1000, Amplitude: 1}}
	signal, reference := synth.Generate(synth.Params{
		SamplingFrequency: testSamplingFrequency,
		CarrierFrequency:  carrier,
		CarrierAmplitude:  1,
		Sensitivity:       sensitivity,
		Modulation:        tones,
	}, n)

	d = newTestDemodulator(t)
	_, err := d.Init(RunParams{
		DiscriminatorDelayRatio: ratio,
		CarrierFrequency:        carrier,
		ModulationAmplitudeSum:  tones.AmplitudeSum(),
		FrequencySensitivity:    sensitivity,
	})
	require.NoError(t, err)

	out = make([]float64, 0, n)
	for _, x := range signal {
		out = append(out, d.ProcessSample(x))
	}
	return out, reference, d
}

func TestDemodulator_RecoversTone(t *testing.T) {
	testCases := []struct {
		name     string
		ratio    int
		carrier  float64
		polarity float64
	}{
		{"odd ratio above LO", 1, 108_900, 1},
		{"even ratio above LO", 2, 108_900, -1},
		{"ratio 3", 3, 108_900, 1},
		{"ratio 4", 4, 108_900, -1},
		{"odd ratio below LO", 1, 91_100, 1},
		{"even ratio below LO", 2, 91_100, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			const n = 8000
			out, reference, d := demodulate(t, tc.ratio, tc.carrier, 1000, n)
			require.Equal(t, tc.polarity, d.Polarity())

			delay := d.DiscriminatorDelay()
			start := delay + testSettleSamples
			// The cross product measures the phase advance across the delay,
			// so the recovered signal lags the modulation by half of it.
			lag := delay / 2

			recovered := analysis.RemoveDC(out[start+lag:])
			r, err := analysis.Correlation(recovered, reference[start:n-lag])
			require.NoError(t, err)
			assert.Greater(t, d.Polarity()*r, 0.98, "correlation %f", r)
		})
	}
}

func TestDemodulator_UnmodulatedCarrierSettles(t *testing.T) {
	for _, carrier := range []float64{108_900, 91_100} {
		out, _, d := demodulate(t, 1, carrier, 0, 4000)

		settled := out[d.DiscriminatorDelay()+testSettleSamples:]
		for i, v := range settled {
			require.InDelta(t, settled[0], v, 1e-9, "carrier %g: sample %d", carrier, i)
		}
		assert.Greater(t, math.Abs(settled[0]), 0.01)
	}
}

func TestDemodulator_Deterministic(t *testing.T) {
	first, _, _ := demodulate(t, 2, 108_900, 1000, 3000)
	second, _, _ := demodulate(t, 2, 108_900, 1000, 3000)
	assert.Equal(t, first, second)
}

func TestDemodulator_InitRestartsRun(t *testing.T) {
	signal, _ := synth.Generate(synth.Params{
		SamplingFrequency: testSamplingFrequency,
		CarrierFrequency:  108_900,
		CarrierAmplitude:  1,
		Sensitivity:       1000,
		Modulation:        synth.Modulation{{Frequency: 1000, Amplitude: 1}},
	}, 2000)
	params := RunParams{DiscriminatorDelayRatio: 2, CarrierFrequency: 108_900}

	d := newTestDemodulator(t)
	_, err := d.Init(params)
	require.NoError(t, err)
	first, err := d.Process(nil, signal)
	require.NoError(t, err)

	_, err = d.Init(params)
	require.NoError(t, err)
	second, err := d.Process(nil, signal)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	d.Reset()
	third, err := d.Process(make([]float64, 0, len(signal)), signal)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

// Block and per-sample processing must agree regardless of how the stream is
// split.
func TestDemodulator_Statefulness(t *testing.T) {
	const chunkSize = 97
	signal, _ := synth.Generate(synth.Params{
		SamplingFrequency: testSamplingFrequency,
		CarrierFrequency:  91_100,
		CarrierAmplitude:  0.5,
		Sensitivity:       2000,
		Modulation:        synth.Modulation{{Frequency: 1490, Amplitude: 1}},
	}, 1000)
	params := RunParams{DiscriminatorDelayRatio: 1, CarrierFrequency: 91_100}

	reference := newTestDemodulator(t)
	_, err := reference.Init(params)
	require.NoError(t, err)
	want := make([]float64, len(signal))
	for i, x := range signal {
		want[i] = reference.ProcessSample(x)
	}

	chunked := newTestDemodulator(t)
	_, err = chunked.Init(params)
	require.NoError(t, err)
	var got []float64
	for i := 0; i < len(signal); i += chunkSize {
		got, err = chunked.Process(got, signal[i:min(i+chunkSize, len(signal))])
		require.NoError(t, err)
	}
	assert.Equal(t, want, got)
}

// Instances share no state, so they can run side by side.
func TestDemodulator_Isolation(t *testing.T) {
	signal, _ := synth.Generate(synth.Params{
		SamplingFrequency: testSamplingFrequency,
		CarrierFrequency:  108_900,
		CarrierAmplitude:  1,
		Sensitivity:       1000,
		Modulation:        synth.Modulation{{Frequency: 1000, Amplitude: 1}},
	}, 2000)
	cfg := Config{SamplingFrequency: testSamplingFrequency, OversamplingRatio: testOversampling}

	run := func(ratio int) ([]float64, error) {
		d, err := NewDemodulator(cfg)
		if err != nil {
			return nil, err
		}
		if _, err := d.Init(RunParams{DiscriminatorDelayRatio: ratio, CarrierFrequency: 108_900}); err != nil {
			return nil, err
		}
		return d.Process(nil, signal)
	}

	want := make(map[int][]float64)
	for ratio := 1; ratio <= 2; ratio++ {
		out, err := run(ratio)
		require.NoError(t, err)
		want[ratio] = out
	}

	const workers = 6
	results := make([][]float64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := run(1 + w%2)
			assert.NoError(t, err)
			results[w] = out
		}()
	}
	wg.Wait()

	for w := range results {
		assert.Equal(t, want[1+w%2], results[w], "worker %d", w)
	}
}
