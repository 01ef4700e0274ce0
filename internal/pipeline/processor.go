package pipeline

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"nfm-demodulator/internal/config"
	"nfm-demodulator/internal/dsp"
	"nfm-demodulator/internal/ringbuffer"
)

// dcBlockerPole places the audio DC notch a few Hz wide at 48 kHz.
const dcBlockerPole = 0.999

// statsInterval is the number of blocks between progress log lines.
const statsInterval = 100

// Stats counts samples through a Processor.
type Stats struct {
	Blocks           int64
	InputSamples     int64
	DiscardedSamples int64
	OutputSamples    int64
	ClippedSamples   int64
}

// Processor turns blocks of IF samples into 16-bit audio: it demodulates,
// drops the startup transient, corrects the discriminator polarity,
// decimates to the audio rate and applies DC removal, optional de-emphasis
// and gain.
type Processor struct {
	cfg   *config.Config
	demod *dsp.Demodulator
	audio *audioChain

	gain      float64
	polarity  float64
	skip      int
	blockSize int

	scratch []float64
	logger  *logrus.Logger
	stats   Stats
}

// NewProcessor configures and initialises a demodulator from cfg.
func NewProcessor(cfg *config.Config, logger *logrus.Logger) (*Processor, error) {
	dspCfg, err := cfg.DSPConfig()
	if err != nil {
		return nil, err
	}
	demod, err := dsp.NewDemodulator(dspCfg)
	if err != nil {
		return nil, fmt.Errorf("configure demodulator: %w", err)
	}
	delay, err := demod.Init(cfg.RunParams())
	if err != nil {
		return nil, fmt.Errorf("init demodulator: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"lo_frequency_hz":         demod.LocalOscillatorFrequency(),
		"lo_period_samples":       demod.LocalOscillatorPeriod(),
		"delay_samples":           delay,
		"delay_samples_precise":   demod.PreciseDiscriminatorDelay(),
		"max_phase_deviation_deg": demod.MaxPhaseDeviation() * 360,
		"polarity":                demod.Polarity(),
	}).Info("Demodulator initialised")

	return &Processor{
		cfg:       cfg,
		demod:     demod,
		audio:     newAudioChain(cfg),
		gain:      cfg.Audio.Gain,
		polarity:  demod.Polarity(),
		skip:      delay + cfg.Audio.SettleSamples,
		blockSize: cfg.Stream.SampleBlockSize,
		scratch:   make([]float64, 0, cfg.Stream.SampleBlockSize),
		logger:    logger,
	}, nil
}

// audioChain decimates to the audio rate and applies DC removal and optional
// de-emphasis.
type audioChain struct {
	filter    *dsp.FIRFilter
	dcBlocker *dsp.IIRFilter
	deemph    *dsp.IIRFilter
	ratio     float64
}

func newAudioChain(cfg *config.Config) *audioChain {
	fs := cfg.Demodulator.SamplingFrequency
	c := &audioChain{
		filter:    dsp.NewFIRFilter(dsp.DesignFIRLowPass(cfg.Audio.FilterTaps, cfg.Audio.FilterCutoff/fs)),
		dcBlocker: dsp.NewIIRFilter(dsp.DCBlockerCoefficients(dcBlockerPole)),
		ratio:     float64(cfg.Audio.OutputSampleRate) / fs,
	}
	if cfg.Audio.DeemphTau > 0 {
		c.deemph = dsp.NewDeemphasis(cfg.Audio.OutputSampleRate, cfg.Audio.DeemphTau)
	}
	return c
}

func (c *audioChain) process(in []float64) []float64 {
	audio := c.filter.Process(in, c.ratio)
	for i, v := range audio {
		v = c.dcBlocker.Process(v)
		if c.deemph != nil {
			v = c.deemph.Process(v)
		}
		audio[i] = v
	}
	return audio
}

// Demodulator returns the underlying demodulator.
func (p *Processor) Demodulator() *dsp.Demodulator {
	return p.demod
}

// Stats returns the counters so far.
func (p *Processor) Stats() Stats {
	return p.stats
}

// Process converts one block of IF samples. The result may be empty while
// the startup transient is being discarded or the audio filter fills.
func (p *Processor) Process(in []float64) ([]int16, error) {
	p.stats.Blocks++
	p.stats.InputSamples += int64(len(in))

	demodulated, err := p.demod.Process(p.scratch[:0], in)
	if err != nil {
		return nil, err
	}
	p.scratch = demodulated

	if p.skip > 0 {
		n := min(p.skip, len(demodulated))
		demodulated = demodulated[n:]
		p.skip -= n
		p.stats.DiscardedSamples += int64(n)
	}
	for i := range demodulated {
		demodulated[i] *= p.polarity
	}

	audio := p.audio.process(demodulated)
	out := make([]int16, len(audio))
	for i, v := range audio {
		v *= p.gain

		// Handle clipping
		if v > math.MaxInt16 {
			p.stats.ClippedSamples++
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			p.stats.ClippedSamples++
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	p.stats.OutputSamples += int64(len(out))
	return out, nil
}

// Run reads blocks from rb until it is closed and drained, writing the audio
// to sink.
func (p *Processor) Run(rb *ringbuffer.RingBuffer, sink Sink) error {
	block := make([]float64, p.blockSize)
	for {
		n := rb.ReadInto(block)
		// A zero read means the buffer is closed and empty.
		if n == 0 {
			p.logger.Debug("Processor: end of stream")
			return nil
		}

		out, err := p.Process(block[:n])
		if err != nil {
			return err
		}
		if len(out) > 0 {
			if err := sink.Write(out); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
		}

		if p.stats.Blocks%statsInterval == 0 {
			p.logger.WithFields(logrus.Fields{
				"blocks":          p.stats.Blocks,
				"output_samples":  p.stats.OutputSamples,
				"clipped_samples": p.stats.ClippedSamples,
			}).Debug("Processor progress")
			if p.stats.ClippedSamples > 0 {
				p.logger.WithField("clipped_samples", p.stats.ClippedSamples).Warn("Audio is clipping, lower the gain")
			}
		}
	}
}
