package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"nfm-demodulator/internal/analysis"
	"nfm-demodulator/internal/config"
	"nfm-demodulator/internal/pipeline"
	"nfm-demodulator/internal/ringbuffer"
)

// options are the command-line settings that are not part of config.Config.
type options struct {
	configPath    string
	input         string
	synth         bool
	capture       bool
	captureDevice string
	output        string
	play          bool
	analyze       bool
	verbose       bool
	logFormat     string
}

func main() {
	logger := logrus.New()
	if err := run(context.Background(), os.Args[1:], logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.WithError(err).Fatal("nfm-demod failed")
	}
}

func run(ctx context.Context, args []string, logger *logrus.Logger) error {
	var opts options
	flags := pflag.NewFlagSet("nfm-demod", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file.")
	flags.StringVarP(&opts.input, "input", "i", "", "IF samples: WAV file, or raw little-endian int16.")
	flags.BoolVarP(&opts.synth, "synth", "s", false, "Demodulate a synthesized FM test signal instead of a file.")
	flags.BoolVar(&opts.capture, "capture", false, "Capture IF samples from a sound card.")
	flags.StringVar(&opts.captureDevice, "capture-device", "", "Capture device name (substring match).")
	flags.StringVarP(&opts.output, "output", "o", "", "Write recovered audio to this WAV file.")
	flags.BoolVarP(&opts.play, "play", "p", false, "Play recovered audio.")
	flags.BoolVarP(&opts.analyze, "analyze", "a", false, "Report the dominant frequency of the recovered audio.")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging.")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json.")

	samplingFrequency := flags.Float64P("sampling-frequency", "f", 0, "IF sampling frequency in Hz.")
	oversampling := flags.IntP("oversampling-ratio", "r", 0, "Sampling frequency over LO frequency; multiple of 4.")
	delayRatio := flags.IntP("delay-ratio", "d", 0, "Discriminator delay ratio.")
	carrier := flags.Float64P("carrier", "C", 0, "Carrier frequency in Hz.")
	sensitivity := flags.Float64("sensitivity", 0, "Frequency sensitivity in Hz per unit (synth and reporting).")
	filter := flags.String("filter", "", "Low-pass preset: default, narrow or custom.")
	gain := flags.Float64P("gain", "g", 0, "Audio gain.")
	deemph := flags.Float64("deemph-tau", 0, "De-emphasis time constant in seconds; 0 disables.")
	outputRate := flags.Int("output-rate", 0, "Audio sample rate in Hz.")
	duration := flags.Float64("duration", 0, "Synth signal length in seconds.")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nfm-demod [options] (--input FILE | --synth | --capture)\n\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	switch opts.logFormat {
	case "text":
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", opts.logFormat)
	}

	cfg := config.New()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}

	// Flags override the file.
	if flags.Changed("sampling-frequency") {
		cfg.Demodulator.SamplingFrequency = *samplingFrequency
	}
	if flags.Changed("oversampling-ratio") {
		cfg.Demodulator.OversamplingRatio = *oversampling
	}
	if flags.Changed("delay-ratio") {
		cfg.Run.DiscriminatorDelayRatio = *delayRatio
	}
	if flags.Changed("carrier") {
		cfg.Run.CarrierFrequency = *carrier
	}
	if flags.Changed("sensitivity") {
		cfg.Run.FrequencySensitivity = *sensitivity
	}
	if flags.Changed("filter") {
		cfg.Demodulator.Filter = *filter
	}
	if flags.Changed("gain") {
		cfg.Audio.Gain = *gain
	}
	if flags.Changed("deemph-tau") {
		cfg.Audio.DeemphTau = *deemph
	}
	if flags.Changed("output-rate") {
		cfg.Audio.OutputSampleRate = *outputRate
	}
	if flags.Changed("duration") {
		cfg.Synth.Duration = *duration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	source, closeSource, err := openSource(opts, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	sink, capture, err := openSinks(opts, cfg)
	if err != nil {
		return err
	}

	processor, err := pipeline.NewProcessor(cfg, logger)
	if err != nil {
		_ = sink.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rb := ringbuffer.New(cfg.Stream.RingBufferSize)
	if err := pipeline.Run(ctx, source, rb, processor, sink, logger); err != nil {
		return err
	}

	if capture != nil {
		report(capture, source, processor, cfg, logger)
	}
	return nil
}

func openSource(opts options, cfg *config.Config, logger *logrus.Logger) (pipeline.Source, func(), error) {
	selected := 0
	for _, set := range []bool{opts.input != "", opts.synth, opts.capture} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return nil, nil, errors.New("exactly one of --input, --synth or --capture is required")
	}

	switch {
	case opts.synth:
		source := pipeline.NewSynthSource(cfg.SynthParams(), cfg.SynthSamples(), cfg.Stream.ChunkSize)
		source.RecordReference = opts.analyze
		logger.WithFields(logrus.Fields{
			"samples":    cfg.SynthSamples(),
			"carrier_hz": cfg.Run.CarrierFrequency,
			"tones":      cfg.Synth.Tones,
		}).Info("Synthesizing FM test signal")
		return source, func() {}, nil

	case opts.capture:
		return pipeline.NewCaptureSource(int(cfg.Demodulator.SamplingFrequency), opts.captureDevice, logger), func() {}, nil
	}

	file, err := os.Open(opts.input)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return pipeline.NewWAVSource(file, cfg.Stream.ChunkSize, logger), func() { _ = file.Close() }, nil
}

func openSinks(opts options, cfg *config.Config) (pipeline.Sink, *pipeline.CaptureSink, error) {
	var sinks pipeline.MultiSink
	closeAll := func() { _ = sinks.Close() }

	if opts.output != "" {
		file, err := os.Create(opts.output)
		if err != nil {
			return nil, nil, fmt.Errorf("create output: %w", err)
		}
		sinks = append(sinks, &fileSink{Sink: pipeline.NewWAVSink(file, cfg.Audio.OutputSampleRate), file: file})
	}
	if opts.play {
		player, err := pipeline.NewPlayerSink(cfg.Audio.OutputSampleRate)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, player)
	}
	var capture *pipeline.CaptureSink
	if opts.analyze {
		capture = &pipeline.CaptureSink{}
		sinks = append(sinks, capture)
	}
	if len(sinks) == 0 {
		return nil, nil, errors.New("nothing to do: give --output, --play or --analyze")
	}
	return sinks, capture, nil
}

// fileSink closes the underlying file after the sink.
type fileSink struct {
	pipeline.Sink
	file io.Closer
}

func (s *fileSink) Close() error {
	return errors.Join(s.Sink.Close(), s.file.Close())
}

func report(capture *pipeline.CaptureSink, source pipeline.Source, processor *pipeline.Processor, cfg *config.Config, logger *logrus.Logger) {
	audio := capture.Float()
	fields := logrus.Fields{"audio_samples": len(audio)}

	if freq, err := analysis.DominantFrequency(audio, float64(cfg.Audio.OutputSampleRate)); err == nil {
		fields["dominant_frequency_hz"] = freq
	} else {
		logger.WithError(err).Warn("Could not measure recovered audio")
	}
	if synth, ok := source.(*pipeline.SynthSource); ok && len(synth.Reference) > 0 {
		if freq, err := analysis.DominantFrequency(synth.Reference, cfg.Demodulator.SamplingFrequency); err == nil {
			fields["reference_frequency_hz"] = freq
		}
		if cmp, err := processor.CompareReference(audio, synth.Reference); err == nil {
			fields["reference_correlation"] = cmp.Correlation
			fields["reference_rms_error"] = cmp.RMSError
		} else {
			logger.WithError(err).Warn("Could not compare recovered audio with the reference")
		}
	}
	logger.WithFields(fields).Info("Recovered audio")
}
