package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"nfm-demodulator/internal/ringbuffer"
	"nfm-demodulator/internal/synth"
)

// WAVSource reads IF samples from a WAV file, taking the first channel.
// Files without a RIFF/WAVE header are read as raw little-endian int16.
type WAVSource struct {
	r         io.ReadSeeker
	chunkSize int
	logger    *logrus.Logger

	// SampleRate is set from the WAV header once Run has started; it stays 0
	// for raw input.
	SampleRate int
}

// NewWAVSource creates a source reading chunkSize frames at a time.
func NewWAVSource(r io.ReadSeeker, chunkSize int, logger *logrus.Logger) *WAVSource {
	return &WAVSource{r: r, chunkSize: chunkSize, logger: logger}
}

// Run streams the file into rb.
func (s *WAVSource) Run(ctx context.Context, rb *ringbuffer.RingBuffer) error {
	decoder := wav.NewDecoder(s.r)
	if !decoder.IsValidFile() {
		s.logger.Info("Not a valid WAV file, reading raw int16 samples")
		if _, err := s.r.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind input: %w", err)
		}
		return s.runRaw(ctx, rb)
	}

	// Move to start of PCM data
	if err := decoder.FwdToPCM(); err != nil {
		return fmt.Errorf("seek to PCM data: %w", err)
	}
	s.SampleRate = int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	if channels < 1 {
		return fmt.Errorf("WAV file has %d channels", channels)
	}
	if decoder.BitDepth < 8 || decoder.BitDepth > 32 {
		return fmt.Errorf("unsupported WAV bit depth %d", decoder.BitDepth)
	}
	s.logger.WithFields(logrus.Fields{
		"bit_depth":   decoder.BitDepth,
		"sample_rate": decoder.SampleRate,
		"channels":    decoder.NumChans,
	}).Info("Reading IF samples from WAV file")

	scale := 1.0 / float64(int64(1)<<(decoder.BitDepth-1))
	// 8-bit WAV is unsigned.
	var offset float64
	if decoder.BitDepth == 8 {
		offset = 128
	}

	buf := &audio.IntBuffer{
		Format: decoder.Format(),
		Data:   make([]int, s.chunkSize*channels),
	}
	samples := make([]float64, 0, s.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read PCM: %w", err)
		}
		if n == 0 {
			s.logger.Debug("End of WAV file reached")
			return nil
		}

		samples = samples[:0]
		for i := 0; i+channels <= n; i += channels {
			samples = append(samples, (float64(buf.Data[i])-offset)*scale)
		}
		if err := rb.Write(samples); err != nil {
			return err
		}
	}
}

func (s *WAVSource) runRaw(ctx context.Context, rb *ringbuffer.RingBuffer) error {
	buf := make([]byte, 2*s.chunkSize)
	samples := make([]float64, 0, s.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			samples = samples[:0]
			for i := 0; i+1 < n; i += 2 {
				samples = append(samples, float64(int16(binary.LittleEndian.Uint16(buf[i:])))/32768.0)
			}
			if werr := rb.Write(samples); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read raw samples: %w", err)
		}
	}
}

// SynthSource generates an FM test signal.
type SynthSource struct {
	generator *synth.Generator
	samples   int
	chunkSize int

	// Reference receives the modulating signal when RecordReference is set.
	RecordReference bool
	Reference       []float64
}

// NewSynthSource creates a source producing the given number of samples.
func NewSynthSource(p synth.Params, samples, chunkSize int) *SynthSource {
	return &SynthSource{
		generator: synth.NewGenerator(p),
		samples:   samples,
		chunkSize: chunkSize,
	}
}

// Run streams the signal into rb.
func (s *SynthSource) Run(ctx context.Context, rb *ringbuffer.RingBuffer) error {
	signal := make([]float64, s.chunkSize)
	var reference []float64
	if s.RecordReference {
		reference = make([]float64, s.chunkSize)
		s.Reference = make([]float64, 0, s.samples)
	}

	for written := 0; written < s.samples; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(s.chunkSize, s.samples-written)
		if reference != nil {
			s.generator.Fill(signal[:n], reference[:n])
			s.Reference = append(s.Reference, reference[:n]...)
		} else {
			s.generator.Fill(signal[:n], nil)
		}
		if err := rb.Write(signal[:n]); err != nil {
			return err
		}
		written += n
	}
	return nil
}

// dropReportInterval is how often capture overruns are logged.
const dropReportInterval = time.Second

// CaptureSource records IF samples from a sound card. It suits low-IF set-ups
// where the sampling frequency is within reach of an audio interface.
type CaptureSource struct {
	sampleRate int
	device     string
	logger     *logrus.Logger
	dropped    atomic.Int64
}

// NewCaptureSource creates a capture source. device is matched
// case-insensitively against device names; empty selects the default.
func NewCaptureSource(sampleRate int, device string, logger *logrus.Logger) *CaptureSource {
	return &CaptureSource{sampleRate: sampleRate, device: device, logger: logger}
}

// Run captures until ctx is cancelled or rb is closed.
func (s *CaptureSource) Run(ctx context.Context, rb *ringbuffer.RingBuffer) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if s.device != "" {
		id, name, err := findCaptureDevice(mctx, s.device)
		if err != nil {
			return err
		}
		deviceConfig.Capture.DeviceID = id
		s.logger.WithField("device", name).Info("Selected capture device")
	}

	writeErr := make(chan error, 1)
	samples := make([]float64, 0, 4096)
	onRecvFrames := func(_, input []byte, frameCount uint32) {
		if len(input) == 0 {
			return
		}
		frames := unsafe.Slice((*float32)(unsafe.Pointer(&input[0])), int(frameCount))
		samples = samples[:0]
		for _, v := range frames {
			samples = append(samples, float64(v))
		}
		if err := s.push(rb, samples); err != nil {
			select {
			case writeErr <- err:
			default:
			}
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	defer device.Uninit()

	if rate := int(device.SampleRate()); rate != s.sampleRate {
		return fmt.Errorf("capture device runs at %d Hz, want %d Hz", rate, s.sampleRate)
	}
	if err := device.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	s.logger.WithField("sample_rate", s.sampleRate).Info("Capturing IF samples")

	ticker := time.NewTicker(dropReportInterval)
	defer ticker.Stop()
	var reported int64
	for {
		select {
		case <-ctx.Done():
			s.reportDropped(&reported)
			return ctx.Err()
		case err := <-writeErr:
			s.reportDropped(&reported)
			return err
		case <-ticker.C:
			s.reportDropped(&reported)
		}
	}
}

// push hands samples to rb without blocking the audio thread. Samples that
// do not fit are dropped and counted.
func (s *CaptureSource) push(rb *ringbuffer.RingBuffer, samples []float64) error {
	n, err := rb.TryWrite(samples)
	if err != nil {
		return err
	}
	if n < len(samples) {
		s.dropped.Add(int64(len(samples) - n))
	}
	return nil
}

// Dropped returns the number of captured samples lost to a full ring buffer.
func (s *CaptureSource) Dropped() int64 {
	return s.dropped.Load()
}

func (s *CaptureSource) reportDropped(reported *int64) {
	dropped := s.dropped.Load()
	if dropped == *reported {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"dropped_samples": dropped,
		"new_drops":       dropped - *reported,
	}).Warn("Capture overrun, the demodulator is falling behind")
	*reported = dropped
}

func findCaptureDevice(mctx *malgo.AllocatedContext, want string) (unsafe.Pointer, string, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, "", fmt.Errorf("list capture devices: %w", err)
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(want)) {
			return info.ID.Pointer(), info.Name(), nil
		}
	}
	return nil, "", fmt.Errorf("no capture device matching %q", want)
}
