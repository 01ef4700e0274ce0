package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSink writes mono 16-bit PCM to a WAV file.
type WAVSink struct {
	encoder *wav.Encoder
	buf     *audio.IntBuffer
}

// NewWAVSink creates a sink writing to w. The header is finalised on Close.
func NewWAVSink(w io.WriteSeeker, sampleRate int) *WAVSink {
	return &WAVSink{
		encoder: wav.NewEncoder(w, sampleRate, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}
}

// Write appends samples to the file.
func (s *WAVSink) Write(samples []int16) error {
	s.buf.Data = s.buf.Data[:0]
	for _, v := range samples {
		s.buf.Data = append(s.buf.Data, int(v))
	}
	return s.encoder.Write(s.buf)
}

// Close finalises the WAV header.
func (s *WAVSink) Close() error {
	return s.encoder.Close()
}

// PlayerSink plays audio on the default output device.
type PlayerSink struct {
	player *oto.Player
	writer *io.PipeWriter
	bytes  []byte
}

// NewPlayerSink opens the audio device. Only one oto context may exist per
// process.
func NewPlayerSink(sampleRate int) (*PlayerSink, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	<-ready

	reader, writer := io.Pipe()
	player := ctx.NewPlayer(reader)
	player.Play()
	return &PlayerSink{player: player, writer: writer}, nil
}

// Write queues samples for playback, blocking while the player catches up.
func (s *PlayerSink) Write(samples []int16) error {
	s.bytes = s.bytes[:0]
	for _, v := range samples {
		s.bytes = binary.LittleEndian.AppendUint16(s.bytes, uint16(v))
	}
	_, err := s.writer.Write(s.bytes)
	return err
}

// Close lets queued audio finish and releases the player.
func (s *PlayerSink) Close() error {
	err := s.writer.Close()
	for s.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return errors.Join(err, s.player.Close())
}

// CaptureSink keeps audio in memory.
type CaptureSink struct {
	Samples []int16
	Closed  bool
}

// Write appends samples.
func (s *CaptureSink) Write(samples []int16) error {
	s.Samples = append(s.Samples, samples...)
	return nil
}

// Close marks the sink closed.
func (s *CaptureSink) Close() error {
	s.Closed = true
	return nil
}

// Float returns the captured audio scaled to [-1, 1).
func (s *CaptureSink) Float() []float64 {
	out := make([]float64, len(s.Samples))
	for i, v := range s.Samples {
		out[i] = float64(v) / 32768.0
	}
	return out
}

// MultiSink fans audio out to several sinks.
type MultiSink []Sink

// Write writes to every sink, stopping at the first error.
func (m MultiSink) Write(samples []int16) error {
	for _, s := range m {
		if err := s.Write(samples); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
