// Package pipeline streams IF samples from a source through the NFM
// demodulator into an audio sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"nfm-demodulator/internal/ringbuffer"
)

// Source produces raw IF samples into a ring buffer until it runs dry, fails
// or ctx is cancelled. Sources do not close the buffer.
type Source interface {
	Run(ctx context.Context, rb *ringbuffer.RingBuffer) error
}

// Sink consumes 16-bit audio samples.
type Sink interface {
	Write(samples []int16) error
	Close() error
}

// Run wires source, processor and sink together through rb and blocks until
// the stream ends. The sink is closed before Run returns.
func Run(ctx context.Context, source Source, rb *ringbuffer.RingBuffer, p *Processor, sink Sink, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sourceErr := make(chan error, 1)
	go func() {
		defer rb.Close() // Ensure the buffer is closed when the source exits.
		err := source.Run(ctx, rb)
		if errors.Is(err, ringbuffer.ErrClosed) || errors.Is(err, context.Canceled) {
			err = nil
		}
		sourceErr <- err
	}()

	// Closing the buffer unblocks the processor when ctx ends first.
	stop := context.AfterFunc(ctx, rb.Close)
	defer stop()

	procErr := p.Run(rb, sink)
	if procErr != nil {
		cancel()
	}
	err := <-sourceErr

	if cerr := sink.Close(); cerr != nil {
		procErr = errors.Join(procErr, fmt.Errorf("close sink: %w", cerr))
	}

	stats := p.Stats()
	logger.WithFields(logrus.Fields{
		"input_samples":     stats.InputSamples,
		"discarded_samples": stats.DiscardedSamples,
		"output_samples":    stats.OutputSamples,
		"clipped_samples":   stats.ClippedSamples,
	}).Info("Stream finished")

	if err != nil {
		err = fmt.Errorf("source: %w", err)
	}
	if procErr != nil {
		procErr = fmt.Errorf("processor: %w", procErr)
	}
	return errors.Join(err, procErr)
}
