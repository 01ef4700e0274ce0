// Package ringbuffer hands raw IF samples from a source goroutine to the
// demodulator goroutine.
package ringbuffer

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Write once the buffer has been closed.
var ErrClosed = errors.New("write to closed ring buffer")

// RingBuffer is a concurrent-safe, blocking ring buffer of float64 samples.
// One slot is always left free to tell a full buffer from an empty one.
type RingBuffer struct {
	buf        []float64
	size       int
	readIndex  int
	writeIndex int
	closed     bool
	mu         sync.Mutex
	cond       *sync.Cond
}

// New creates a new RingBuffer holding up to size-1 samples.
func New(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	rb := &RingBuffer{
		buf:  make([]float64, size),
		size: size,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// availableWrite returns the number of samples that can be written. Callers
// hold mu.
func (rb *RingBuffer) availableWrite() int {
	if rb.writeIndex >= rb.readIndex {
		return rb.size - (rb.writeIndex - rb.readIndex) - 1
	}
	return rb.readIndex - rb.writeIndex - 1
}

// availableRead returns the number of samples waiting to be read. Callers
// hold mu.
func (rb *RingBuffer) availableRead() int {
	if rb.writeIndex >= rb.readIndex {
		return rb.writeIndex - rb.readIndex
	}
	return rb.size - rb.readIndex + rb.writeIndex
}

// Len returns the number of samples waiting to be read.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.availableRead()
}

// Cap returns the number of samples the buffer can hold.
func (rb *RingBuffer) Cap() int {
	return rb.size - 1
}

// Close marks the buffer as closed, indicating no more writes will occur.
// It broadcasts to all waiting readers and writers to wake them up.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
}

// Write adds data to the buffer, blocking until space is available. It
// returns ErrClosed if the buffer is, or becomes, closed before all of data
// has been written.
func (rb *RingBuffer) Write(data []float64) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := 0; i < len(data); {
		for !rb.closed && rb.availableWrite() == 0 {
			rb.cond.Wait()
		}
		if rb.closed {
			return ErrClosed
		}

		i += rb.copyIn(data[i:])
		rb.cond.Broadcast() // Signal reader that data is available.
	}
	return nil
}

// TryWrite adds as much of data as fits without blocking and returns the
// number of samples written. It returns ErrClosed once the buffer is closed.
func (rb *RingBuffer) TryWrite(data []float64) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return 0, ErrClosed
	}
	written := 0
	for written < len(data) && rb.availableWrite() > 0 {
		written += rb.copyIn(data[written:])
	}
	if written > 0 {
		rb.cond.Broadcast()
	}
	return written, nil
}

// copyIn copies up to the end of the buffer or up to the slot before the
// reader, whichever comes first. Callers hold mu.
func (rb *RingBuffer) copyIn(data []float64) int {
	end := rb.size
	if rb.readIndex > rb.writeIndex {
		end = rb.readIndex - 1
	} else if rb.readIndex == 0 {
		end = rb.size - 1
	}
	written := copy(rb.buf[rb.writeIndex:end], data)
	rb.writeIndex = (rb.writeIndex + written) % rb.size
	return written
}

// ReadInto fills dst, blocking until len(dst) samples are available or the
// buffer is closed. A dst longer than Cap is only filled up to Cap. Otherwise
// the count is only short of len(dst) once the buffer is closed; 0 marks the
// end of the stream.
func (rb *RingBuffer) ReadInto(dst []float64) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(dst)
	if n > rb.size-1 {
		n = rb.size - 1
	}
	for !rb.closed && rb.availableRead() < n {
		rb.cond.Wait()
	}

	readSize := min(n, rb.availableRead())
	if readSize == 0 {
		return 0
	}

	if rb.readIndex+readSize <= rb.size {
		copy(dst, rb.buf[rb.readIndex:rb.readIndex+readSize])
	} else {
		part1 := copy(dst, rb.buf[rb.readIndex:])
		copy(dst[part1:readSize], rb.buf[:readSize-part1])
	}
	rb.readIndex = (rb.readIndex + readSize) % rb.size
	rb.cond.Broadcast()
	return readSize
}
