package dsp

import "fmt"

// DelayLine holds the most recent I/Q pairs for the polar discriminator.
// Its length is fixed at construction.
type DelayLine struct {
	i     []float64
	q     []float64
	index int
}

// NewDelayLine creates a zero-filled delay line of the given length.
func NewDelayLine(length int) (*DelayLine, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: delay line length %d must be at least 1", ErrDegenerateParameters, length)
	}
	return &DelayLine{
		i: make([]float64, length),
		q: make([]float64, length),
	}, nil
}

// Push stores a pair and returns the pair pushed Len() calls earlier, or zeros
// while the line is still filling.
func (d *DelayLine) Push(i, q float64) (oldI, oldQ float64) {
	oldI, oldQ = d.i[d.index], d.q[d.index]
	d.i[d.index] = i
	d.q[d.index] = q
	d.index++
	if d.index == len(d.i) {
		d.index = 0
	}
	return oldI, oldQ
}

// Len returns the delay in samples.
func (d *DelayLine) Len() int {
	return len(d.i)
}

// Index returns the slot the next Push will overwrite.
func (d *DelayLine) Index() int {
	return d.index
}

// Reset zero-fills the line and rewinds it.
func (d *DelayLine) Reset() {
	clear(d.i)
	clear(d.q)
	d.index = 0
}
