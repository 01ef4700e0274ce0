package dsp

// FIRFilter implements a stateful, block-based Finite Impulse Response filter
// that can decimate as it filters.
type FIRFilter struct {
	taps  []float64
	state []float64

	// produced counts outputs since the last reset and consumed counts the
	// input samples dropped from the front of state. Output k always starts
	// at input int(k/ratio), so block boundaries do not move it.
	produced int
	consumed int
}

// NewFIRFilter creates a new FIR filter with the given taps.
func NewFIRFilter(taps []float64) *FIRFilter {
	return &FIRFilter{
		taps:  taps,
		state: make([]float64, len(taps)-1),
	}
}

// Process filters a block of input samples, keeping one output every 1/ratio
// inputs, and updates the filter's internal state. Feeding a stream in
// blocks gives the same output as feeding it whole.
func (f *FIRFilter) Process(input []float64, ratio float64) []float64 {
	invRatio := 1.0 / ratio

	buffer := make([]float64, len(f.state)+len(input))
	copy(buffer, f.state)
	copy(buffer[len(f.state):], input)

	// Only outputs whose whole window lies inside the buffer are produced.
	var output []float64
	for {
		start := int(float64(f.produced)*invRatio) - f.consumed
		if start+len(f.taps) > len(buffer) {
			break
		}

		var acc float64
		for j, tap := range f.taps {
			acc += buffer[start+j] * tap
		}
		output = append(output, acc)
		f.produced++
	}

	// Carry over everything from the first unconsumed window onwards.
	next := int(float64(f.produced)*invRatio) - f.consumed
	next = min(max(next, 0), len(buffer))
	f.state = buffer[next:]
	f.consumed += next
	return output
}

// Reset drops the filter history.
func (f *FIRFilter) Reset() {
	f.state = make([]float64, len(f.taps)-1)
	f.produced = 0
	f.consumed = 0
}
