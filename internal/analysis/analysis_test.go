package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, freq, rate, amp, dc float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = dc + amp*math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func TestCorrelation(t *testing.T) {
	ref := sine(1000, 50, 8000, 1, 0)

	t.Run("scaled and offset", func(t *testing.T) {
		r, err := Correlation(ref, sine(1000, 50, 8000, 3, 7))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, r, 1e-9)
	})

	t.Run("inverted", func(t *testing.T) {
		r, err := Correlation(ref, sine(1000, 50, 8000, -0.2, -1))
		require.NoError(t, err)
		assert.InDelta(t, -1.0, r, 1e-9)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := Correlation(ref, ref[:10])
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("flat", func(t *testing.T) {
		_, err := Correlation(ref, make([]float64, len(ref)))
		assert.ErrorIs(t, err, ErrFlatSignal)
	})
}

func TestRemoveDC(t *testing.T) {
	out := RemoveDC([]float64{1, 2, 3, 6})
	assert.InDeltaSlice(t, []float64{-2, -1, 0, 3}, out, 1e-12)
	assert.Zero(t, Mean(nil))
}

func TestScaleToReference(t *testing.T) {
	ref := []float64{-1, 0, 1}

	out, err := ScaleToReference(ref, []float64{10, 20, 30}, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1, 0, 1}, out, 1e-12)

	out, err = ScaleToReference(ref, []float64{10, 20, 30}, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0, -1}, out, 1e-12)

	_, err = ScaleToReference(ref, []float64{4, 4, 4}, false)
	assert.ErrorIs(t, err, ErrFlatSignal)
}

func TestDominantFrequency(t *testing.T) {
	testCases := []struct {
		name string
		freq float64
		rate float64
	}{
		{"1 kHz at 48 kHz", 1000, 48_000},
		{"off-bin tone", 1234.5, 48_000},
		{"low tone with DC", 370, 8000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x := sine(4096, tc.freq, tc.rate, 0.3, 2)
			got, err := DominantFrequency(x, tc.rate)
			require.NoError(t, err)
			// Within one bin.
			assert.InDelta(t, tc.freq, got, tc.rate/4096)
		})
	}

	_, err := DominantFrequency(make([]float64, 128), 8000)
	assert.ErrorIs(t, err, ErrFlatSignal)
}
