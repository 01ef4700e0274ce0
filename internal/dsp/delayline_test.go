package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDelayLine_ReturnsPairFromLenPushesAgo(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.IntRange(1, 128).Draw(t, "length")
		pushes := rapid.IntRange(length+1, 4*length+8).Draw(t, "pushes")

		d, err := NewDelayLine(length)
		require.NoError(t, err)
		require.Equal(t, length, d.Len())

		for n := 0; n < pushes; n++ {
			i, q := float64(n+1), -float64(n+1)
			oldI, oldQ := d.Push(i, q)
			if n < length {
				// Zero-seeded until the line has filled.
				require.Zero(t, oldI)
				require.Zero(t, oldQ)
			} else {
				require.Equal(t, float64(n+1-length), oldI)
				require.Equal(t, -float64(n+1-length), oldQ)
			}
			require.GreaterOrEqual(t, d.Index(), 0)
			require.Less(t, d.Index(), length)
		}
	})
}

func TestDelayLine_FirstPairComesBackAfterLenPushes(t *testing.T) {
	d, err := NewDelayLine(45)
	require.NoError(t, err)

	d.Push(0.25, -0.75)
	for n := 1; n < 45; n++ {
		d.Push(float64(n), float64(n))
	}
	i, q := d.Push(99, 99)
	assert.Equal(t, 0.25, i)
	assert.Equal(t, -0.75, q)
}

func TestDelayLine_Reset(t *testing.T) {
	d, err := NewDelayLine(3)
	require.NoError(t, err)
	for n := 0; n < 5; n++ {
		d.Push(1, 1)
	}
	d.Reset()
	assert.Equal(t, 0, d.Index())
	for n := 0; n < 3; n++ {
		i, q := d.Push(2, 2)
		assert.Zero(t, i)
		assert.Zero(t, q)
	}
}

func TestDelayLine_RejectsEmpty(t *testing.T) {
	for _, length := range []int{0, -1} {
		_, err := NewDelayLine(length)
		assert.ErrorIs(t, err, ErrDegenerateParameters)
	}
}
