package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonoMagnitude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		samples  []int16
		channels int
		want     []float64
	}{
		{"mono", []int16{1, -2, 3}, 1, []float64{1, 2, 3}},
		{"stereo magnitudes first", []int16{4, -4, -2, 6}, 2, []float64{4, 4}},
		{"no overflow at min int16", []int16{-32768, -32768}, 2, []float64{32768}},
		{"zero channels treated as mono", []int16{-5}, 0, []float64{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MonoMagnitude(tt.samples, tt.channels))
		})
	}
}

func TestWindowStats(t *testing.T) {
	t.Parallel()

	maxes, means := WindowStats([]float64{1, 1, 2, 2, 9, 1}, 2)
	assert.Equal(t, []float64{1, 2, 9}, maxes)
	assert.Equal(t, []float64{1, 2, 5}, means)

	maxes, means = WindowStats([]float64{1, 2, 3}, 2)
	assert.Equal(t, []float64{2}, maxes)
	assert.Equal(t, []float64{1.5}, means)

	maxes, means = WindowStats([]float64{1}, 0)
	assert.Nil(t, maxes)
	assert.Nil(t, means)
}

func TestCalculateLevels(t *testing.T) {
	t.Parallel()

	silent := CalculateLevels(nil)
	assert.Equal(t, MinDB, silent.RMS)
	assert.Equal(t, MinDB, silent.Peak)

	full := CalculateLevels([]int16{32767, -32768, 32767, -32768})
	assert.InDelta(t, 0, full.Peak, 0.01)
	assert.InDelta(t, 0, full.RMS, 0.01)
	assert.Equal(t, 4, full.Clipped)

	half := CalculateLevels([]int16{16384, -16384})
	assert.InDelta(t, -6.02, half.Peak, 0.01)
	assert.Zero(t, half.Clipped)
}

func TestToDB(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MinDB, ToDB(0))
	assert.Equal(t, MinDB, ToDB(1))
	assert.InDelta(t, 0, ToDB(MaxSampleValue), 1e-9)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	f := Format{SampleRate: 44100, Channels: 2, ChunkDuration: 3}
	assert.Equal(t, 264600, f.ChunkLen())
	assert.InDelta(t, 3.0, f.Seconds(f.ChunkLen()), 1e-9)
	assert.Zero(t, Format{}.Seconds(10))
}
