// Package audio provides chunk capture, WAV decoding and amplitude metering.
package audio

import "math"

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
)

// MonoMagnitude folds interleaved samples into one magnitude per frame by
// averaging |x| across channels. Values are float64 so -32768 does not overflow.
func MonoMagnitude(samples []int16, channels int) []float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := range frames {
		var sum float64
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += math.Abs(float64(s))
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

// WindowStats splits mono into consecutive windows of size frames and returns
// the maximum and mean magnitude of each window. A trailing partial window is ignored.
func WindowStats(mono []float64, size int) (maxes, means []float64) {
	if size < 1 {
		return nil, nil
	}
	n := len(mono) / size
	maxes = make([]float64, n)
	means = make([]float64, n)
	for w := range n {
		window := mono[w*size : (w+1)*size]
		var peak, sum float64
		for _, v := range window {
			peak = max(peak, v)
			sum += v
		}
		maxes[w] = peak
		means[w] = sum / float64(size)
	}
	return maxes, means
}

// Levels contains calculated audio levels in dB.
type Levels struct {
	RMS     float64 `json:"rms_db"`
	Peak    float64 `json:"peak_db"`
	Clipped int     `json:"clipped,omitzero"`
}

// CalculateLevels computes RMS and peak levels in dBFS over all channels of samples.
func CalculateLevels(samples []int16) Levels {
	if len(samples) == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}

	var sumSquares, peak float64
	clipped := 0
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
		peak = max(peak, math.Abs(v))
		if s >= ClipThreshold || s <= -ClipThreshold {
			clipped++
		}
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return Levels{
		RMS:     ToDB(rms),
		Peak:    ToDB(peak),
		Clipped: clipped,
	}
}

// ToDB converts a linear amplitude to dBFS, clamped at MinDB.
func ToDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDB
	}
	return max(20*math.Log10(amplitude/MaxSampleValue), MinDB)
}
