package audio

// Chunk is a block of interleaved signed 16-bit samples covering one
// chunk duration of audio.
type Chunk []int16

// Format describes the fixed shape of every captured chunk.
type Format struct {
	// SampleRate is the number of frames per second.
	SampleRate int
	// Channels is the number of interleaved channels.
	Channels int
	// ChunkDuration is the length of one chunk in whole seconds.
	ChunkDuration int
}

// ChunkLen returns the number of samples a well-formed chunk holds.
func (f Format) ChunkLen() int {
	return f.SampleRate * f.ChunkDuration * f.Channels
}

// Seconds returns the duration covered by n interleaved samples.
func (f Format) Seconds(n int) float64 {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	return float64(n) / float64(f.SampleRate*f.Channels)
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}
