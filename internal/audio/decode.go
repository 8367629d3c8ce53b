package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when recorder output cannot be decoded.
var ErrInvalidWAV = errors.New("invalid wav data")

// DecodeWAV reads a 16-bit PCM WAV stream and checks it against want.
// The sample count is not checked here; the analyzer rejects short chunks.
func DecodeWAV(r io.ReadSeeker, want Format) (Chunk, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("%w: bit depth %d, want 16", ErrInvalidWAV, dec.BitDepth)
	}
	if int(dec.SampleRate) != want.SampleRate || int(dec.NumChans) != want.Channels {
		return nil, fmt.Errorf("%w: got %d Hz x%d, want %d Hz x%d",
			ErrInvalidWAV, dec.SampleRate, dec.NumChans, want.SampleRate, want.Channels)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	chunk := make(Chunk, len(buf.Data))
	for i, v := range buf.Data {
		chunk[i] = int16(v) //nolint:gosec // 16-bit source data
	}
	return chunk, nil
}
