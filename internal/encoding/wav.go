package encoding

import (
	"context"
	"errors"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// WAV encodes 16-bit PCM WAV with go-audio/wav.
type WAV struct{}

// Codec returns the codec name.
func (WAV) Codec() string { return CodecWAV }

// Encode writes a RIFF/WAVE file into memory.
func (WAV) Encode(_ context.Context, samples []int16, sampleRate, channels int) (Payload, error) {
	if err := checkInput(samples, sampleRate, channels); err != nil {
		return Payload{}, err
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	var out memFile
	enc := wav.NewEncoder(&out, sampleRate, 16, channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return Payload{}, util.WrapError("encode wav", err)
	}
	if err := enc.Close(); err != nil {
		return Payload{}, util.WrapError("finalize wav", err)
	}

	return Payload{
		Data:     out.buf,
		Filename: "listen.wav",
		MIME:     "audio/wav",
	}, nil
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to patch
// the chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

var errNegativeOffset = errors.New("negative seek offset")

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	}
	next := base + offset
	if next < 0 {
		return 0, errNegativeOffset
	}
	m.pos = int(next)
	return next, nil
}
