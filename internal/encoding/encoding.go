// Package encoding turns raw sample sequences into transmittable audio payloads.
package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Codec names accepted by New.
const (
	CodecOpus = "opus"
	CodecWAV  = "wav"
	CodecFLAC = "flac"
)

var (
	// ErrUnknownCodec is returned by New for unsupported codec names.
	ErrUnknownCodec = errors.New("unknown codec")
	// ErrEmpty is returned when there are no samples to encode.
	ErrEmpty = errors.New("no samples to encode")
)

// Payload is an encoded clip.
type Payload struct {
	Data     []byte
	Filename string
	MIME     string
	// Voice reports whether chat transports may present the payload as a voice message.
	Voice bool
}

// Encoder encodes interleaved 16-bit samples.
type Encoder interface {
	Encode(ctx context.Context, samples []int16, sampleRate, channels int) (Payload, error)
	Codec() string
}

// New returns the encoder for codec. Opus needs FFmpeg; without it the WAV
// encoder is returned instead.
func New(codec, ffmpegPath string) (Encoder, error) {
	switch codec {
	case CodecOpus, "":
		if ffmpegPath == "" {
			slog.Warn("ffmpeg not found, sending clips as wav instead of opus")
			return WAV{}, nil
		}
		return &Opus{FFmpegPath: ffmpegPath, Bitrate: defaultOpusBitrate}, nil
	case CodecWAV:
		return WAV{}, nil
	case CodecFLAC:
		return FLAC{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, codec)
	}
}

func checkInput(samples []int16, sampleRate, channels int) error {
	if len(samples) == 0 {
		return ErrEmpty
	}
	if sampleRate < 1 || channels < 1 {
		return fmt.Errorf("invalid format: %d Hz x%d", sampleRate, channels)
	}
	return nil
}
