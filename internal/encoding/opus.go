package encoding

import (
	"context"
	"encoding/binary"

	"github.com/oszuidwest/zwfm-soundwatch/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

const defaultOpusBitrate = "48k"

// Opus encodes to Ogg/Opus through FFmpeg, the format chat voice messages expect.
type Opus struct {
	FFmpegPath string
	Bitrate    string
}

// Codec returns the codec name.
func (o *Opus) Codec() string { return CodecOpus }

// Encode runs FFmpeg with the PCM on stdin and collects the Ogg stream from stdout.
func (o *Opus) Encode(ctx context.Context, samples []int16, sampleRate, channels int) (Payload, error) {
	if err := checkInput(samples, sampleRate, channels); err != nil {
		return Payload{}, err
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s)) //nolint:gosec // Two's complement reinterpretation
	}

	args := ffmpeg.BaseInputArgs(sampleRate, channels)
	args = append(args,
		"-c:a", "libopus",
		"-b:a", o.Bitrate,
		"-f", "ogg",
		"pipe:1",
	)

	data, err := ffmpeg.Transcode(ctx, o.FFmpegPath, args, pcm)
	if err != nil {
		return Payload{}, util.WrapError("encode opus", err)
	}
	return Payload{
		Data:     data,
		Filename: "listen.ogg",
		MIME:     "audio/ogg",
		Voice:    true,
	}, nil
}
