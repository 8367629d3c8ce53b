package encoding

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

const (
	flacBlockSize     = 4096
	flacBitsPerSample = 16
)

// FLAC encodes lossless FLAC with verbatim subframes.
type FLAC struct{}

// Codec returns the codec name.
func (FLAC) Codec() string { return CodecFLAC }

// Encode writes mono or stereo samples as a FLAC stream.
func (FLAC) Encode(_ context.Context, samples []int16, sampleRate, channels int) (Payload, error) {
	if err := checkInput(samples, sampleRate, channels); err != nil {
		return Payload{}, err
	}

	var layout frame.Channels
	switch channels {
	case 1:
		layout = frame.ChannelsMono
	case 2:
		layout = frame.ChannelsLR
	default:
		return Payload{}, fmt.Errorf("flac: unsupported channel count %d", channels)
	}

	frames := len(samples) / channels
	var buf bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(channels),
		BitsPerSample: flacBitsPerSample,
		NSamples:      uint64(frames),
	}
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		return Payload{}, util.WrapError("create flac encoder", err)
	}

	for start := 0; start < frames; start += flacBlockSize {
		n := min(flacBlockSize, frames-start)
		subframes := make([]*frame.Subframe, channels)
		for ch := range channels {
			block := make([]int32, n)
			for i := range n {
				block[i] = int32(samples[(start+i)*channels+ch])
			}
			subframes[ch] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   block,
				NSamples:  n,
			}
		}
		f := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(n),
				SampleRate:        info.SampleRate,
				Channels:          layout,
				BitsPerSample:     flacBitsPerSample,
				Num:               uint64(start / flacBlockSize),
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(f); err != nil {
			return Payload{}, util.WrapError("write flac frame", err)
		}
	}
	if err := enc.Close(); err != nil {
		return Payload{}, util.WrapError("finalize flac", err)
	}

	return Payload{
		Data:     buf.Bytes(),
		Filename: "listen.flac",
		MIME:     "audio/flac",
	}, nil
}
