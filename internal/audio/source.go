package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// ErrCapture wraps every failure of the external recorder.
var ErrCapture = errors.New("capture failed")

// Source produces fixed-duration chunks. NextChunk blocks for about one
// chunk duration.
type Source interface {
	NextChunk(ctx context.Context) (Chunk, error)
}

// SourceConfig configures a CommandSource.
type SourceConfig struct {
	Device       string
	SampleFormat string
	Format       Format
	Command      string // Optional replacement for the platform recorder binary
	FFmpegPath   string
	TempDir      string
}

// CommandSource records each chunk by running the platform recorder into a
// temporary WAV file and decoding it.
type CommandSource struct {
	cfg SourceConfig
}

// NewCommandSource returns a Source backed by arecord or FFmpeg.
func NewCommandSource(cfg SourceConfig) *CommandSource {
	return &CommandSource{cfg: cfg}
}

// NextChunk records one chunk. Failures are wrapped with ErrCapture.
func (s *CommandSource) NextChunk(ctx context.Context) (Chunk, error) {
	f, err := os.CreateTemp(s.cfg.TempDir, "soundwatch-chunk-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, util.WrapError("create chunk file", err))
	}
	path := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(path) }()

	name, args, err := BuildCaptureCommand(CaptureRequest{
		Device:       s.cfg.Device,
		SampleFormat: s.cfg.SampleFormat,
		Format:       s.cfg.Format,
		Output:       path,
	}, s.cfg.Command, s.cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error { return util.GracefulSignal(cmd.Process) }
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := util.ExtractLastError(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrCapture, name, msg)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCapture, name, err)
	}

	wavFile, err := os.Open(path) //nolint:gosec // Path comes from os.CreateTemp
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	defer func() { _ = wavFile.Close() }()

	chunk, err := DecodeWAV(wavFile, s.cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	return chunk, nil
}
