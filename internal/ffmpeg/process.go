// Package ffmpeg provides shared FFmpeg invocation helpers.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// encodeTimeout bounds a single in-memory encode.
const encodeTimeout = 30 * time.Second

// ErrNotAvailable is returned when no FFmpeg binary was resolved.
var ErrNotAvailable = errors.New("ffmpeg not available")

// BaseInputArgs returns FFmpeg arguments for raw S16LE PCM on stdin.
func BaseInputArgs(sampleRate, channels int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
	}
}

// Transcode feeds input to FFmpeg on stdin and returns what it writes to stdout.
// args must direct the output to pipe:1.
func Transcode(ctx context.Context, ffmpegPath string, args []string, input []byte) ([]byte, error) {
	if ffmpegPath == "" {
		return nil, ErrNotAvailable
	}

	ctx, cancel := context.WithTimeoutCause(ctx, encodeTimeout, errors.New("ffmpeg encode timeout"))
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, args...) //nolint:gosec // Path resolved from config or PATH
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg: %w", cause)
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, util.ExtractLastError(stderr.String()))
	}
	return stdout.Bytes(), nil
}
