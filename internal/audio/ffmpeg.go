//go:build !linux

package audio

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments that record one chunk into a WAV file.
func buildFFmpegCaptureArgs(inputFormat string, req CaptureRequest) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
		"-i", req.Device,
		"-t", strconv.Itoa(req.Format.ChunkDuration),
		"-vn",
		"-ac", strconv.Itoa(req.Format.Channels),
		"-ar", strconv.Itoa(req.Format.SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"-y",
		req.Output,
	}
}
