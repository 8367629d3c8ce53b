package util

import "os/exec"

// ResolveFFmpegPath returns the FFmpeg binary to use, or "" when none is
// found. A configured path must resolve; otherwise ffmpeg is looked up in PATH.
func ResolveFFmpegPath(configured string) string {
	name := "ffmpeg"
	if configured != "" {
		name = configured
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
