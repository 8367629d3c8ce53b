package audio

import "errors"

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// CaptureRequest holds the parameters of a single fixed-duration recording.
type CaptureRequest struct {
	// Device is the platform device identifier.
	Device string
	// SampleFormat is the arecord sample format (e.g., "S16_LE").
	SampleFormat string
	// Format is the expected chunk shape.
	Format Format
	// Output is the WAV file the recorder writes to.
	Output string
}

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for one chunk recording.
	BuildArgs func(req CaptureRequest) []string
}

// BuildCaptureCommand returns the command and arguments that record one chunk.
// If req.Device is empty, it attempts to use the default or auto-detect.
// A non-empty override replaces the platform command; ffmpegPath is used on
// platforms that capture through FFmpeg.
func BuildCaptureCommand(req CaptureRequest, override, ffmpegPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if req.Device == "" {
		req.Device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if req.Device == "" {
		devices := cfg.Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		req.Device = devices[0].ID
	}

	command := cfg.Command
	switch {
	case override != "":
		command = override
	case cfg.UsesFFmpeg && ffmpegPath != "":
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(req), nil
}
