//go:build windows

package audio

import (
	"regexp"
	"strings"
)

// Windows records through FFmpeg's DirectShow input. There is no safe
// default device, so BuildCaptureCommand picks the first listed one.
func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:    "ffmpeg",
		UsesFFmpeg: true,
		BuildArgs: func(req CaptureRequest) []string {
			return buildFFmpegCaptureArgs("dshow", req)
		},
	}
}

// windowsDevicePattern matches `[dshow @ 0x..] "Line In (Realtek)" (audio)`.
// Section headers differ between FFmpeg versions, so only the suffix is trusted.
var windowsDevicePattern = regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`)

func parseWindowsDevice(matches []string) *Device {
	if len(matches) < 2 {
		return nil
	}
	name := strings.TrimSpace(matches[1])
	return &Device{ID: "audio=" + name, Name: name}
}

// Devices lists DirectShow audio inputs.
func (cfg *CaptureConfig) Devices() []Device {
	return parseDeviceList(DeviceListConfig{
		Command:       []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		DevicePattern: windowsDevicePattern,
		ParseDevice:   parseWindowsDevice,
	})
}
