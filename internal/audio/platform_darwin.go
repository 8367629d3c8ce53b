//go:build darwin

package audio

import "regexp"

// macOS has no arecord; chunks are recorded through FFmpeg's AVFoundation input.
func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
		BuildArgs: func(req CaptureRequest) []string {
			return buildFFmpegCaptureArgs("avfoundation", req)
		},
	}
}

// darwinDevicePattern matches "[AVFoundation indev @ 0x..] [1] MacBook Microphone".
var darwinDevicePattern = regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`)

func parseDarwinDevice(matches []string) *Device {
	if len(matches) < 3 {
		return nil
	}
	// AVFoundation addresses audio-only inputs as ":<index>".
	return &Device{ID: ":" + matches[1], Name: matches[2]}
}

// Devices lists AVFoundation audio inputs.
func (cfg *CaptureConfig) Devices() []Device {
	return parseDeviceList(DeviceListConfig{
		Command:          []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		AudioStartMarker: "AVFoundation audio devices:",
		AudioStopMarker:  "AVFoundation video devices:",
		DevicePattern:    darwinDevicePattern,
		ParseDevice:      parseDarwinDevice,
		FallbackDevices:  []Device{{ID: ":0", Name: "Default input"}},
	})
}
