//go:build linux

package audio

import (
	"regexp"
	"strconv"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "arecord",
		DefaultDevice: "1,0",
		BuildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(req CaptureRequest) []string {
	sampleFormat := req.SampleFormat
	if sampleFormat == "" {
		sampleFormat = "S16_LE"
	}
	return []string{
		"-D", "hw:" + req.Device,
		"-f", sampleFormat,
		"-r", strconv.Itoa(req.Format.SampleRate),
		"-c", strconv.Itoa(req.Format.Channels),
		"-d", strconv.Itoa(req.Format.ChunkDuration),
		"-t", "wav",
		"-q",
		req.Output,
	}
}

// linuxDevicePattern matches "card 1: Device [Name], device 0: ..." lines of arecord -l.
var linuxDevicePattern = regexp.MustCompile(`card\s+(\d+):\s+\w+\s+\[([^\]]+)\],\s+device\s+(\d+)`)

func parseLinuxDevice(matches []string) *Device {
	if len(matches) < 4 {
		return nil
	}
	return &Device{
		ID:   matches[1] + "," + matches[3],
		Name: matches[2],
	}
}

// Devices lists capture cards as "<card>,<device>" identifiers.
func (cfg *CaptureConfig) Devices() []Device {
	return parseDeviceList(DeviceListConfig{
		Command:       []string{"arecord", "-l"},
		DevicePattern: linuxDevicePattern,
		ParseDevice:   parseLinuxDevice,
		FallbackDevices: []Device{
			{ID: "1,0", Name: "USB microphone (default)"},
		},
	})
}
