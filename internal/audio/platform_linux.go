//go:build linux

package audio

import "regexp"

func getPlatformConfig() captureConfig {
	return captureConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
	}
}

// buildLinuxArgs captures raw mono S16LE PCM with arecord. No processing
// flags: echo cancellation or auto-gain would distort the measurement.
func buildLinuxArgs(device string) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", "48000",
		"-c", "1",
		"-t", "raw",
		"-q",
		"-",
	}
}

func (cfg *captureConfig) listDevices() []Device {
	return parseDeviceList(deviceListConfig{
		Command:       []string{"arecord", "-l"},
		DevicePattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		ParseDevice: func(matches []string) *Device {
			if len(matches) < 4 {
				return nil
			}
			return &Device{
				ID:   "default:CARD=" + matches[2],
				Name: matches[3],
			}
		},
		FallbackDevices: []Device{
			{ID: "default", Name: "Default capture device"},
		},
	})
}
