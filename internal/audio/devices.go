package audio

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// captureConfig defines the platform-specific capture command.
type captureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string
	// DefaultDevice is used when no device is configured.
	DefaultDevice string
	// UsesFFmpeg indicates if this platform captures through FFmpeg.
	UsesFFmpeg bool
	// BuildArgs returns the command arguments for the given device.
	BuildArgs func(device string) []string
}

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono PCM capture.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", "1",
		"-ar", "48000",
		"pipe:1",
	}
}

// buildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it uses the platform default or auto-detects.
func buildCaptureCommand(device, ffmpegPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}
	if device == "" {
		devices := ListDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device), nil
}

// ListDevices returns available audio input devices for the current platform.
func ListDevices() []Device {
	cfg := getPlatformConfig()
	return cfg.listDevices()
}

// deviceListConfig defines how to enumerate audio devices for a platform.
type deviceListConfig struct {
	// Command and args to list devices.
	Command []string
	// AudioStartMarker and AudioStopMarker delimit the audio device
	// section of the output. Empty markers match the whole output.
	AudioStartMarker string
	AudioStopMarker  string
	// DevicePattern extracts device info from a line.
	DevicePattern *regexp.Regexp
	// ParseDevice converts regex matches to a Device.
	ParseDevice func(matches []string) *Device
	// FallbackDevices are returned if detection fails.
	FallbackDevices []Device
}

// parseDeviceList runs the listing command and extracts devices.
func parseDeviceList(cfg deviceListConfig) []Device {
	if len(cfg.Command) == 0 {
		return cfg.FallbackDevices
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "error", err)
		return cfg.FallbackDevices
	}

	var devices []Device
	inAudioSection := cfg.AudioStartMarker == ""

	for line := range strings.Lines(string(output)) {
		if cfg.AudioStartMarker != "" && strings.Contains(line, cfg.AudioStartMarker) {
			inAudioSection = true
			continue
		}
		if cfg.AudioStopMarker != "" && strings.Contains(line, cfg.AudioStopMarker) {
			inAudioSection = false
			continue
		}
		if !inAudioSection || cfg.DevicePattern == nil {
			continue
		}
		// Skip DirectShow alternative-name lines.
		if strings.Contains(line, "Alternative name") {
			continue
		}

		matches := cfg.DevicePattern.FindStringSubmatch(line)
		if len(matches) > 0 && cfg.ParseDevice != nil {
			if dev := cfg.ParseDevice(matches); dev != nil {
				devices = append(devices, *dev)
			}
		}
	}

	if len(devices) == 0 {
		return cfg.FallbackDevices
	}
	return devices
}
