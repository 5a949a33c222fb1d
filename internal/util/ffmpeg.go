package util

import (
	"log/slog"
	"os/exec"
)

// commonFFmpegLocations are tried when ffmpeg is not on PATH. Homebrew
// and the Windows community builds install outside the PATH a service
// environment typically sees.
var commonFFmpegLocations = []string{
	"/opt/homebrew/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	`C:\ffmpeg\bin\ffmpeg.exe`,
}

// ResolveFFmpegPath locates the FFmpeg binary used as the capture
// front-end on platforms without arecord. A configured path wins when
// it resolves; otherwise PATH and common install locations are tried.
// Returns an empty string when FFmpeg cannot be found.
func ResolveFFmpegPath(configuredPath string) string {
	if configuredPath != "" {
		if _, err := exec.LookPath(configuredPath); err == nil {
			return configuredPath
		}
		slog.Warn("configured FFmpeg path does not resolve", "path", configuredPath)
		return ""
	}

	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path
	}
	for _, candidate := range commonFFmpegLocations {
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
