//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals lists the signals that trigger graceful shutdown of
// the meter daemon.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks a capture process to flush and exit. SIGINT lets
// arecord and ffmpeg close the stream cleanly; the caller escalates
// through the process context if the signal is ignored.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
