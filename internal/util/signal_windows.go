//go:build windows

package util

import "os"

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal attempts graceful process termination.
// Windows has no SIGINT delivery to child processes, so the capture
// process is killed through its context instead.
func GracefulSignal(_ *os.Process) error {
	return nil
}
