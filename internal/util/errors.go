// Package util provides small shared helpers for errors, retry timing and formatting.
package util

import (
	"fmt"
	"io"
	"log/slog"
)

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// IsConfigured reports whether an optional setting has a value.
func IsConfigured(value string) bool {
	return value != ""
}

// SafeClose closes a resource and logs a failure instead of returning it.
// Intended for defer sites where the close error is not actionable.
func SafeClose(c io.Closer, name string) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close resource", "resource", name, "error", err)
	}
}
