package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/soundwatch/noisemeter/internal/types"
	"github.com/soundwatch/noisemeter/internal/util"
)

// maxSampleValue is the maximum absolute value for 16-bit signed audio.
const maxSampleValue = 32768.0

// startProbeTimeout is how long Start waits for the first captured frame
// before reporting an acquisition failure.
const startProbeTimeout = 5 * time.Second

// CaptureSource captures mono S16LE PCM from the platform capture command
// (arecord on Linux, FFmpeg elsewhere) and keeps the most recent frame.
// It is safe for concurrent use.
type CaptureSource struct {
	device     string
	ffmpegPath string

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	running   bool
	frame     [FrameSize]float64
	haveFrame bool
	stopChan  chan struct{}
	backoff   *util.Backoff
}

// NewCaptureSource returns a CaptureSource for the given input device.
// An empty device selects the platform default or auto-detects.
func NewCaptureSource(device, ffmpegPath string) *CaptureSource {
	return &CaptureSource{
		device:     device,
		ffmpegPath: ffmpegPath,
		backoff:    util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
	}
}

// Start acquires the capture process and waits for the first frame.
// It returns ErrNoDevice or ErrPermissionDenied for the two distinct
// acquisition failure modes.
func (c *CaptureSource) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.backoff.Reset()
	stopChan := c.stopChan
	c.mu.Unlock()

	firstFrame := make(chan struct{})
	exited := make(chan error, 1)

	if err := c.spawn(ctx, firstFrame, exited); err != nil {
		c.markStopped()
		return err
	}

	select {
	case <-firstFrame:
		// Supervise restarts for the rest of the capture lifetime.
		go c.superviseLoop(ctx, stopChan, exited)
		return nil
	case err := <-exited:
		c.markStopped()
		return classifyCaptureError(err)
	case <-time.After(startProbeTimeout):
		c.stopProcess()
		c.markStopped()
		return fmt.Errorf("capture produced no audio within %s: %w", startProbeTimeout, ErrNoDevice)
	case <-ctx.Done():
		c.stopProcess()
		c.markStopped()
		return ctx.Err()
	}
}

// spawn builds and starts the capture process plus its reader goroutine.
func (c *CaptureSource) spawn(ctx context.Context, firstFrame chan<- struct{}, exited chan<- error) error {
	command, args, err := buildCaptureCommand(c.device, c.ffmpegPath)
	if err != nil {
		return err
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return util.WrapError("open capture stdout", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return util.WrapError("start capture process", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.cancel = cancel
	c.mu.Unlock()

	slog.Info("capture process started", "command", command, "device", c.device)

	go func() {
		c.readLoop(stdout, firstFrame)
		err := cmd.Wait()
		cancel()
		if tail := stderrTail(stderr.String()); tail != "" && err != nil {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		exited <- err
	}()

	return nil
}

// readLoop consumes S16LE mono PCM and publishes the latest frame.
func (c *CaptureSource) readLoop(r io.Reader, firstFrame chan<- struct{}) {
	buf := make([]byte, FrameSize*2)
	frame := make([]float64, FrameSize)
	signalled := false

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		for i := range FrameSize {
			sample := int16(binary.LittleEndian.Uint16(buf[i*2:]))
			frame[i] = float64(sample) / maxSampleValue
		}

		c.mu.Lock()
		copy(c.frame[:], frame)
		c.haveFrame = true
		c.mu.Unlock()

		if !signalled {
			close(firstFrame)
			signalled = true
		}
	}
}

// superviseLoop restarts the capture process with backoff if it dies
// while the source is still supposed to be running.
func (c *CaptureSource) superviseLoop(ctx context.Context, stopChan <-chan struct{}, exited <-chan error) {
	for {
		select {
		case <-stopChan:
			return
		case <-ctx.Done():
			return
		case err := <-exited:
			if err != nil {
				slog.Warn("capture process died", "device", c.device, "error", err)
			}
		}

		select {
		case <-stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(c.backoff.Next()):
		}

		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}

		slog.Info("restarting capture process", "device", c.device)
		firstFrame := make(chan struct{})
		next := make(chan error, 1)
		if err := c.spawn(ctx, firstFrame, next); err != nil {
			slog.Error("capture restart failed", "error", err)
			return
		}
		exited = next
	}
}

// Frame returns a copy of the most recent captured frame.
func (c *CaptureSource) Frame() ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveFrame {
		return nil, false
	}
	out := make([]float64, FrameSize)
	copy(out, c.frame[:])
	return out, true
}

// Stop terminates the capture process. Safe to call repeatedly.
func (c *CaptureSource) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	if c.stopChan != nil {
		close(c.stopChan)
		c.stopChan = nil
	}
	c.mu.Unlock()

	c.stopProcess()
	return nil
}

// stopProcess signals the capture process, falling back to a hard kill.
func (c *CaptureSource) stopProcess() {
	c.mu.Lock()
	cmd := c.cmd
	cancel := c.cancel
	c.cmd = nil
	c.cancel = nil
	c.haveFrame = false
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := util.GracefulSignal(cmd.Process); err != nil {
			slog.Warn("failed to signal capture process", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

func (c *CaptureSource) markStopped() {
	c.mu.Lock()
	c.running = false
	if c.stopChan != nil {
		close(c.stopChan)
		c.stopChan = nil
	}
	c.mu.Unlock()
}

// classifyCaptureError maps a capture process failure to the sentinel
// acquisition errors where the stderr output allows it.
func classifyCaptureError(err error) error {
	if err == nil {
		return fmt.Errorf("capture process exited before producing audio: %w", ErrNoDevice)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
	case strings.Contains(msg, "no such"), strings.Contains(msg, "not found"), strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %s", ErrNoDevice, err)
	default:
		return util.WrapError("acquire audio input", err)
	}
}

// stderrTail extracts the last meaningful line from stderr output.
func stderrTail(stderr string) string {
	const maxLen = 200
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxLen {
			return line[:maxLen] + "..."
		}
		return line
	}
	return ""
}
