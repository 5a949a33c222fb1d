// Package main provides a browser-based ambient sound level meter that
// samples a capture device, renders calibrated dB readings live and
// summarizes exposure per measurement session.
//
// Usage:
//
//	noisemeter [-config path/to/config.json] [-demo]
//
// If -config is not specified, the meter looks for config.json in the
// same directory as the binary. The -demo flag replaces the capture
// device with a synthetic tone generator.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/soundwatch/noisemeter/internal/audio"
	"github.com/soundwatch/noisemeter/internal/config"
	"github.com/soundwatch/noisemeter/internal/eventlog"
	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/meter"
	"github.com/soundwatch/noisemeter/internal/notify"
	"github.com/soundwatch/noisemeter/internal/publish"
	"github.com/soundwatch/noisemeter/internal/session"
	"github.com/soundwatch/noisemeter/internal/store"
	"github.com/soundwatch/noisemeter/internal/types"
	"github.com/soundwatch/noisemeter/internal/util"
)

// configPolicy reads the session tier from live configuration, so a
// settings change applies to the next session without a restart.
type configPolicy struct {
	cfg *config.Config
}

func (p configPolicy) AllowExtendedDuration() bool {
	return p.cfg.Snapshot().Session.ExtendedSessions
}

// sessionSink fans the measurement stream out to every downstream
// consumer: the render hub, history storage, the event log, the MQTT
// publisher and the loudness alarm.
type sessionSink struct {
	hub       *Hub
	store     *store.Store
	events    *eventlog.Logger
	publisher *publish.Publisher
	alarm     *notify.Alarm
	cfg       *config.Config

	mu          sync.Mutex
	startedAtMs int64
}

func (s *sessionSink) OnReading(r types.Reading, c exposure.Classification, heldPeakDB float64) {
	s.mu.Lock()
	if s.startedAtMs == 0 {
		s.startedAtMs = r.TimestampMs
	}
	s.mu.Unlock()

	s.hub.Publish(r, c, heldPeakDB)
	s.publisher.PublishReading(r, c)

	alert := s.cfg.Snapshot().Alert
	event := s.alarm.Update(r.ValueDB, notify.AlarmConfig{
		ThresholdDB: alert.ThresholdDB,
		TriggerMs:   alert.TriggerMs,
		RecoveryMs:  alert.RecoveryMs,
	}, r.Timestamp())

	switch {
	case event.JustTriggered:
		slog.Warn("sustained loud environment", "level_db", r.ValueDB, "threshold_db", alert.ThresholdDB)
		if err := s.events.LogAlert(eventlog.AlertStart, r.ValueDB, alert.ThresholdDB, 0); err != nil {
			slog.Warn("failed to log alert event", "error", err)
		}
		if util.IsConfigured(alert.WebhookURL) {
			go func() {
				if err := notify.SendAlertWebhook(alert.WebhookURL, event.LevelDB, alert.ThresholdDB); err != nil {
					slog.Error("failed to send alert webhook", "error", err)
				}
			}()
		}
	case event.JustRecovered:
		slog.Info("loud environment recovered", "duration_ms", event.TotalDurationMs)
		if err := s.events.LogAlert(eventlog.AlertEnd, r.ValueDB, alert.ThresholdDB, event.TotalDurationMs); err != nil {
			slog.Warn("failed to log alert event", "error", err)
		}
		if util.IsConfigured(alert.WebhookURL) {
			go func() {
				if err := notify.SendRecoveryWebhook(alert.WebhookURL, event.LevelDB, alert.ThresholdDB, event.TotalDurationMs); err != nil {
					slog.Error("failed to send recovery webhook", "error", err)
				}
			}()
		}
	}
}

func (s *sessionSink) OnSummary(summary exposure.Summary, readings []types.Reading) {
	s.mu.Lock()
	startedAtMs := s.startedAtMs
	s.startedAtMs = 0
	s.mu.Unlock()
	if startedAtMs == 0 {
		startedAtMs = util.NowMs()
	}

	s.hub.PublishSummary(summary)
	s.publisher.PublishSummary(summary)
	s.alarm.Reset()

	keep := s.cfg.Snapshot().Session.HistoryLimit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.store.SaveSession(ctx, startedAtMs, summary, readings, keep); err != nil {
		slog.Error("failed to save session history", "error", err)
	}

	if err := s.events.LogSession(eventlog.SessionFinalized, eventlog.SessionDetails{
		ReadingCount:     summary.SampleCount,
		TWADb:            summary.TWADb,
		DoseFraction:     summary.DoseFraction,
		InsufficientData: summary.InsufficientData,
	}); err != nil {
		slog.Warn("failed to log session event", "error", err)
	}
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	demo := flag.Bool("demo", false, "Use a synthetic tone generator instead of the capture device")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snapshot := cfg.Snapshot()

	st, err := store.Open(filepath.Join(snapshot.System.DataDir, "noisemeter.db"))
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	baseline, err := st.CalibrationOffset(context.Background())
	if err != nil {
		slog.Warn("failed to load calibration offset", "error", err)
	} else if baseline != 0 {
		slog.Info("loaded calibration offset", "offset_db", baseline)
	}

	events, err := eventlog.NewLogger(filepath.Join(snapshot.System.DataDir, "events.jsonl"))
	if err != nil {
		slog.Error("failed to open event log", "error", err)
		os.Exit(1)
	}

	var source audio.Source
	if *demo {
		slog.Info("demo mode: using synthetic tone generator")
		source = audio.NewSyntheticSource(0.02, 440)
	} else {
		ffmpegPath := util.ResolveFFmpegPath(snapshot.System.FFmpegPath)
		if ffmpegPath == "" && runtime.GOOS != "linux" {
			slog.Warn("FFmpeg not found - audio capture will fail",
				"configured_path", snapshot.System.FFmpegPath)
		}
		source = audio.NewCaptureSource(cfg.AudioInput(), ffmpegPath)
	}

	m := meter.New(source, meter.Options{
		SPLReference:   snapshot.Meter.SPLReference,
		FloorDB:        snapshot.Meter.FloorDB,
		CeilingDB:      snapshot.Meter.CeilingDB,
		MinInterval:    time.Second / time.Duration(snapshot.Meter.UpdateRateHz),
		BaselineOffset: baseline,
	})

	publisher, err := publish.Connect(snapshot.MQTT)
	if err != nil {
		slog.Warn("MQTT publishing disabled", "error", err)
	}

	hub := NewHub()
	sink := &sessionSink{
		hub:       hub,
		store:     st,
		events:    events,
		publisher: publisher,
		alarm:     notify.NewAlarm(),
		cfg:       cfg,
	}
	ctrl := session.New(m, configPolicy{cfg: cfg}, sink, 0)

	srv := NewServer(cfg, ctrl, m, st, events, hub)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Stop version checker goroutine
	srv.version.Stop()

	// Shut down HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Finalize any running session and release the microphone.
	if err := ctrl.Close(); err != nil {
		slog.Error("error releasing audio input", "error", err)
	}

	publisher.Close()
	if err := events.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}

	slog.Info("shutdown complete")
}
