package main

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/soundwatch/noisemeter/internal/audio"
	"github.com/soundwatch/noisemeter/internal/config"
	"github.com/soundwatch/noisemeter/internal/eventlog"
	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/meter"
	"github.com/soundwatch/noisemeter/internal/server"
	"github.com/soundwatch/noisemeter/internal/session"
	"github.com/soundwatch/noisemeter/internal/store"
	"github.com/soundwatch/noisemeter/internal/types"
)

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// displayRate is how often live readings are pushed to browsers. The
// meter samples faster than this; browsers only need display frames.
const displayRate = 100 * time.Millisecond

// liveReading is the most recent reading with its render metadata.
type liveReading struct {
	Reading        types.Reading           `json:"reading"`
	Classification exposure.Classification `json:"classification"`
	PeakDB         float64                 `json:"peak_db"`
}

// Hub fans the live reading stream out to WebSocket subscribers. It
// implements the render side of the session sink: the session loop
// writes at its own cadence and each connection drains at display rate.
type Hub struct {
	mu          sync.RWMutex
	latest      *liveReading
	lastSummary *exposure.Summary
	subscribers map[chan any]struct{}
}

// NewHub returns an empty hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan any]struct{})}
}

// Publish stores the newest reading for display. Older unread readings
// are overwritten; browsers always render the freshest value.
func (h *Hub) Publish(r types.Reading, c exposure.Classification, peakDB float64) {
	h.mu.Lock()
	h.latest = &liveReading{Reading: r, Classification: c, PeakDB: peakDB}
	h.mu.Unlock()
}

// PublishSummary broadcasts a finished session summary to all
// subscribers and ends the live stream.
func (h *Hub) PublishSummary(s exposure.Summary) {
	msg := wsSummaryMsg{Type: "summary", Summary: s}

	h.mu.Lock()
	h.latest = nil
	h.lastSummary = &s
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; it will catch up via LastSummary.
		}
	}
	h.mu.Unlock()
}

// Latest returns the freshest reading, if a session is streaming.
func (h *Hub) Latest() (liveReading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return liveReading{}, false
	}
	return *h.latest, true
}

// LastSummary returns the most recent finished summary, if any.
func (h *Hub) LastSummary() (exposure.Summary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastSummary == nil {
		return exposure.Summary{}, false
	}
	return *h.lastSummary, true
}

// Subscribe registers a channel for summary broadcasts.
func (h *Hub) Subscribe() chan any {
	ch := make(chan any, 4)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (h *Hub) Unsubscribe(ch chan any) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// WebSocket message envelopes.

type wsReadingMsg struct {
	Type string `json:"type"`
	liveReading
}

type wsSummaryMsg struct {
	Type    string           `json:"type"`
	Summary exposure.Summary `json:"summary"`
}

type wsStatusMsg struct {
	Type   string        `json:"type"`
	Status statusPayload `json:"status"`
}

// statusPayload is the full state snapshot served over REST and pushed
// over WebSocket.
type statusPayload struct {
	Session   types.SessionStatus `json:"session"`
	Measuring bool                `json:"measuring"`
	OffsetDB  float64             `json:"offset_db"`
	Devices   []audio.Device      `json:"devices"`
	Zones     []exposure.ZoneInfo `json:"zones"`
	Settings  settingsPayload     `json:"settings"`
	Version   types.VersionInfo   `json:"version"`
}

// settingsPayload is the mutable settings slice of the status snapshot.
type settingsPayload struct {
	AudioInput       string             `json:"audio_input"`
	Platform         string             `json:"platform"`
	UpdateRateHz     int                `json:"update_rate_hz"`
	ExtendedSessions bool               `json:"extended_sessions"`
	Alert            config.AlertConfig `json:"alert"`
	MQTTEnabled      bool               `json:"mqtt_enabled"`
}

// Server is the HTTP server that provides the browser interface and the
// REST API for the sound level meter.
type Server struct {
	config  *config.Config
	ctrl    *session.Controller
	meter   *meter.LevelMeter
	store   *store.Store
	events  *eventlog.Logger
	hub     *Hub
	version *VersionChecker
}

// NewServer wires the HTTP layer over an already constructed controller.
func NewServer(cfg *config.Config, ctrl *session.Controller, m *meter.LevelMeter, st *store.Store, events *eventlog.Logger, hub *Hub) *Server {
	return &Server{
		config:  cfg,
		ctrl:    ctrl,
		meter:   m,
		store:   st,
		events:  events,
		hub:     hub,
		version: NewVersionChecker(),
	}
}

// handleWebSocket streams live readings, status and session summaries to
// a browser. The socket is push-only; commands go through the REST API.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Buffered send channel with a single writer goroutine keeps
	// connection writes serialized.
	send := make(chan any, 16)
	done := make(chan struct{})

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, done)

	s.runWebSocketEventLoop(send, done)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader drains the connection until the client goes away.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, done chan<- struct{}) {
	defer close(done)
	for {
		var discard json.RawMessage
		if err := conn.ReadJSON(&discard); err != nil {
			return
		}
	}
}

// runWebSocketEventLoop pushes readings at display rate and status
// snapshots periodically until the connection closes.
func (s *Server) runWebSocketEventLoop(send chan any, done <-chan struct{}) {
	readingTicker := time.NewTicker(displayRate)
	statusTicker := time.NewTicker(3 * time.Second)
	defer readingTicker.Stop()
	defer statusTicker.Stop()

	summaries := s.hub.Subscribe()
	defer s.hub.Unsubscribe(summaries)

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	// Initial state so the page renders without waiting for a tick.
	if !trySend(wsStatusMsg{Type: "status", Status: s.buildStatus()}) {
		close(send)
		return
	}
	if summary, ok := s.hub.LastSummary(); ok {
		if !trySend(wsSummaryMsg{Type: "summary", Summary: summary}) {
			close(send)
			return
		}
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case msg := <-summaries:
			if !trySend(msg) {
				close(send)
				return
			}
		case <-readingTicker.C:
			live, ok := s.hub.Latest()
			if !ok {
				continue
			}
			if !trySend(wsReadingMsg{Type: "reading", liveReading: live}) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(wsStatusMsg{Type: "status", Status: s.buildStatus()}) {
				close(send)
				return
			}
		}
	}
}

// buildStatus assembles the full state snapshot.
func (s *Server) buildStatus() statusPayload {
	cfg := s.config.Snapshot()

	return statusPayload{
		Session:   s.ctrl.Status(),
		Measuring: s.meter.IsMeasuring(),
		OffsetDB:  s.meter.Offset(),
		Devices:   audio.ListDevices(),
		Zones:     exposure.Zones(),
		Settings: settingsPayload{
			AudioInput:       cfg.Audio.Input,
			Platform:         runtime.GOOS,
			UpdateRateHz:     cfg.Meter.UpdateRateHz,
			ExtendedSessions: cfg.Session.ExtendedSessions,
			Alert:            cfg.Alert,
			MQTTEnabled:      cfg.MQTT.Broker != "",
		},
		Version: s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", s.handleIndex)

	// Session lifecycle
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	// Calibration and devices
	mux.HandleFunc("POST /api/calibrate", s.handleCalibrate)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/zones", s.handleZones)

	// History and export
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleHistoryDetail)
	mux.HandleFunc("GET /api/history/{id}/export", s.handleExport)

	// Settings
	mux.HandleFunc("POST /api/settings/audio", s.handleAudioSettings)
	mux.HandleFunc("POST /api/settings/alert", s.handleAlertSettings)
	mux.HandleFunc("POST /api/settings/session", s.handleSessionSettings)
	mux.HandleFunc("POST /api/settings/alert/test", s.handleTestWebhook)

	// Event log
	mux.HandleFunc("GET /api/events", s.handleEvents)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// indexData feeds the embedded page template.
type indexData struct {
	Version string
	Year    int
}

// handleIndex serves the embedded single-page interface.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := indexTmpl.Execute(w, indexData{
		Version: Version,
		Year:    time.Now().Year(),
	}); err != nil {
		slog.Error("failed to render index page", "error", err)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().System.Port)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
