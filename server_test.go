package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/soundwatch/noisemeter/internal/audio"
	"github.com/soundwatch/noisemeter/internal/config"
	"github.com/soundwatch/noisemeter/internal/eventlog"
	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/meter"
	"github.com/soundwatch/noisemeter/internal/session"
	"github.com/soundwatch/noisemeter/internal/store"
	"github.com/soundwatch/noisemeter/internal/types"
)

// hubSink forwards the session stream to the hub, the same wiring the
// production sink uses for rendering.
type hubSink struct{ hub *Hub }

func (s hubSink) OnReading(r types.Reading, c exposure.Classification, peakDB float64) {
	s.hub.Publish(r, c, peakDB)
}

func (s hubSink) OnSummary(sum exposure.Summary, _ []types.Reading) {
	s.hub.PublishSummary(sum)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.New(filepath.Join(dir, "config.json"))
	if err := cfg.Load(); err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	st, err := store.Open(filepath.Join(dir, "noisemeter.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	events, err := eventlog.NewLogger(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("eventlog.NewLogger: %v", err)
	}
	t.Cleanup(func() { events.Close() })

	hub := NewHub()
	m := meter.New(audio.NewSyntheticSource(0.1, 440), meter.Options{MinInterval: time.Nanosecond})
	ctrl := session.New(m, nil, hubSink{hub: hub}, time.Millisecond)
	t.Cleanup(func() { ctrl.Close() })

	srv := NewServer(cfg, ctrl, m, st, events, hub)
	t.Cleanup(srv.version.Stop)
	return srv
}

// postSessionStop invokes the stop handler and decodes the data payload.
func postSessionStop(t *testing.T, srv *Server) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	srv.handleSessionStop(w, httptest.NewRequest("POST", "/api/session/stop", nil))

	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("stop response success = false, body %s", w.Body.String())
	}
	return resp.Data
}

func TestStopWithoutRunningSessionReturnsStatus(t *testing.T) {
	srv := newTestServer(t)

	// A summary left over from an earlier session must not be replayed
	// as the result of stopping an idle controller.
	srv.hub.PublishSummary(exposure.Summary{TWADb: 77, SampleCount: 50})

	data := postSessionStop(t, srv)
	if _, ok := data["state"]; !ok {
		t.Errorf("idle stop data = %v, want controller status with a state field", data)
	}
	if _, ok := data["twa_db"]; ok {
		t.Error("idle stop replayed a previous session's summary")
	}
}

func TestStopWhileRunningReturnsSummary(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	data := postSessionStop(t, srv)
	if _, ok := data["sample_count"]; !ok {
		t.Errorf("running stop data = %v, want the session summary", data)
	}
	if _, ok := data["state"]; ok {
		t.Error("running stop returned status instead of the summary")
	}
}

func TestHubLatestReading(t *testing.T) {
	h := NewHub()

	if _, ok := h.Latest(); ok {
		t.Error("fresh hub should have no reading")
	}

	h.Publish(types.Reading{ValueDB: 70, TimestampMs: 1000}, exposure.Classify(70), 75)
	h.Publish(types.Reading{ValueDB: 72, TimestampMs: 1017}, exposure.Classify(72), 75)

	live, ok := h.Latest()
	if !ok {
		t.Fatal("hub lost the published reading")
	}
	if live.Reading.ValueDB != 72 {
		t.Errorf("latest = %v, want the newest value 72", live.Reading.ValueDB)
	}
	if live.Classification.Zone != exposure.ZoneLoud {
		t.Errorf("zone = %s, want %s", live.Classification.Zone, exposure.ZoneLoud)
	}
}

func TestHubSummaryEndsLiveStream(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	h.Publish(types.Reading{ValueDB: 70, TimestampMs: 1000}, exposure.Classify(70), 70)
	h.PublishSummary(exposure.Summary{TWADb: 68, SampleCount: 100})

	if _, ok := h.Latest(); ok {
		t.Error("summary should clear the live reading")
	}

	select {
	case msg := <-sub:
		sm, ok := msg.(wsSummaryMsg)
		if !ok {
			t.Fatalf("subscriber got %T, want summary message", msg)
		}
		if sm.Summary.TWADb != 68 {
			t.Errorf("summary TWA = %v, want 68", sm.Summary.TWADb)
		}
	default:
		t.Fatal("subscriber did not receive the summary")
	}

	if summary, ok := h.LastSummary(); !ok || summary.SampleCount != 100 {
		t.Errorf("LastSummary = %+v ok=%v, want retained summary", summary, ok)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	// Fill the subscriber buffer without draining; further broadcasts
	// must not deadlock the session loop.
	for range 10 {
		h.PublishSummary(exposure.Summary{})
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"/api/history", 50},
		{"/api/history?limit=10", 10},
		{"/api/history?limit=0", 0},
		{"/api/history?limit=abc", 50},
		{"/api/history?limit=-5", 50},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", tt.url, nil)
		if got := queryInt(r, "limit", 50); got != tt.want {
			t.Errorf("queryInt(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{"1.2.0", "1.1.0", true},
		{"1.1.0", "1.1.0", false},
		{"1.0.0", "1.1.0", false},
		{"v2.0.0", "1.9.9", true},
		{"1.10.0", "1.9.0", true},
	}
	for _, tt := range tests {
		if got := isNewerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}
