package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/soundwatch/noisemeter/internal/audio"
	"github.com/soundwatch/noisemeter/internal/eventlog"
	"github.com/soundwatch/noisemeter/internal/export"
	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/meter"
	"github.com/soundwatch/noisemeter/internal/notify"
	"github.com/soundwatch/noisemeter/internal/server"
	"github.com/soundwatch/noisemeter/internal/store"
	"github.com/soundwatch/noisemeter/internal/util"
)

// handleSessionStart begins a new measurement session. Starting while a
// session runs restarts it. The session must outlive this request, so it
// runs under a background context; shutdown goes through Controller.Close.
func (s *Server) handleSessionStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Start(context.Background()); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, audio.ErrPermissionDenied):
			status = http.StatusForbidden
		case errors.Is(err, audio.ErrNoDevice):
			status = http.StatusNotFound
		}
		if logErr := s.events.LogSession(eventlog.SessionFailed, eventlog.SessionDetails{Error: err.Error()}); logErr != nil {
			slog.Warn("failed to log session event", "error", logErr)
		}
		server.WriteError(w, status, err)
		return
	}

	status := s.ctrl.Status()
	if err := s.events.LogSession(eventlog.SessionStarted, eventlog.SessionDetails{TargetMs: status.TargetMs}); err != nil {
		slog.Warn("failed to log session event", "error", err)
	}
	server.WriteSuccess(w, status)
}

// handleSessionStop finalizes the running session and returns its summary.
// Stopping an idle controller is a no-op answered with the controller
// status, never with a previous session's summary.
func (s *Server) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	if !s.ctrl.Stop() {
		server.WriteSuccess(w, s.ctrl.Status())
		return
	}

	if summary, ok := s.hub.LastSummary(); ok {
		server.WriteSuccess(w, summary)
		return
	}
	server.WriteSuccess(w, s.ctrl.Status())
}

// handleStatus returns the full state snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	server.WriteSuccess(w, s.buildStatus())
}

// handleCalibrate adjusts the meter against a known reference level and
// persists the resulting offset as the new baseline.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req server.CalibrateRequest
	if !server.DecodeAndValidate(w, r, &req) {
		return
	}

	offset, err := s.meter.Calibrate(*req.ReferenceDB)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, meter.ErrNotMeasuring) {
			status = http.StatusConflict
		}
		server.WriteError(w, status, err)
		return
	}

	// Persistence failures leave the in-memory calibration intact; the
	// offset just will not survive a restart.
	if err := s.store.SetCalibrationOffset(r.Context(), offset); err != nil {
		slog.Warn("failed to persist calibration offset", "error", err)
	}
	if err := s.events.LogCalibration(*req.ReferenceDB, offset); err != nil {
		slog.Warn("failed to log calibration event", "error", err)
	}

	server.WriteSuccess(w, map[string]float64{"offset_db": offset})
}

// handleDevices lists the available audio input devices.
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	server.WriteSuccess(w, audio.ListDevices())
}

// handleZones returns the classification scale for renderers.
func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	server.WriteSuccess(w, exposure.Zones())
}

// historyPayload is the session list response with trend across sessions.
type historyPayload struct {
	Sessions []store.StoredSession `json:"sessions"`
	Trend    exposure.Trend        `json:"trend"`
}

// handleHistory lists stored session summaries, newest first, with a
// trend computed over the recent session averages.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, err := s.store.Sessions(r.Context(), limit, offset)
	if err != nil {
		server.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	averages, err := s.store.RecentAverages(r.Context(), 20)
	if err != nil {
		server.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	server.WriteSuccess(w, historyPayload{
		Sessions: sessions,
		Trend:    exposure.AnalyzeTrend(averages),
	})
}

// handleHistoryDetail returns one stored session including readings.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	server.WriteSuccess(w, sess)
}

// handleExport streams one stored session as CSV or JSON.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=session-%d.csv", sess.ID))
		if err := export.WriteCSV(w, sess); err != nil {
			slog.Error("failed to export session", "id", sess.ID, "error", err)
		}
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=session-%d.json", sess.ID))
		if err := export.WriteJSON(w, sess); err != nil {
			slog.Error("failed to export session", "id", sess.ID, "error", err)
		}
	default:
		server.WriteError(w, http.StatusBadRequest, fmt.Errorf("unknown export format %q", format))
	}
}

// lookupSession resolves the {id} path value to a stored session,
// writing the error response itself on failure.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*store.StoredSession, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		server.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid session id"))
		return nil, false
	}

	sess, err := s.store.Session(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		server.WriteError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		server.WriteError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return sess, true
}

// handleAudioSettings updates the capture device. The new device is used
// the next time the audio input is acquired.
func (s *Server) handleAudioSettings(w http.ResponseWriter, r *http.Request) {
	var req server.AudioUpdateRequest
	if !server.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := s.config.SetAudioInput(req.Input); err != nil {
		server.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	server.WriteSuccess(w, nil)
}

// handleAlertSettings updates loudness alert thresholds. Omitted fields
// keep their current values.
func (s *Server) handleAlertSettings(w http.ResponseWriter, r *http.Request) {
	var req server.AlertUpdateRequest
	if !server.DecodeAndValidate(w, r, &req) {
		return
	}

	alert := s.config.Snapshot().Alert
	if req.ThresholdDB != nil {
		alert.ThresholdDB = *req.ThresholdDB
	}
	if req.TriggerMs != nil {
		alert.TriggerMs = *req.TriggerMs
	}
	if req.RecoveryMs != nil {
		alert.RecoveryMs = *req.RecoveryMs
	}
	if req.WebhookURL != nil {
		alert.WebhookURL = *req.WebhookURL
	}

	if err := s.config.SetAlert(alert); err != nil {
		server.WriteError(w, http.StatusBadRequest, err)
		return
	}
	server.WriteSuccess(w, alert)
}

// handleSessionSettings toggles the extended session tier. The change
// applies from the next session start.
func (s *Server) handleSessionSettings(w http.ResponseWriter, r *http.Request) {
	var req server.SessionTierRequest
	if !server.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := s.config.SetExtendedSessions(*req.Extended); err != nil {
		server.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	server.WriteSuccess(w, nil)
}

// handleTestWebhook delivers a test notification to the configured webhook.
func (s *Server) handleTestWebhook(w http.ResponseWriter, _ *http.Request) {
	url := s.config.Snapshot().Alert.WebhookURL
	if !util.IsConfigured(url) {
		server.WriteError(w, http.StatusBadRequest, fmt.Errorf("no webhook URL configured"))
		return
	}

	if err := notify.SendTestWebhook(url); err != nil {
		server.WriteError(w, http.StatusBadGateway, err)
		return
	}
	server.WriteSuccess(w, nil)
}

// eventsPayload is the event log response.
type eventsPayload struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// handleEvents returns recent entries from the event log, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	events, hasMore, err := eventlog.ReadLast(s.events.Path(), limit, offset)
	if err != nil {
		server.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	server.WriteSuccess(w, eventsPayload{Events: events, HasMore: hasMore})
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
