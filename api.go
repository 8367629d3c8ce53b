package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/notify"
	"github.com/oszuidwest/zwfm-soundwatch/internal/server"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

// maxLogEntries is the number of alert log entries returned by /api/alerts.
const maxLogEntries = 100

// API response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.APIError{Error: message})
}

// parseJSON reads and parses JSON from the request body.
// It writes a 400 response and reports false on failure.
func parseJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// writeMedia writes a binary reply as a download.
func writeMedia(w http.ResponseWriter, reply control.Reply) {
	w.Header().Set("Content-Type", reply.MIME)
	w.Header().Set("Content-Disposition", `inline; filename="`+reply.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(reply.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(reply.Data); err != nil {
		slog.Debug("failed to write media response", "filename", reply.Filename, "error", err)
	}
}

// dispatchMedia runs a control command and writes its media reply. The text
// reply empty means nothing is available yet (404); other text is a failure.
func (s *Server) dispatchMedia(w http.ResponseWriter, r *http.Request, req control.Request, empty string) {
	replies := s.control.Dispatch(r.Context(), req)
	if len(replies) == 0 {
		writeError(w, http.StatusInternalServerError, "no reply")
		return
	}
	reply := replies[0]
	switch {
	case reply.Kind != control.ReplyText:
		writeMedia(w, reply)
	case reply.Text == empty:
		writeError(w, http.StatusNotFound, reply.Text)
	default:
		writeError(w, http.StatusBadRequest, reply.Text)
	}
}

// handleAPIStatus returns the monitor status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPIDevices returns the available capture devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.refreshDevices()})
}

// handleAPIPlot renders the amplitude history as PNG.
// GET /api/plot
func (s *Server) handleAPIPlot(w http.ResponseWriter, r *http.Request) {
	s.dispatchMedia(w, r, control.Request{Command: control.CommandPlot, Word: "plot"}, control.MsgNoData)
}

// handleAPIListen drains and returns recent audio, like the /listen command.
// GET /api/listen?seconds=N
func (s *Server) handleAPIListen(w http.ResponseWriter, r *http.Request) {
	s.dispatchMedia(w, r, control.Request{
		Command: control.CommandListen,
		Word:    "listen",
		Arg:     strings.TrimSpace(r.URL.Query().Get("seconds")),
	}, control.MsgNoAudio)
}

// handleAPIGetThreshold returns the current threshold.
// GET /api/threshold
func (s *Server) handleAPIGetThreshold(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.ThresholdResponse{Threshold: s.engine.Threshold()})
}

// handleAPISetThreshold updates the threshold and optionally persists it.
// POST /api/threshold
func (s *Server) handleAPISetThreshold(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.ThresholdUpdateRequest](w, r)
	if !ok {
		return
	}
	if verr := server.ValidateStruct(&req); verr != nil {
		writeJSON(w, http.StatusBadRequest, types.WSCommandResult{Type: "threshold_result", Error: verr})
		return
	}

	s.engine.SetThreshold(*req.Threshold)
	slog.Info("threshold updated", "threshold", *req.Threshold, "source", "api")

	resp := types.ThresholdResponse{Threshold: *req.Threshold}
	if req.Persist {
		if err := s.config.SetThreshold(*req.Threshold); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Persisted = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAPIReset clears the audio buffer and amplitude history.
// POST /api/reset
func (s *Server) handleAPIReset(w http.ResponseWriter, _ *http.Request) {
	s.engine.Reset()
	slog.Info("buffers reset", "source", "api")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAPITestNotification sends a test through one notification channel.
// POST /api/notifications/test/{channel}
func (s *Server) handleAPITestNotification(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	err := s.commands.TestNotification(r.Context(), channel)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, server.ErrUnknownChannel):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notify.ErrNotConfigured):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Warn("notification test failed", "channel", channel, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// handleAPIAlerts returns the newest alert log entries.
// GET /api/alerts
func (s *Server) handleAPIAlerts(w http.ResponseWriter, _ *http.Request) {
	logPath := s.config.Snapshot().LogPath
	if logPath == "" {
		writeError(w, http.StatusConflict, "Log file path not configured")
		return
	}

	entries, err := readAlertLog(logPath, maxLogEntries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"path":    logPath,
	})
}

// readAlertLog reads the last maxEntries entries from the JSON-lines alert
// log, newest first. A missing file yields no entries.
func readAlertLog(logPath string, maxEntries int) ([]types.AlertLogEntry, error) {
	f, err := os.Open(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return []types.AlertLogEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only file

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > maxEntries {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	entries := make([]types.AlertLogEntry, 0, len(lines))
	for _, line := range lines {
		var entry types.AlertLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("failed to parse alert log entry", "line", line, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	slices.Reverse(entries)
	return entries, nil
}
