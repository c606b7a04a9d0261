package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/audio"
	"github.com/oszuidwest/zwfm-capture/internal/server"
	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into v. An empty body leaves v unchanged.
func (s *Server) readJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if err := util.ValidateStruct(&v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err})
		return v, false
	}
	return v, true
}

// writeSessionError maps a session operation error to an HTTP status.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
	case errors.Is(err, types.ErrSessionActive),
		errors.Is(err, types.ErrNoActiveSession),
		errors.Is(err, types.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrDisposed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleHealth reports liveness.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessionStart starts a capture session with optional overrides.
// POST /api/session/start
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.SessionStartRequest](s, w, r)
	if !ok {
		return
	}

	cfg := s.config.Snapshot()
	sc := req.SessionConfig(&cfg, time.Now())
	id, err := s.sessions.Start(sc)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":     "recording",
		"session_id": id,
		"path":       sc.Path,
	})
}

// handleSessionPause pauses the active session.
// POST /api/session/pause
func (s *Server) handleSessionPause(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.Pause(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// handleSessionResume resumes the paused session.
// POST /api/session/resume
func (s *Server) handleSessionResume(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.Resume(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recording"})
}

// handleSessionStop stops the active session. With ?wait=true the response
// is sent once the output is finalized and carries its path.
// POST /api/session/stop
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	comp, err := s.sessions.Stop()
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
		return
	}

	path, err := server.WaitCompletion(comp)
	if err != nil {
		s.writeError(w, http.StatusGatewayTimeout, "stop did not complete: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "path": path})
}

// handleSessionCancel cancels the active session and discards its output.
// POST /api/session/cancel
func (s *Server) handleSessionCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.Cancel(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleSessionStatus returns the current or most recent session.
// GET /api/session/status
func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessions.Status())
}

// handleSessionAmplitude returns the live amplitude in dBFS.
// GET /api/session/amplitude
func (s *Server) handleSessionAmplitude(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessions.Amplitude())
}

// handleEvents returns a page of the event log, newest first.
// GET /api/events?n=50&offset=0&filter=session
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := server.EventsRequest{Filter: q.Get("filter")}

	var err error
	if n := q.Get("n"); n != "" {
		if req.Limit, err = strconv.Atoi(n); err != nil {
			s.writeError(w, http.StatusBadRequest, "n must be a number")
			return
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if req.Offset, err = strconv.Atoi(offset); err != nil {
			s.writeError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
	}
	if err := util.ValidateStruct(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err})
		return
	}

	page, err := server.ReadEvents(s.logPath, &req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// handleNotificationTest sends a test notification on every configured channel.
// POST /api/notifications/test
func (s *Server) handleNotificationTest(w http.ResponseWriter, _ *http.Request) {
	if err := s.notifier.SendTest(); err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDevices returns the available audio input devices.
// GET /api/devices
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices":  audio.Devices(),
		"platform": runtime.GOOS,
	})
}

// handleVersion returns version and update information.
// GET /api/version
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.version.Info())
}
