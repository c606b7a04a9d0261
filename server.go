package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/config"
	"github.com/oszuidwest/zwfm-capture/internal/server"
	"github.com/oszuidwest/zwfm-capture/internal/types"
)

const (
	amplitudeInterval = 100 * time.Millisecond  // 10 fps for level meters
	statusInterval    = 3000 * time.Millisecond // Status updates every 3s
)

// Server is an HTTP server that exposes the capture session over REST and WebSocket.
type Server struct {
	config   *config.Config
	sessions server.SessionControl
	notifier server.NotificationTester
	commands *server.CommandHandler
	hub      *server.Hub
	upgrader *server.Upgrader
	version  *VersionChecker
	logPath  string
}

// NewServer returns a new Server driving sessions. logPath is the event log served by /api/events.
func NewServer(cfg *config.Config, sessions server.SessionControl, notifier server.NotificationTester, logPath string) *Server {
	return &Server{
		config:   cfg,
		sessions: sessions,
		notifier: notifier,
		commands: server.NewCommandHandler(cfg, sessions, notifier, logPath),
		hub:      server.NewHub(),
		upgrader: server.NewUpgrader(cfg.Snapshot().AllowedOrigins),
		version:  NewVersionChecker(),
		logPath:  logPath,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
// Clients connecting with ?audio=1 also receive binary chunk frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := s.hub.Register(r.URL.Query().Get("audio") == "1")
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, client)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, client.Send(), done, statusUpdate)

	s.runWebSocketEventLoop(client.Send(), done, statusUpdate)
	s.hub.Unregister(client)
}

// runWebSocketWriter writes messages from the client queue to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, client *server.Client) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case msg := <-client.Send():
			if err := server.WriteFrame(conn, msg); err != nil {
				return
			}
		case <-client.Done():
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop handles periodic status and amplitude updates until the reader exits.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	amplitudeTicker := time.NewTicker(amplitudeInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer amplitudeTicker.Stop()
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		case <-amplitudeTicker.C:
			msg = types.WSAmplitudeResponse{Type: "amplitude", Amplitude: s.sessions.Amplitude()}
		}
		if !trySend(msg) {
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:    "status",
		Session: s.sessions.Status(),
		Version: s.version.Info(),
	}
}

// Broadcast forwards a session state event to every WebSocket client.
func (s *Server) Broadcast(ev types.StateEvent) {
	s.hub.BroadcastState(ev)
}

// BroadcastChunk forwards an audio chunk to WebSocket clients that asked for audio.
func (s *Server) BroadcastChunk(chunk types.Chunk) {
	s.hub.BroadcastChunk(chunk)
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Session API routes (API key auth)
	mux.HandleFunc("POST /api/session/start", s.apiKeyAuth(s.handleSessionStart))
	mux.HandleFunc("POST /api/session/pause", s.apiKeyAuth(s.handleSessionPause))
	mux.HandleFunc("POST /api/session/resume", s.apiKeyAuth(s.handleSessionResume))
	mux.HandleFunc("POST /api/session/stop", s.apiKeyAuth(s.handleSessionStop))
	mux.HandleFunc("POST /api/session/cancel", s.apiKeyAuth(s.handleSessionCancel))
	mux.HandleFunc("GET /api/session/status", s.apiKeyAuth(s.handleSessionStatus))
	mux.HandleFunc("GET /api/session/amplitude", s.apiKeyAuth(s.handleSessionAmplitude))
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleEvents))
	mux.HandleFunc("POST /api/notifications/test", s.apiKeyAuth(s.handleNotificationTest))
	mux.HandleFunc("GET /api/devices", s.apiKeyAuth(s.handleDevices))
	mux.HandleFunc("GET /api/version", s.apiKeyAuth(s.handleVersion))

	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))

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

// apiKeyAuth returns middleware for API key authentication.
// Browsers cannot set headers on WebSocket upgrades, so the key may also be passed as ?api_key=.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
