package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	ReadJSON(v any) error
}

// BinaryFrame is an outbound message written as a binary WebSocket frame.
type BinaryFrame []byte

// WriteFrame writes msg to conn, as a binary frame for BinaryFrame and JSON otherwise.
func WriteFrame(conn WebSocketConn, msg any) error {
	if frame, ok := msg.(BinaryFrame); ok {
		return conn.WriteMessage(websocket.BinaryMessage, frame)
	}
	return conn.WriteJSON(msg)
}

// Upgrader accepts WebSocket connections from same-host, loopback and
// private-network origins plus an explicit allow list.
type Upgrader struct {
	ws      websocket.Upgrader
	allowed []string
}

// NewUpgrader returns an Upgrader that also admits the given origins
// (scheme://host[:port], compared case-insensitively).
func NewUpgrader(allowed []string) *Upgrader {
	u := &Upgrader{}
	for _, o := range allowed {
		u.allowed = append(u.allowed, strings.ToLower(strings.TrimRight(o, "/")))
	}
	u.ws = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024, // fits a 100ms stereo 48kHz chunk frame
		CheckOrigin:     u.checkOrigin,
	}
	return u
}

// Upgrade upgrades an HTTP connection to WebSocket.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return u.ws.Upgrade(w, r, nil)
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Non-browser clients omit the Origin header
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	if slices.Contains(u.allowed, strings.ToLower(parsed.Scheme+"://"+parsed.Host)) {
		return true
	}

	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if strings.EqualFold(host, requestHost) {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}
