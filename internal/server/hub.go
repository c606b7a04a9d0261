package server

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// clientBuffer is the outbound queue length per WebSocket client.
const clientBuffer = 64

// Client is one WebSocket connection registered with a Hub.
type Client struct {
	send  chan any
	done  chan struct{}
	audio bool // receives binary chunk frames
}

// Send returns the outbound message queue. It is never closed, so late
// command results cannot panic; writers stop on Done instead.
func (c *Client) Send() chan any {
	return c.send
}

// Done is closed when the client is unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub fans out session events to every connected WebSocket client.
// Slow clients lose messages rather than stalling the session. It is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Register adds a client. Clients with audio set also receive chunk frames.
func (h *Hub) Register(audio bool) *Client {
	c := &Client{send: make(chan any, clientBuffer), done: make(chan struct{}), audio: audio}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Unregister removes a client and closes its Done channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.done)
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastState forwards a session state event to every client.
func (h *Hub) BroadcastState(ev types.StateEvent) {
	h.broadcast(types.WSStateMessage{Type: "state", Event: ev}, false)
}

// BroadcastAmplitude forwards an amplitude sample to every client.
func (h *Hub) BroadcastAmplitude(sample types.AmplitudeSample) {
	h.broadcast(types.WSAmplitudeResponse{Type: "amplitude", Amplitude: sample}, false)
}

// BroadcastChunk forwards a chunk to audio clients as a binary frame:
// an 8-byte big-endian sequence number followed by the PCM data.
func (h *Hub) BroadcastChunk(chunk types.Chunk) {
	frame := make(BinaryFrame, 8+len(chunk.Data))
	binary.BigEndian.PutUint64(frame, chunk.Seq)
	copy(frame[8:], chunk.Data)
	h.broadcast(frame, true)
}

func (h *Hub) broadcast(msg any, audioOnly bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if audioOnly && !c.audio {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slog.Debug("dropped message for slow WebSocket client", "audio", audioOnly)
		}
	}
}
