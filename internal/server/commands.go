package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/archive"
	"github.com/oszuidwest/zwfm-capture/internal/config"
	"github.com/oszuidwest/zwfm-capture/internal/eventlog"
	"github.com/oszuidwest/zwfm-capture/internal/session"
	"github.com/oszuidwest/zwfm-capture/internal/types"
)

const (
	// StopWaitTimeout bounds how long a waiting stop blocks on output finalization.
	StopWaitTimeout = 30 * time.Second
	// DefaultEventLimit is the page size for event log reads without a limit.
	DefaultEventLimit = 50
	// archiveTestTimeout bounds an archive connection test.
	archiveTestTimeout = 30 * time.Second
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SessionControl is the capture session surface driven by commands.
type SessionControl interface {
	Start(cfg types.SessionConfig) (string, error)
	Pause() error
	Resume() error
	Stop() (*session.Completion, error)
	Cancel() error
	Status() types.SessionStatus
	Amplitude() types.AmplitudeSample
}

// NotificationTester sends a test message on every configured notification channel.
type NotificationTester interface {
	SendTest() error
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	sessions SessionControl
	notifier NotificationTester
	logPath  string
	now      func() time.Time
}

// NewCommandHandler creates a new command handler. logPath is the event log
// read by events/get and may be empty.
func NewCommandHandler(cfg *config.Config, sessions SessionControl, notifier NotificationTester, logPath string) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		sessions: sessions,
		notifier: notifier,
		logPath:  logPath,
		now:      time.Now,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "session/start", "status/get")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "session":
		h.handleSession(action, cmd, send)
	case "status":
		h.handleStatus(action)
	case "events":
		h.handleEvents(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, cmd, send)
	case "archive":
		h.handleArchive(action, cmd, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd, fmt.Errorf("unknown command %q", cmd.Type))
		return
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleSession routes session/* commands
func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.handleStart(cmd, send)
	case "pause":
		h.sessionResult(cmd, send, h.sessions.Pause())
	case "resume":
		h.sessionResult(cmd, send, h.sessions.Resume())
	case "stop":
		h.handleStop(cmd, send)
	case "cancel":
		h.sessionResult(cmd, send, h.sessions.Cancel())
	default:
		slog.Warn("unknown session action", "action", action)
		SendError(send, cmd, fmt.Errorf("unknown session action %q", action))
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	if action != "get" {
		slog.Warn("unknown events action", "action", action)
		SendError(send, cmd, fmt.Errorf("unknown events action %q", action))
		return
	}
	HandleCommand(cmd, send, func(req *EventsRequest) (any, error) {
		return ReadEvents(h.logPath, req)
	})
}

// handleNotifications routes notifications/* commands
func (h *CommandHandler) handleNotifications(action string, cmd WSCommand, send chan<- any) {
	if action != "test" {
		slog.Warn("unknown notifications action", "action", action)
		SendError(send, cmd, fmt.Errorf("unknown notifications action %q", action))
		return
	}
	HandleActionAsync(cmd, send, func() (any, error) {
		return nil, h.notifier.SendTest()
	})
}

// handleArchive routes archive/* commands
func (h *CommandHandler) handleArchive(action string, cmd WSCommand, send chan<- any) {
	if action != "test" {
		slog.Warn("unknown archive action", "action", action)
		SendError(send, cmd, fmt.Errorf("unknown archive action %q", action))
		return
	}
	var req ArchiveTestRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	HandleActionAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTestTimeout)
		defer cancel()
		cfg := req.ArchiveConfig()
		return nil, archive.TestConnection(ctx, &cfg)
	})
}

// --- Session handlers ---

// handleStart processes a session/start command.
func (h *CommandHandler) handleStart(cmd WSCommand, send chan<- any) {
	var req SessionStartRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	cfg := h.cfg.Snapshot()
	id, err := h.sessions.Start(req.SessionConfig(&cfg, h.now()))
	if err != nil {
		h.sessionResult(cmd, send, err)
		return
	}
	SendSuccess(send, cmd, map[string]string{"session_id": id})
}

// handleStop processes a session/stop command. With wait set the result is
// sent once the output is finalized and carries its path.
func (h *CommandHandler) handleStop(cmd WSCommand, send chan<- any) {
	var req SessionStopRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	comp, err := h.sessions.Stop()
	if err != nil {
		h.sessionResult(cmd, send, err)
		return
	}
	if !req.Wait {
		SendSuccess(send, cmd, nil)
		return
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		path, err := WaitCompletion(comp)
		if err != nil {
			return nil, err
		}
		return map[string]string{"path": path}, nil
	})
}

// sessionResult replies with the outcome of a session operation.
func (h *CommandHandler) sessionResult(cmd WSCommand, send chan<- any, err error) {
	if err != nil {
		SendError(send, cmd, err)
		return
	}
	SendSuccess(send, cmd, nil)
}

// WaitCompletion blocks until a stop completion resolves or StopWaitTimeout passes.
func WaitCompletion(comp *session.Completion) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), StopWaitTimeout)
	defer cancel()
	return comp.Wait(ctx)
}

// EventsPage is one page of the event log.
type EventsPage struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// ReadEvents returns a page of the event log, newest first.
func ReadEvents(logPath string, req *EventsRequest) (EventsPage, error) {
	if logPath == "" {
		return EventsPage{}, fmt.Errorf("event log not configured")
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultEventLimit
	}
	filter := eventlog.FilterAll
	if req.Filter != "all" {
		filter = eventlog.TypeFilter(req.Filter)
	}

	events, hasMore, err := eventlog.ReadLast(logPath, limit, req.Offset, filter)
	if err != nil {
		return EventsPage{}, fmt.Errorf("read event log: %w", err)
	}
	return EventsPage{Events: events, HasMore: hasMore}, nil
}
