package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// stateLogger persists session transitions.
type stateLogger interface {
	LogState(ev types.StateEvent, previous types.SessionState) error
}

// archiver schedules finished recordings for upload.
type archiver interface {
	Enqueue(sessionID, localPath string) error
}

// alerter reacts to failed sessions.
type alerter interface {
	HandleState(ev types.StateEvent)
}

// broadcaster forwards events to connected clients.
type broadcaster interface {
	Broadcast(ev types.StateEvent)
	BroadcastChunk(chunk types.Chunk)
}

// dispatcher drains the controller sinks and fans events out to the event
// log, the archive, notifications and WebSocket clients. Any of the
// optional consumers may be nil.
type dispatcher struct {
	events  stateLogger
	archive archiver
	alerts  alerter
	clients broadcaster

	session   string // ID of the session seen last
	startedAt time.Time
	previous  types.SessionState
}

func newDispatcher(events stateLogger, archive archiver, alerts alerter, clients broadcaster) *dispatcher {
	return &dispatcher{
		events:   events,
		archive:  archive,
		alerts:   alerts,
		clients:  clients,
		previous: types.StateIdle,
	}
}

// run consumes both sinks until they are closed, then returns.
func (d *dispatcher) run(states <-chan types.StateEvent, chunks <-chan types.Chunk) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for ev := range states {
			d.handleState(ev)
		}
	}()
	go func() {
		defer wg.Done()
		for chunk := range chunks {
			if d.clients != nil {
				d.clients.BroadcastChunk(chunk)
			}
		}
	}()
	wg.Wait()
}

func (d *dispatcher) handleState(ev types.StateEvent) {
	if ev.SessionID != d.session {
		d.session = ev.SessionID
		d.startedAt = ev.Timestamp
		d.previous = types.StateIdle
	}
	previous := d.previous
	d.previous = ev.State

	switch ev.State {
	case types.StateStopped:
		slog.Info("session stopped", "session_id", ev.SessionID, "path", ev.Path,
			"duration", util.FormatDuration(ev.Timestamp.Sub(d.startedAt)))
	case types.StateFailed:
		slog.Error("session failed", "session_id", ev.SessionID, "error", ev.Error)
	default:
		slog.Info("session state changed", "session_id", ev.SessionID, "state", ev.State)
	}

	if d.events != nil {
		if err := d.events.LogState(ev, previous); err != nil {
			slog.Warn("failed to log session event", "error", err)
		}
	}
	if ev.State == types.StateStopped && ev.Path != "" && d.archive != nil {
		if err := d.archive.Enqueue(ev.SessionID, ev.Path); err != nil {
			slog.Error("failed to queue recording for upload", "session_id", ev.SessionID, "error", err)
		}
	}
	if d.alerts != nil {
		d.alerts.HandleState(ev)
	}
	if d.clients != nil {
		d.clients.Broadcast(ev)
	}
}
