// Package session orchestrates a single capture session: it drives the
// capture engine, applies and reverts system audio resources at the right
// lifecycle points, and publishes state and chunk events.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-capture/internal/audio"
	"github.com/oszuidwest/zwfm-capture/internal/engine"
	"github.com/oszuidwest/zwfm-capture/internal/resource"
	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// Default sink capacities.
const (
	DefaultStateBuffer = 32
	DefaultChunkBuffer = 256
)

// Options configures a Controller.
type Options struct {
	StateBuffer int
	ChunkBuffer int
}

// Controller owns at most one capture session at a time.
//
// Lifecycle operations are serialized. Engine events are consumed on a
// per-session goroutine and published on the States and Chunks channels;
// both are fire-and-forget and drop messages when the reader falls behind.
// Only one Controller should exist per process, since the guard changes
// process-wide audio state.
type Controller struct {
	engine engine.CaptureEngine
	guard  *resource.Guard
	peak   *audio.SessionPeak

	states chan types.StateEvent
	chunks chan types.Chunk

	// opMu serializes lifecycle operations.
	opMu sync.Mutex

	// mu guards the fields below.
	mu       sync.Mutex
	current  *activeSession
	disposed bool
	closed   bool // sinks closed
}

// activeSession is the state of one start-to-stop lifecycle.
type activeSession struct {
	id         string
	cfg        types.SessionConfig
	state      types.SessionState
	startedAt  time.Time
	endedAt    time.Time
	path       string
	err        error
	completion *Completion
	seq        uint64
	released   bool          // failed session's mute already reverted
	done       chan struct{} // closed when the event watcher exits
}

// NewController creates a controller driving eng and guard.
func NewController(eng engine.CaptureEngine, guard *resource.Guard, opts Options) *Controller {
	if opts.StateBuffer <= 0 {
		opts.StateBuffer = DefaultStateBuffer
	}
	if opts.ChunkBuffer <= 0 {
		opts.ChunkBuffer = DefaultChunkBuffer
	}
	return &Controller{
		engine: eng,
		guard:  guard,
		peak:   audio.NewSessionPeak(),
		states: make(chan types.StateEvent, opts.StateBuffer),
		chunks: make(chan types.Chunk, opts.ChunkBuffer),
	}
}

// States returns the state sink. It is closed by Dispose.
func (c *Controller) States() <-chan types.StateEvent {
	return c.states
}

// Chunks returns the chunk sink. It is closed by Dispose.
func (c *Controller) Chunks() <-chan types.Chunk {
	return c.chunks
}

// Start begins a new session. It returns a *types.ConfigurationError for an
// invalid cfg and the engine's error if capture cannot start; in both cases
// no session is created. Resource changes requested by cfg are best-effort.
func (c *Controller) Start(cfg types.SessionConfig) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return "", types.ErrDisposed
	}
	prev := c.current
	if prev != nil && prev.state.IsActive() {
		c.mu.Unlock()
		return "", types.ErrSessionActive
	}
	prevFailed := prev != nil && prev.state == types.StateFailed
	c.mu.Unlock()

	if prevFailed {
		c.cleanupFailed(prev)
	}

	cfg = cfg.WithDefaults()
	if err := util.ValidateStruct(cfg); err != nil {
		return "", &types.ConfigurationError{Err: err}
	}

	events, err := c.engine.Start(cfg)
	if err != nil {
		return "", util.WrapError("start capture", err)
	}

	s := &activeSession{
		id:        uuid.NewString(),
		cfg:       cfg,
		state:     types.StateRecording,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	c.peak.Reset()

	c.acquireResources(s)

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	slog.Info("capture session started", "session_id", s.id, "path", cfg.Path,
		"mute", cfg.MuteAudio, "mode", cfg.AudioManagerMode, "speakerphone", cfg.Speakerphone)
	c.emit(types.StateEvent{SessionID: s.id, State: types.StateRecording})

	go c.watch(s, events)
	return s.id, nil
}

// acquireResources applies mute, mode and speaker routing in that order.
func (c *Controller) acquireResources(s *activeSession) {
	if s.cfg.MuteAudio {
		if err := c.guard.SetMuted(true); err != nil {
			slog.Warn("mute failed, continuing", "session_id", s.id, "error", err)
		}
	}
	if err := c.guard.ApplyAudioManagerMode(s.cfg.AudioManagerMode); err != nil {
		slog.Warn("audio manager mode not applied, continuing", "session_id", s.id, "error", err)
	}
	if s.cfg.Speakerphone {
		if err := c.guard.ForceSpeakerRoute(true); err != nil {
			slog.Warn("speaker route not applied, continuing", "session_id", s.id, "error", err)
		}
	}
}

// Pause suspends a recording session.
func (c *Controller) Pause() error {
	return c.transition(types.StateRecording, types.StatePaused, c.engine.Pause)
}

// Resume continues a paused session.
func (c *Controller) Resume() error {
	return c.transition(types.StatePaused, types.StateRecording, c.engine.Resume)
}

func (c *Controller) transition(from, to types.SessionState, apply func() error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s, err := c.active()
	if err != nil {
		return err
	}

	c.mu.Lock()
	state := s.state
	c.mu.Unlock()
	if state != from {
		return types.ErrInvalidTransition
	}

	if err := apply(); err != nil {
		return err
	}

	c.mu.Lock()
	if s.state != from {
		// The engine ended the session concurrently.
		c.mu.Unlock()
		return types.ErrNoActiveSession
	}
	s.state = to
	c.mu.Unlock()

	slog.Info("capture session state changed", "session_id", s.id, "state", to)
	c.emit(types.StateEvent{SessionID: s.id, State: to})
	return nil
}

// Stop asks the engine to flush and finalize the session. The returned
// completion resolves when the engine reports stop-finished. While a stop is
// pending, further calls return the same completion. After a failure, Stop
// reverts the session's mute and returns an already resolved completion.
func (c *Controller) Stop() (*Completion, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, types.ErrDisposed
	}
	s := c.current
	if s != nil && s.state == types.StateFailed {
		c.mu.Unlock()
		return c.cleanupFailed(s), nil
	}
	if s == nil || !s.state.IsActive() {
		c.mu.Unlock()
		return nil, types.ErrNoActiveSession
	}
	if s.completion != nil {
		comp := s.completion
		c.mu.Unlock()
		return comp, nil
	}
	comp := newCompletion()
	s.completion = comp
	c.mu.Unlock()

	if err := c.engine.Stop(); err != nil {
		// The engine is already finishing; the watcher resolves the completion.
		slog.Debug("engine stop request ignored", "session_id", s.id, "error", err)
	}
	slog.Info("capture session stopping", "session_id", s.id)
	return comp, nil
}

// cleanupFailed reverts the mute a failed session left in place and returns a
// completion already resolved with an empty path. Only the first call unmutes.
func (c *Controller) cleanupFailed(s *activeSession) *Completion {
	c.mu.Lock()
	unmute := s.cfg.MuteAudio && !s.released
	s.released = true
	c.mu.Unlock()

	if unmute && c.guard.Muted() {
		if err := c.guard.SetMuted(false); err != nil {
			slog.Warn("unmute after failure failed", "session_id", s.id, "error", err)
		} else {
			slog.Info("failed capture session released", "session_id", s.id)
		}
	}
	comp := newCompletion()
	comp.resolve("")
	return comp
}

// Cancel aborts the session and discards its output. The session ends as
// stopped without a path once the engine confirms. On a failed session it
// reverts the mute like Stop and the session stays failed.
func (c *Controller) Cancel() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if s := c.current; !c.disposed && s != nil && s.state == types.StateFailed {
		c.mu.Unlock()
		c.cleanupFailed(s)
		return nil
	}
	c.mu.Unlock()

	s, err := c.active()
	if err != nil {
		return err
	}

	if err := c.engine.Cancel(); err != nil {
		return util.WrapError("cancel capture", err)
	}
	slog.Info("capture session cancelling", "session_id", s.id)
	return nil
}

// Amplitude returns the live level and the session peak in dBFS.
// Without a running session both values are the silence floor.
func (c *Controller) Amplitude() types.AmplitudeSample {
	if c.engine.IsRecording() {
		current := c.engine.Amplitude()
		return types.AmplitudeSample{Current: current, Peak: c.peak.Update(current)}
	}
	if c.IsPaused() {
		return types.AmplitudeSample{Current: types.SilenceFloorDB, Peak: c.peak.Peak()}
	}
	return types.SilentAmplitude()
}

// IsRecording reports whether a session is recording.
func (c *Controller) IsRecording() bool {
	return c.currentState() == types.StateRecording
}

// IsPaused reports whether a session is paused.
func (c *Controller) IsPaused() bool {
	return c.currentState() == types.StatePaused
}

func (c *Controller) currentState() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return types.StateIdle
	}
	return c.current.state
}

// Status returns a summary of the current or most recent session.
func (c *Controller) Status() types.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := types.SessionStatus{State: types.StateIdle, Muted: c.guard.Muted()}
	s := c.current
	if s == nil {
		return status
	}

	status.SessionID = s.id
	status.State = s.state
	status.Path = s.path
	if s.state.IsActive() {
		status.Path = s.cfg.Path
	}
	status.Mode = s.cfg.AudioManagerMode
	if s.err != nil {
		status.Error = s.err.Error()
	}
	end := s.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	status.Duration = end.Sub(s.startedAt).Seconds()
	return status
}

// Dispose releases every resource the controller holds: speaker route and
// focus first, then the active session is stopped and any pending completion
// resolves with an empty path. It waits for the engine until ctx is done.
// The controller is unusable afterward.
func (c *Controller) Dispose(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	s := c.current
	c.mu.Unlock()

	var errs []error
	if err := c.guard.ForceSpeakerRoute(false); err != nil {
		errs = append(errs, err)
	}
	if err := c.guard.ReleaseFocus(); err != nil {
		errs = append(errs, err)
	}

	if s != nil {
		c.mu.Lock()
		active := s.state.IsActive()
		if active && s.completion == nil {
			s.completion = newCompletion()
		}
		comp := s.completion
		c.mu.Unlock()

		if active {
			comp.resolve("")
			if err := c.engine.Stop(); err != nil && !errors.Is(err, engine.ErrNotRecording) {
				errs = append(errs, err)
			}
		}

		select {
		case <-s.done:
		case <-ctx.Done():
			slog.Warn("capture engine did not finish before dispose deadline", "session_id", s.id)
			errs = append(errs, ctx.Err())
		}
	}

	// Covers failed sessions, which keep their resources.
	if err := c.guard.Release(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	c.closed = true
	close(c.states)
	close(c.chunks)
	c.mu.Unlock()

	slog.Info("session controller disposed")
	return errors.Join(errs...)
}

// active returns the running session.
func (c *Controller) active() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, types.ErrDisposed
	}
	if c.current == nil || !c.current.state.IsActive() {
		return nil, types.ErrNoActiveSession
	}
	return c.current, nil
}

// watch consumes engine events for s until the engine closes the channel.
func (c *Controller) watch(s *activeSession, events <-chan engine.Event) {
	defer close(s.done)

	terminal := false
	for ev := range events {
		if terminal {
			slog.Debug("engine event after session end ignored", "session_id", s.id, "kind", ev.Kind)
			continue
		}
		switch ev.Kind {
		case engine.EventChunk:
			c.forwardChunk(s, ev.Data)
		case engine.EventFinished:
			c.finish(s, ev.Path)
		case engine.EventFailed:
			c.fail(s, ev.Err)
		}
		terminal = ev.IsTerminal()
	}
	if !terminal {
		c.fail(s, errors.New("capture engine closed without a result"))
	}
}

func (c *Controller) forwardChunk(s *activeSession, data []byte) {
	c.mu.Lock()
	if s.state != types.StateRecording || c.closed {
		c.mu.Unlock()
		return
	}
	s.seq++
	chunk := types.Chunk{SessionID: s.id, Seq: s.seq, Data: data}
	select {
	case c.chunks <- chunk:
	default:
		slog.Warn("chunk dropped: channel full", "session_id", s.id, "seq", chunk.Seq)
	}
	c.mu.Unlock()
}

// finish handles stop-finished: unmute, resolve the completion, then publish Stopped.
func (c *Controller) finish(s *activeSession, path string) {
	if s.cfg.MuteAudio {
		if err := c.guard.SetMuted(false); err != nil {
			slog.Warn("unmute failed", "session_id", s.id, "error", err)
		}
	}

	c.mu.Lock()
	s.state = types.StateStopped
	s.path = path
	s.endedAt = time.Now()
	comp := s.completion
	c.mu.Unlock()

	if comp != nil {
		comp.resolve(path)
	}

	slog.Info("capture session stopped", "session_id", s.id, "path", path)
	c.emit(types.StateEvent{SessionID: s.id, State: types.StateStopped, Path: path})
}

// fail records an engine failure. Resources stay held until Stop, Cancel or Dispose.
func (c *Controller) fail(s *activeSession, err error) {
	failure := &types.CaptureFailure{SessionID: s.id, Err: err}

	c.mu.Lock()
	s.state = types.StateFailed
	s.err = failure
	s.endedAt = time.Now()
	comp := s.completion
	c.mu.Unlock()

	if comp != nil {
		comp.resolve("")
	}

	slog.Error("capture session failed", "session_id", s.id, "error", err)
	c.emit(types.StateEvent{SessionID: s.id, State: types.StateFailed, Error: err.Error()})
}

// emit publishes a state event without blocking.
func (c *Controller) emit(ev types.StateEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.states <- ev:
	default:
		slog.Warn("state event dropped: channel full", "session_id", ev.SessionID, "state", ev.State)
	}
}
