// Package engine defines the capture engine boundary driven by the session
// controller, and an FFmpeg-backed implementation of it.
package engine

import (
	"errors"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// Sentinel errors for engine operations.
var (
	// ErrAlreadyRecording is returned when Start is called while a capture is running.
	ErrAlreadyRecording = errors.New("engine is already recording")

	// ErrNotRecording is returned when there is no capture to act on, or it already finished.
	ErrNotRecording = errors.New("engine is not recording")
)

// EventKind identifies an engine event.
type EventKind string

const (
	// EventChunk carries a raw PCM buffer.
	EventChunk EventKind = "chunk"
	// EventFinished signals stop-finished. Path is empty after cancel or in stream-only mode.
	EventFinished EventKind = "finished"
	// EventFailed signals that capture or encoding failed. Partial output has been removed.
	EventFailed EventKind = "failed"
)

// Event is emitted by a running capture. Chunks arrive in capture order;
// exactly one terminal event (finished or failed) is sent before the channel closes.
type Event struct {
	Kind EventKind
	Data []byte
	Path string
	Err  error
}

// IsTerminal reports whether the event ends the capture.
func (e Event) IsTerminal() bool {
	return e.Kind == EventFinished || e.Kind == EventFailed
}

// CaptureEngine owns the hardware capture loop.
//
// Start returns immediately; the capture runs on its own goroutine and
// reports through the returned channel. Pause, Resume, Stop and Cancel
// request transitions without waiting for the engine to reach them.
type CaptureEngine interface {
	Start(cfg types.SessionConfig) (<-chan Event, error)
	Pause() error
	Resume() error
	Stop() error
	Cancel() error
	IsRecording() bool
	IsPaused() bool
	// Amplitude returns the latest level in dBFS, or types.SilenceFloorDB when no sample is available.
	Amplitude() float64
}
