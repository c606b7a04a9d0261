package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// MuteSnapshot holds pre-session volume levels, indexed by StreamType.
type MuteSnapshot struct {
	levels  [streamCount]int
	present [streamCount]bool
}

// Level returns the recorded level for stream and whether one was recorded.
func (s *MuteSnapshot) Level(stream StreamType) (int, bool) {
	if stream < 0 || stream >= streamCount {
		return 0, false
	}
	return s.levels[stream], s.present[stream]
}

// Guard applies and reverts system audio changes for a capture session.
//
// Every operation is idempotent and best-effort: a failing stream or
// device is logged, the rest still proceed, and the failure is returned
// as a *types.ResourceAcquisitionFailure for the caller to treat as advisory.
// Only one Guard should exist per process.
type Guard struct {
	sys         System
	route       router
	unmuteLevel int

	mu            sync.Mutex
	snapshot      MuteSnapshot
	snapshotStale bool
	muted         bool
	focus         *FocusToken
	speakerOn     bool
	originalMode  types.AudioManagerMode
	modeChanged   bool
}

// NewGuard creates a guard for sys and records the current stream volumes.
// unmuteLevel is used for streams without a snapshot entry; out-of-range values select DefaultUnmuteLevel.
func NewGuard(sys System, unmuteLevel int) *Guard {
	if unmuteLevel <= MuteLevel || unmuteLevel > MaxVolume {
		unmuteLevel = DefaultUnmuteLevel
	}
	g := &Guard{
		sys:         sys,
		route:       newRouter(sys),
		unmuteLevel: unmuteLevel,
	}
	if err := g.SnapshotMuteState(); err != nil {
		slog.Warn("incomplete mute snapshot", "error", err)
	}
	slog.Info("audio resource guard ready", "route", g.route.name(), "unmute_level", unmuteLevel)
	return g
}

// SnapshotMuteState records the current volume of every stream.
// Streams whose volume cannot be read are left without an entry.
func (g *Guard) SnapshotMuteState() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Guard) snapshotLocked() error {
	var snap MuteSnapshot
	var errs []error
	for _, stream := range AllStreams {
		level, err := g.sys.StreamVolume(stream)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", stream, err))
			continue
		}
		snap.levels[stream] = level
		snap.present[stream] = true
	}
	g.snapshot = snap
	g.snapshotStale = false
	return failure("volume snapshot", errs)
}

// Snapshot returns a copy of the recorded pre-session levels.
func (g *Guard) Snapshot() MuteSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot
}

// SetMuted mutes every stream, or restores each to its snapshot level.
// Muting twice has no further effect.
func (g *Guard) SetMuted(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on {
		return g.muteLocked()
	}
	return g.unmuteLocked()
}

func (g *Guard) muteLocked() error {
	if g.muted {
		return nil
	}
	var errs []error
	if g.snapshotStale {
		if err := g.snapshotLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, stream := range AllStreams {
		if err := g.sys.SetStreamVolume(stream, MuteLevel); err != nil {
			slog.Warn("failed to mute stream", "stream", stream, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", stream, err))
		}
	}
	g.muted = true
	return failure("mute", errs)
}

func (g *Guard) unmuteLocked() error {
	var errs []error
	for _, stream := range AllStreams {
		level, ok := g.snapshot.Level(stream)
		if !ok {
			level = g.unmuteLevel
		}
		if err := g.sys.SetStreamVolume(stream, level); err != nil {
			slog.Warn("failed to restore stream volume", "stream", stream, "level", level, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", stream, err))
		}
	}
	if g.muted {
		// Levels may change while unmuted; refresh before the next mute.
		g.snapshotStale = true
	}
	g.muted = false
	return failure("unmute", errs)
}

// Muted reports whether the guard currently holds the streams muted.
func (g *Guard) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// RequestFocus acquires voice-communication focus. A held token is returned as is.
func (g *Guard) RequestFocus() (FocusToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requestFocusLocked()
}

func (g *Guard) requestFocusLocked() (FocusToken, error) {
	if g.focus != nil {
		return *g.focus, nil
	}
	token, err := g.sys.RequestFocus()
	if err != nil {
		return FocusToken{}, &types.ResourceAcquisitionFailure{Resource: "audio focus", Err: err}
	}
	g.focus = &token
	slog.Debug("audio focus granted", "token", token.ID())
	return token, nil
}

// HasFocus reports whether a focus token is held.
func (g *Guard) HasFocus() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.focus != nil
}

// ReleaseFocus abandons the held focus token. It is a no-op when none is held.
func (g *Guard) ReleaseFocus() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releaseFocusLocked()
}

func (g *Guard) releaseFocusLocked() error {
	if g.focus == nil {
		return nil
	}
	token := *g.focus
	g.focus = nil
	if err := g.sys.AbandonFocus(token); err != nil {
		return &types.ResourceAcquisitionFailure{Resource: "audio focus release", Err: err}
	}
	return nil
}

// ApplyAudioManagerMode switches the device mode unless mode is normal or already current.
func (g *Guard) ApplyAudioManagerMode(mode types.AudioManagerMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if mode == "" || mode == types.ModeNormal {
		return nil
	}
	return g.setModeLocked(mode)
}

func (g *Guard) setModeLocked(mode types.AudioManagerMode) error {
	current := g.sys.Mode()
	if current == mode {
		return nil
	}
	if !g.modeChanged {
		g.originalMode = current
	}
	if err := g.sys.SetMode(mode); err != nil {
		return &types.ResourceAcquisitionFailure{Resource: "audio manager mode", Err: err}
	}
	g.modeChanged = true
	return nil
}

// RestoreMode puts back the mode that was current before the guard first changed it.
func (g *Guard) RestoreMode() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.modeChanged {
		return nil
	}
	if err := g.sys.SetMode(g.originalMode); err != nil {
		return &types.ResourceAcquisitionFailure{Resource: "audio manager mode restore", Err: err}
	}
	g.modeChanged = false
	return nil
}

// ForceSpeakerRoute routes communication audio to the built-in speaker, or back.
// Enabling requests focus and switches to in-communication mode first; a device
// without a built-in speaker is not an error. Disabling when never enabled is a no-op.
func (g *Guard) ForceSpeakerRoute(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !on {
		if !g.speakerOn {
			return nil
		}
		g.speakerOn = false
		if err := g.route.disable(); err != nil {
			return &types.ResourceAcquisitionFailure{Resource: "speaker route", Err: err}
		}
		return nil
	}

	var errs []error
	if _, err := g.requestFocusLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := g.setModeLocked(types.ModeInCommunication); err != nil {
		errs = append(errs, err)
	}
	if err := g.route.enable(); err != nil {
		errs = append(errs, &types.ResourceAcquisitionFailure{Resource: "speaker route", Err: err})
	}
	g.speakerOn = true
	return errors.Join(errs...)
}

// SpeakerOn reports whether the speaker route is forced.
func (g *Guard) SpeakerOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speakerOn
}

// Release reverts everything the guard holds: speaker route, focus, mode and mute.
func (g *Guard) Release() error {
	var errs []error
	if err := g.ForceSpeakerRoute(false); err != nil {
		errs = append(errs, err)
	}
	if err := g.ReleaseFocus(); err != nil {
		errs = append(errs, err)
	}
	if err := g.RestoreMode(); err != nil {
		errs = append(errs, err)
	}
	if g.Muted() {
		if err := g.SetMuted(false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func failure(resource string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &types.ResourceAcquisitionFailure{Resource: resource, Err: errors.Join(errs...)}
}
