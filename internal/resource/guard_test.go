package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

func newTestGuard(t *testing.T, opts VirtualOptions) (*Guard, *Virtual) {
	t.Helper()
	if opts.InitialVolume == 0 {
		opts.InitialVolume = 70
	}
	sys := NewVirtual(opts)
	return NewGuard(sys, 40), sys
}

func TestSnapshotAtConstruction(t *testing.T) {
	g, _ := newTestGuard(t, VirtualOptions{})

	snap := g.Snapshot()
	for _, stream := range AllStreams {
		level, ok := snap.Level(stream)
		assert.True(t, ok, stream.String())
		assert.Equal(t, 70, level, stream.String())
	}
}

func TestSetMutedIsIdempotent(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{})

	require.NoError(t, g.SetMuted(true))
	require.NoError(t, g.SetMuted(true))
	for _, stream := range AllStreams {
		assert.Equal(t, MuteLevel, sys.Volume(stream))
	}

	// The snapshot must still hold pre-mute levels, not the muted ones.
	require.NoError(t, g.SetMuted(false))
	for _, stream := range AllStreams {
		assert.Equal(t, 70, sys.Volume(stream))
	}
	assert.False(t, g.Muted())
}

func TestUnmuteWithoutSnapshotUsesDefaultLevel(t *testing.T) {
	sys := NewVirtual(VirtualOptions{InitialVolume: 70, FailingStreams: []StreamType{StreamRing}})
	g := NewGuard(sys, 40)

	snapshot := g.Snapshot()
	_, ok := snapshot.Level(StreamRing)
	require.False(t, ok)

	// Ring cannot be written either; the other streams still proceed.
	err := g.SetMuted(false)
	var rf *types.ResourceAcquisitionFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, 70, sys.Volume(StreamMusic))
}

func TestUnmuteFallsBackWhenEntryMissing(t *testing.T) {
	sys := NewVirtual(VirtualOptions{InitialVolume: 70})
	g := &Guard{sys: sys, route: newRouter(sys), unmuteLevel: 40}

	require.NoError(t, g.SetMuted(false))
	for _, stream := range AllStreams {
		assert.Equal(t, 40, sys.Volume(stream))
	}
}

func TestSnapshotRefreshedBeforeNextMute(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{})

	require.NoError(t, g.SetMuted(true))
	require.NoError(t, g.SetMuted(false))

	// User changes a volume between sessions.
	require.NoError(t, sys.SetStreamVolume(StreamMusic, 90))

	require.NoError(t, g.SetMuted(true))
	require.NoError(t, g.SetMuted(false))
	assert.Equal(t, 90, sys.Volume(StreamMusic))
	assert.Equal(t, 70, sys.Volume(StreamAlarm))
}

func TestMutePartialFailureContinues(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{FailingStreams: []StreamType{StreamDTMF}})

	err := g.SetMuted(true)
	require.Error(t, err)
	assert.True(t, g.Muted())
	assert.Equal(t, MuteLevel, sys.Volume(StreamAlarm))
	assert.Equal(t, MuteLevel, sys.Volume(StreamVoiceCall))
}

func TestFocusLifecycle(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{})

	first, err := g.RequestFocus()
	require.NoError(t, err)
	second, err := g.RequestFocus()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, sys.FocusRequests())

	require.NoError(t, g.ReleaseFocus())
	require.NoError(t, g.ReleaseFocus())
	assert.False(t, g.HasFocus())
	assert.False(t, sys.FocusHeld())
}

func TestFocusDenied(t *testing.T) {
	g, _ := newTestGuard(t, VirtualOptions{DenyFocus: true})

	_, err := g.RequestFocus()
	assert.ErrorIs(t, err, types.ErrFocusDenied)
	assert.False(t, g.HasFocus())
}

func TestApplyAudioManagerMode(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{})

	require.NoError(t, g.ApplyAudioManagerMode(types.ModeNormal))
	require.NoError(t, g.ApplyAudioManagerMode(""))
	assert.Equal(t, types.ModeNormal, sys.Mode())

	require.NoError(t, g.ApplyAudioManagerMode(types.ModeInCall))
	assert.Equal(t, types.ModeInCall, sys.Mode())

	require.NoError(t, g.RestoreMode())
	assert.Equal(t, types.ModeNormal, sys.Mode())
}

func TestForceSpeakerRouteDevice(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{})

	require.NoError(t, g.ForceSpeakerRoute(true))
	dev, ok := sys.CommunicationDevice()
	require.True(t, ok)
	assert.Equal(t, DeviceBuiltinSpeaker, dev.Type)
	assert.Equal(t, types.ModeInCommunication, sys.Mode())
	assert.True(t, sys.FocusHeld())

	require.NoError(t, g.ForceSpeakerRoute(false))
	_, ok = sys.CommunicationDevice()
	assert.False(t, ok)
	assert.False(t, g.SpeakerOn())
}

func TestForceSpeakerRouteWithoutSpeaker(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{NoSpeaker: true})

	require.NoError(t, g.ForceSpeakerRoute(true))
	_, ok := sys.CommunicationDevice()
	assert.False(t, ok)
	assert.Equal(t, 1, sys.FocusRequests())
}

func TestForceSpeakerRouteLegacy(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{Legacy: true})
	assert.Equal(t, "legacy", g.route.name())

	require.NoError(t, g.ForceSpeakerRoute(true))
	assert.True(t, sys.Speakerphone())

	require.NoError(t, g.ForceSpeakerRoute(false))
	assert.False(t, sys.Speakerphone())
}

func TestDisableSpeakerNeverEnabledIsNoop(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{Legacy: true})
	require.NoError(t, sys.SetSpeakerphone(true))

	require.NoError(t, g.ForceSpeakerRoute(false))
	assert.True(t, sys.Speakerphone())
}

func TestForceSpeakerRouteFocusDeniedStillRoutes(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{DenyFocus: true})

	err := g.ForceSpeakerRoute(true)
	assert.ErrorIs(t, err, types.ErrFocusDenied)
	_, ok := sys.CommunicationDevice()
	assert.True(t, ok)
}

func TestRelease(t *testing.T) {
	g, sys := newTestGuard(t, VirtualOptions{})

	require.NoError(t, g.SetMuted(true))
	require.NoError(t, g.ForceSpeakerRoute(true))

	require.NoError(t, g.Release())
	assert.False(t, g.Muted())
	assert.False(t, g.HasFocus())
	assert.False(t, g.SpeakerOn())
	assert.Equal(t, types.ModeNormal, sys.Mode())
	assert.Equal(t, 70, sys.Volume(StreamRing))

	require.NoError(t, g.Release())
}

func TestStreamTypeString(t *testing.T) {
	assert.Equal(t, "voice_call", StreamVoiceCall.String())
	assert.Equal(t, "unknown", StreamType(42).String())
}
