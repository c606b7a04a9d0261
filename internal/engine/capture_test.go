//go:build !windows

package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

const eventTimeout = 5 * time.Second

// fakeSource writes PCM until interrupted. FAKE_SOURCE_MODE=fail makes it
// report a device error and exit on its own.
const fakeSource = `#!/bin/sh
trap 'exit 0' INT
if [ "$FAKE_SOURCE_MODE" = fail ]; then
	printf 'pcmdata'
	echo "arecord: main:831: audio open error: No such device" >&2
	exit 1
fi
while :; do
	printf 'pcmdata'
	sleep 0.05
done
`

// fakeFFmpeg copies stdin to its output argument, then takes
// FAKE_FLUSH_DELAY seconds to exit. Invoked with pipe:1 it is a capture source.
const fakeFFmpeg = `#!/bin/sh
for last; do :; done
if [ "$last" = "pipe:1" ]; then
	exec "$(dirname "$0")/arecord"
fi
cat > "$last"
exec sleep "${FAKE_FLUSH_DELAY:-0}"
`

// newScriptedEngine returns an engine whose source and encoder are shell scripts.
func newScriptedEngine(t *testing.T) *FFmpegEngine {
	t.Helper()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "arecord"), []byte(fakeSource), 0o755))
	ffmpegPath := filepath.Join(bin, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpegPath, []byte(fakeFFmpeg), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	return NewFFmpegEngine(ffmpegPath)
}

func sessionConfig(path string) types.SessionConfig {
	return types.SessionConfig{Path: path, Format: types.Format{Device: "default"}}
}

// awaitChunk waits for the first chunk, which has then reached the encoder.
func awaitChunk(t *testing.T, events <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events closed before first chunk")
		require.Equal(t, EventChunk, ev.Kind, "unexpected event %+v", ev)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for first chunk")
	}
}

// awaitResult drains events and returns the terminal one.
func awaitResult(t *testing.T, events <-chan Event) Event {
	t.Helper()
	deadline := time.After(eventTimeout)
	var last Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				require.True(t, last.IsTerminal(), "events closed without a result")
				return last
			}
			last = ev
		case <-deadline:
			t.Fatal("timed out waiting for capture result")
			return Event{}
		}
	}
}

func TestStopFinalizesOutput(t *testing.T) {
	e := newScriptedEngine(t)
	final := filepath.Join(t.TempDir(), "take.m4a")

	events, err := e.Start(sessionConfig(final))
	require.NoError(t, err)
	awaitChunk(t, events)
	assert.True(t, e.IsRecording())

	require.NoError(t, e.Stop())

	ev := awaitResult(t, events)
	assert.Equal(t, EventFinished, ev.Kind)
	assert.Equal(t, final, ev.Path)
	assert.FileExists(t, final)
	assert.NoFileExists(t, final+partSuffix)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pcmdata")

	assert.False(t, e.IsRecording())
	assert.ErrorIs(t, e.Cancel(), ErrNotRecording)
	assert.FileExists(t, final)
}

func TestCancelDuringFlushDiscardsOutput(t *testing.T) {
	e := newScriptedEngine(t)
	t.Setenv("FAKE_FLUSH_DELAY", "5")
	final := filepath.Join(t.TempDir(), "take.m4a")

	events, err := e.Start(sessionConfig(final))
	require.NoError(t, err)
	awaitChunk(t, events)

	require.NoError(t, e.Stop())
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, e.Cancel())

	ev := awaitResult(t, events)
	assert.Equal(t, EventFinished, ev.Kind)
	assert.Empty(t, ev.Path)
	assert.NoFileExists(t, final)
	assert.NoFileExists(t, final+partSuffix)
}

func TestCancelAfterFinalizeIsRejected(t *testing.T) {
	e := NewFFmpegEngine("")
	c := &capture{disposition: dispositionStop, finalized: true}
	e.run = c

	assert.ErrorIs(t, e.Cancel(), ErrNotRecording)
	assert.Equal(t, dispositionStop, c.disposition)
}

func TestSourceExitFailsAndRemovesOutput(t *testing.T) {
	e := newScriptedEngine(t)
	t.Setenv("FAKE_SOURCE_MODE", "fail")
	final := filepath.Join(t.TempDir(), "take.m4a")

	events, err := e.Start(sessionConfig(final))
	require.NoError(t, err)

	ev := awaitResult(t, events)
	assert.Equal(t, EventFailed, ev.Kind)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "No such device")
	assert.NoFileExists(t, final)
	assert.NoFileExists(t, final+partSuffix)
	assert.False(t, e.IsRecording())
}

func TestStreamOnlyStop(t *testing.T) {
	e := newScriptedEngine(t)

	events, err := e.Start(sessionConfig(""))
	require.NoError(t, err)
	awaitChunk(t, events)

	_, err = e.Start(sessionConfig(""))
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	require.NoError(t, e.Stop())
	ev := awaitResult(t, events)
	assert.Equal(t, EventFinished, ev.Kind)
	assert.Empty(t, ev.Path)
}
