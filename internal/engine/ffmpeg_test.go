package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

func TestFinalizeOutput(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "a.m4a")
	part := final + partSuffix
	require.NoError(t, os.WriteFile(part, []byte("encoded"), 0o644))

	require.NoError(t, finalizeOutput(part, final))

	assert.FileExists(t, final)
	assert.NoFileExists(t, part)
}

func TestFinalizeOutputRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "a.m4a")
	part := final + partSuffix
	require.NoError(t, os.WriteFile(part, nil, 0o644))

	require.Error(t, finalizeOutput(part, final))
	assert.NoFileExists(t, final)
}

func TestFinalizeOutputMissingPart(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, finalizeOutput(filepath.Join(dir, "missing.part"), filepath.Join(dir, "missing")))
}

func TestDiscardOutput(t *testing.T) {
	dir := t.TempDir()
	part := filepath.Join(dir, "a.m4a"+partSuffix)
	require.NoError(t, os.WriteFile(part, []byte("partial"), 0o644))

	discardOutput(part)
	assert.NoFileExists(t, part)

	// Missing files and empty paths are ignored.
	discardOutput(part)
	discardOutput("")
}

func TestChunkSize(t *testing.T) {
	tests := []struct {
		name   string
		format types.Format
		want   int
	}{
		{"mono 44.1k", types.Format{SampleRate: 44100, Channels: 1}, 8820},
		{"stereo 48k", types.Format{SampleRate: 48000, Channels: 2}, 19200},
		{"tiny rate clamps", types.Format{SampleRate: 1000, Channels: 1}, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkSize(tt.format))
		})
	}
}

func TestIdleEngine(t *testing.T) {
	e := NewFFmpegEngine("")

	assert.False(t, e.IsRecording())
	assert.False(t, e.IsPaused())
	assert.Equal(t, types.SilenceFloorDB, e.Amplitude())

	assert.ErrorIs(t, e.Pause(), ErrNotRecording)
	assert.ErrorIs(t, e.Resume(), ErrNotRecording)
	assert.ErrorIs(t, e.Stop(), ErrNotRecording)
	assert.ErrorIs(t, e.Cancel(), ErrNotRecording)
}

func TestEventIsTerminal(t *testing.T) {
	assert.False(t, Event{Kind: EventChunk}.IsTerminal())
	assert.True(t, Event{Kind: EventFinished}.IsTerminal())
	assert.True(t, Event{Kind: EventFailed}.IsTerminal())
}
