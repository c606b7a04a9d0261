package server

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

func TestHubBroadcastsStateToAllClients(t *testing.T) {
	hub := NewHub()
	a := hub.Register(false)
	b := hub.Register(true)
	assert.Equal(t, 2, hub.Count())

	hub.BroadcastState(types.StateEvent{SessionID: "s1", State: types.StateRecording})

	for _, c := range []*Client{a, b} {
		msg := <-c.Send()
		state, ok := msg.(types.WSStateMessage)
		require.True(t, ok)
		assert.Equal(t, "state", state.Type)
		assert.Equal(t, types.StateRecording, state.Event.State)
	}
}

func TestHubChunksOnlyToAudioClients(t *testing.T) {
	hub := NewHub()
	plain := hub.Register(false)
	audio := hub.Register(true)

	hub.BroadcastChunk(types.Chunk{SessionID: "s1", Seq: 7, Data: []byte{1, 2, 3}})

	frame, ok := (<-audio.Send()).(BinaryFrame)
	require.True(t, ok)
	assert.Equal(t, uint64(7), binary.BigEndian.Uint64(frame))
	assert.Equal(t, []byte{1, 2, 3}, []byte(frame[8:]))
	assert.Empty(t, plain.Send())
}

func TestHubDropsForSlowClient(t *testing.T) {
	hub := NewHub()
	c := hub.Register(false)
	for range clientBuffer + 10 {
		hub.BroadcastAmplitude(types.SilentAmplitude())
	}
	assert.Len(t, c.Send(), clientBuffer)
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()
	c := hub.Register(false)
	hub.Unregister(c)
	hub.Unregister(c)

	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
	hub.BroadcastState(types.StateEvent{State: types.StateStopped})
	assert.Empty(t, c.Send())
	assert.Zero(t, hub.Count())
}

type recordingConn struct {
	json   []any
	binary [][]byte
}

func (c *recordingConn) Close() error      { return nil }
func (c *recordingConn) ReadJSON(any) error { return errors.New("closed") }

func (c *recordingConn) WriteJSON(v any) error {
	c.json = append(c.json, v)
	return nil
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.binary = append(c.binary, data)
	return nil
}

func TestWriteFrame(t *testing.T) {
	conn := &recordingConn{}
	require.NoError(t, WriteFrame(conn, BinaryFrame{9}))
	require.NoError(t, WriteFrame(conn, map[string]string{"type": "status"}))
	assert.Len(t, conn.binary, 1)
	assert.Len(t, conn.json, 1)
}
