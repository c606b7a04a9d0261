package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-capture/internal/engine"
	"github.com/oszuidwest/zwfm-capture/internal/resource"
	"github.com/oszuidwest/zwfm-capture/internal/types"
)

const waitTimeout = 2 * time.Second

// fakeEngine is driven by the test: chunks and terminal events are injected explicitly.
type fakeEngine struct {
	mu          sync.Mutex
	events      chan engine.Event
	recording   bool
	paused      bool
	amplitude   float64
	startErr    error
	startCfg    types.SessionConfig
	stopCalls   int
	cancelCalls int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{amplitude: types.SilenceFloorDB}
}

func (f *fakeEngine) Start(cfg types.SessionConfig) (<-chan engine.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.startCfg = cfg
	f.events = make(chan engine.Event, 16)
	f.recording = true
	f.paused = false
	return f.events, nil
}

func (f *fakeEngine) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeEngine) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeEngine) Cancel() error {
	f.mu.Lock()
	f.cancelCalls++
	f.mu.Unlock()
	f.finish("")
	return nil
}

func (f *fakeEngine) IsRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording && !f.paused
}

func (f *fakeEngine) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording && f.paused
}

func (f *fakeEngine) Amplitude() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.amplitude
}

func (f *fakeEngine) setAmplitude(level float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amplitude = level
}

func (f *fakeEngine) chunk(data string) {
	f.events <- engine.Event{Kind: engine.EventChunk, Data: []byte(data)}
}

func (f *fakeEngine) finish(path string) {
	f.terminate(engine.Event{Kind: engine.EventFinished, Path: path})
}

func (f *fakeEngine) fail(err error) {
	f.terminate(engine.Event{Kind: engine.EventFailed, Err: err})
}

func (f *fakeEngine) terminate(ev engine.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return
	}
	f.recording = false
	f.events <- ev
	close(f.events)
}

type harness struct {
	ctrl   *Controller
	engine *fakeEngine
	sys    *resource.Virtual
	guard  *resource.Guard
}

func newHarness(t *testing.T, opts resource.VirtualOptions) *harness {
	t.Helper()
	if opts.InitialVolume == 0 {
		opts.InitialVolume = 70
	}
	sys := resource.NewVirtual(opts)
	guard := resource.NewGuard(sys, 40)
	eng := newFakeEngine()
	return &harness{
		ctrl:   NewController(eng, guard, Options{}),
		engine: eng,
		sys:    sys,
		guard:  guard,
	}
}

func (h *harness) nextState(t *testing.T) types.StateEvent {
	t.Helper()
	select {
	case ev, ok := <-h.ctrl.States():
		require.True(t, ok, "state channel closed")
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for state event")
		return types.StateEvent{}
	}
}

func (h *harness) nextChunk(t *testing.T) types.Chunk {
	t.Helper()
	select {
	case chunk := <-h.ctrl.Chunks():
		return chunk
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for chunk")
		return types.Chunk{}
	}
}

func waitCompletion(t *testing.T, comp *Completion) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	path, err := comp.Wait(ctx)
	require.NoError(t, err)
	return path
}

func (h *harness) assertVolumes(t *testing.T, want int) {
	t.Helper()
	for _, stream := range resource.AllStreams {
		assert.Equal(t, want, h.sys.Volume(stream), stream.String())
	}
}

func TestMutedSessionChunksThenStop(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})

	id, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/a.m4a", MuteAudio: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ev := h.nextState(t)
	assert.Equal(t, types.StateRecording, ev.State)
	assert.Equal(t, id, ev.SessionID)
	h.assertVolumes(t, resource.MuteLevel)

	h.engine.chunk("one")
	h.engine.chunk("two")
	h.engine.chunk("three")
	for i, want := range []string{"one", "two", "three"} {
		chunk := h.nextChunk(t)
		assert.Equal(t, want, string(chunk.Data))
		assert.Equal(t, uint64(i+1), chunk.Seq)
		assert.Equal(t, id, chunk.SessionID)
	}

	comp, err := h.ctrl.Stop()
	require.NoError(t, err)
	h.engine.finish("/tmp/a.m4a")

	ev = h.nextState(t)
	assert.Equal(t, types.StateStopped, ev.State)
	assert.Equal(t, "/tmp/a.m4a", ev.Path)
	// Unmute happens before Stopped is published.
	h.assertVolumes(t, 70)

	assert.Equal(t, "/tmp/a.m4a", waitCompletion(t, comp))
	assert.False(t, h.ctrl.IsRecording())

	select {
	case extra := <-h.ctrl.States():
		t.Fatalf("unexpected extra state event: %+v", extra)
	default:
	}
}

func TestPauseResumeStop(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})

	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/b.m4a"})
	require.NoError(t, err)
	assert.Equal(t, types.StateRecording, h.nextState(t).State)

	require.NoError(t, h.ctrl.Pause())
	assert.Equal(t, types.StatePaused, h.nextState(t).State)
	assert.True(t, h.ctrl.IsPaused())
	assert.ErrorIs(t, h.ctrl.Pause(), types.ErrInvalidTransition)

	require.NoError(t, h.ctrl.Resume())
	assert.Equal(t, types.StateRecording, h.nextState(t).State)
	assert.True(t, h.ctrl.IsRecording())
	assert.ErrorIs(t, h.ctrl.Resume(), types.ErrInvalidTransition)

	comp, err := h.ctrl.Stop()
	require.NoError(t, err)
	h.engine.finish("/tmp/b.m4a")

	ev := h.nextState(t)
	assert.Equal(t, types.StateStopped, ev.State)
	assert.Equal(t, "/tmp/b.m4a", waitCompletion(t, comp))
}

func TestConcurrentStopSharesCompletion(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/c.m4a"})
	require.NoError(t, err)

	const callers = 8
	comps := make([]*Completion, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			comp, err := h.ctrl.Stop()
			assert.NoError(t, err)
			comps[i] = comp
		}(i)
	}
	wg.Wait()

	for _, comp := range comps[1:] {
		assert.Same(t, comps[0], comp)
	}

	h.engine.finish("/tmp/c.m4a")
	assert.Equal(t, "/tmp/c.m4a", waitCompletion(t, comps[0]))
	assert.Equal(t, 1, h.engine.stopCalls)
}

func TestStopWithoutSession(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})

	comp, err := h.ctrl.Stop()
	assert.Nil(t, comp)
	assert.ErrorIs(t, err, types.ErrNoActiveSession)
	assert.ErrorIs(t, h.ctrl.Pause(), types.ErrNoActiveSession)
	assert.ErrorIs(t, h.ctrl.Cancel(), types.ErrNoActiveSession)
}

func TestCancelDeliversNoPath(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/d.m4a", MuteAudio: true})
	require.NoError(t, err)
	h.nextState(t)

	require.NoError(t, h.ctrl.Cancel())

	ev := h.nextState(t)
	assert.Equal(t, types.StateStopped, ev.State)
	assert.Empty(t, ev.Path)
	h.assertVolumes(t, 70)
}

func TestCancelDuringPendingStop(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/e.m4a"})
	require.NoError(t, err)
	h.nextState(t)

	comp, err := h.ctrl.Stop()
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Cancel())

	assert.Empty(t, waitCompletion(t, comp))
	ev := h.nextState(t)
	assert.Equal(t, types.StateStopped, ev.State)
	assert.Empty(t, ev.Path)
}

func TestAmplitudeBeforeStart(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})

	sample := h.ctrl.Amplitude()
	assert.Equal(t, types.SilenceFloorDB, sample.Current)
	assert.Equal(t, types.SilenceFloorDB, sample.Peak)
}

func TestPeakHoldsAndResetsOnStart(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{})
	require.NoError(t, err)

	last := types.SilenceFloorDB
	for _, level := range []float64{-40, -12, -30, -60, -6, -20} {
		h.engine.setAmplitude(level)
		sample := h.ctrl.Amplitude()
		assert.Equal(t, level, sample.Current)
		assert.GreaterOrEqual(t, sample.Peak, last)
		last = sample.Peak
	}
	assert.Equal(t, -6.0, last)

	comp, err := h.ctrl.Stop()
	require.NoError(t, err)
	h.engine.finish("")
	waitCompletion(t, comp)
	assert.Equal(t, types.SilentAmplitude(), h.ctrl.Amplitude())

	_, err = h.ctrl.Start(types.SessionConfig{})
	require.NoError(t, err)
	h.engine.setAmplitude(-50)
	assert.Equal(t, -50.0, h.ctrl.Amplitude().Peak)
}

func TestSpeakerphoneWithoutBuiltinSpeaker(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{NoSpeaker: true})

	_, err := h.ctrl.Start(types.SessionConfig{Speakerphone: true})
	require.NoError(t, err)

	assert.Equal(t, types.StateRecording, h.nextState(t).State)
	assert.Equal(t, 1, h.sys.FocusRequests())
	assert.True(t, h.guard.HasFocus())
	assert.Equal(t, types.ModeInCommunication, h.sys.Mode())
}

func TestStartAppliesAudioManagerMode(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})

	_, err := h.ctrl.Start(types.SessionConfig{AudioManagerMode: types.ModeInCall})
	require.NoError(t, err)
	assert.Equal(t, types.ModeInCall, h.sys.Mode())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})

	_, err := h.ctrl.Start(types.SessionConfig{AudioManagerMode: "loud"})
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "audio_manager_mode", verr.Errors[0].Field)

	assert.Equal(t, types.StateIdle, h.ctrl.Status().State)
	assert.False(t, h.guard.Muted())
}

func TestStartWhileActive(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{})
	require.NoError(t, err)

	_, err = h.ctrl.Start(types.SessionConfig{})
	assert.ErrorIs(t, err, types.ErrSessionActive)
}

func TestStartEngineError(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	h.engine.startErr = errors.New("no capture device")

	_, err := h.ctrl.Start(types.SessionConfig{MuteAudio: true})
	require.Error(t, err)
	assert.False(t, h.ctrl.IsRecording())
	assert.False(t, h.guard.Muted())
}

func TestFailureKeepsResourcesUntilStop(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/f.m4a", MuteAudio: true})
	require.NoError(t, err)
	h.nextState(t)

	pending, err := h.ctrl.Stop()
	require.NoError(t, err)
	h.engine.fail(errors.New("device unplugged"))

	ev := h.nextState(t)
	assert.Equal(t, types.StateFailed, ev.State)
	assert.Equal(t, "device unplugged", ev.Error)
	assert.Empty(t, waitCompletion(t, pending))

	assert.True(t, h.guard.Muted())
	h.assertVolumes(t, resource.MuteLevel)

	comp, err := h.ctrl.Stop()
	require.NoError(t, err)
	assert.Empty(t, waitCompletion(t, comp))
	h.assertVolumes(t, 70)
}

func TestStartAfterFailureRevertsMute(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/a.m4a", MuteAudio: true})
	require.NoError(t, err)
	h.nextState(t)

	h.engine.fail(errors.New("boom"))
	assert.Equal(t, types.StateFailed, h.nextState(t).State)
	h.assertVolumes(t, resource.MuteLevel)

	id, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/b.m4a"})
	require.NoError(t, err)
	assert.False(t, h.guard.Muted())
	h.assertVolumes(t, 70)
	assert.Equal(t, types.StateRecording, h.nextState(t).State)

	comp, err := h.ctrl.Stop()
	require.NoError(t, err)
	h.engine.finish("/tmp/b.m4a")

	ev := h.nextState(t)
	assert.Equal(t, types.StateStopped, ev.State)
	assert.Equal(t, id, ev.SessionID)
	assert.Equal(t, "/tmp/b.m4a", waitCompletion(t, comp))
	assert.False(t, h.guard.Muted())
	h.assertVolumes(t, 70)

	_, err = h.ctrl.Stop()
	assert.ErrorIs(t, err, types.ErrNoActiveSession)
}

func TestCancelAfterFailureRevertsMute(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/c.m4a", MuteAudio: true})
	require.NoError(t, err)
	h.nextState(t)

	h.engine.fail(errors.New("device unplugged"))
	assert.Equal(t, types.StateFailed, h.nextState(t).State)

	require.NoError(t, h.ctrl.Cancel())
	assert.False(t, h.guard.Muted())
	h.assertVolumes(t, 70)
	assert.Equal(t, types.StateFailed, h.ctrl.Status().State)
	assert.Equal(t, 0, h.engine.cancelCalls)

	// A second cleanup leaves a mute applied by someone else alone.
	require.NoError(t, h.guard.SetMuted(true))
	require.NoError(t, h.ctrl.Cancel())
	assert.True(t, h.guard.Muted())
}

func TestDisposeResolvesPendingStopWithEmptyPath(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/g.m4a", MuteAudio: true, Speakerphone: true})
	require.NoError(t, err)

	comp, err := h.ctrl.Stop()
	require.NoError(t, err)

	go func() {
		<-comp.Done()
		h.engine.finish("/tmp/g.m4a")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.ctrl.Dispose(ctx))

	assert.Empty(t, waitCompletion(t, comp))
	assert.False(t, h.guard.SpeakerOn())
	assert.False(t, h.sys.FocusHeld())
	assert.False(t, h.guard.Muted())
	assert.Equal(t, types.ModeNormal, h.sys.Mode())
	_, routed := h.sys.CommunicationDevice()
	assert.False(t, routed)
}

func TestDisposeWithoutSession(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})

	require.NoError(t, h.ctrl.Dispose(context.Background()))
	require.NoError(t, h.ctrl.Dispose(context.Background()))

	_, ok := <-h.ctrl.States()
	assert.False(t, ok)

	_, err := h.ctrl.Start(types.SessionConfig{})
	assert.ErrorIs(t, err, types.ErrDisposed)
	_, err = h.ctrl.Stop()
	assert.ErrorIs(t, err, types.ErrDisposed)
}

func TestDisposeActiveSessionStopsEngine(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	_, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/h.m4a"})
	require.NoError(t, err)

	go func() {
		for {
			h.engine.mu.Lock()
			stopped := h.engine.stopCalls > 0
			h.engine.mu.Unlock()
			if stopped {
				h.engine.finish("/tmp/h.m4a")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.ctrl.Dispose(ctx))
	assert.Equal(t, 1, h.engine.stopCalls)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, resource.VirtualOptions{})
	assert.Equal(t, types.StateIdle, h.ctrl.Status().State)

	id, err := h.ctrl.Start(types.SessionConfig{Path: "/tmp/i.m4a", MuteAudio: true})
	require.NoError(t, err)

	status := h.ctrl.Status()
	assert.Equal(t, id, status.SessionID)
	assert.Equal(t, types.StateRecording, status.State)
	assert.True(t, status.Muted)
	assert.Equal(t, types.ModeNormal, status.Mode)
	assert.Equal(t, "/tmp/i.m4a", status.Path)
}
