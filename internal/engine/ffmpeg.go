package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/audio"
	"github.com/oszuidwest/zwfm-capture/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

const (
	// ShutdownTimeout is how long the capture source gets to exit after a graceful signal.
	ShutdownTimeout = 3000 * time.Millisecond
	// FlushTimeout bounds how long the encoder may take to finalize the output.
	FlushTimeout = 10 * time.Second
	// partSuffix marks output that is still being written.
	partSuffix = ".part"
	// eventBuffer is the per-capture event channel capacity.
	eventBuffer = 64
)

type disposition int

const (
	dispositionNone disposition = iota
	dispositionStop
	dispositionCancel
)

// FFmpegEngine captures PCM with the platform capture command and encodes it
// to a file with FFmpeg. It runs at most one capture at a time and is safe for concurrent use.
type FFmpegEngine struct {
	ffmpegPath string

	mu  sync.Mutex
	run *capture
}

// capture is one running start-to-finish capture.
type capture struct {
	cfg          types.SessionConfig
	source       *exec.Cmd
	sourceCancel context.CancelFunc
	stdout       io.ReadCloser
	stderr       *bytes.Buffer
	encoder      *ffmpeg.Process // nil in stream-only mode
	partPath     string
	events       chan Event

	paused    atomic.Bool
	amplitude atomic.Uint64 // math.Float64bits of the last level

	mu          sync.Mutex
	disposition disposition
	finalized   bool // output renamed into place; cancel can no longer win
}

// NewFFmpegEngine creates an engine using the given FFmpeg binary for encoding.
func NewFFmpegEngine(ffmpegPath string) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEngine{ffmpegPath: ffmpegPath}
}

// Start begins capturing with cfg.
func (e *FFmpegEngine) Start(cfg types.SessionConfig) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return nil, ErrAlreadyRecording
	}

	cfg = cfg.WithDefaults()
	c := &capture{
		cfg:    cfg,
		events: make(chan Event, eventBuffer),
	}
	c.amplitude.Store(math.Float64bits(types.SilenceFloorDB))

	if !cfg.IsStreamOnly() {
		if err := util.CheckPathWritable(filepath.Dir(cfg.Path)); err != nil {
			return nil, fmt.Errorf("output directory %s: %w", filepath.Dir(cfg.Path), err)
		}
		c.partPath = cfg.Path + partSuffix
		proc, err := ffmpeg.StartProcess(e.ffmpegPath, ffmpeg.EncodeArgs(cfg.Format, c.partPath))
		if err != nil {
			return nil, err
		}
		c.encoder = proc
	}

	if err := e.startSource(c); err != nil {
		if c.encoder != nil {
			c.encoder.Cancel()
			_ = c.encoder.Cmd.Wait() //nolint:errcheck // Process was killed
			discardOutput(c.partPath)
		}
		return nil, err
	}

	e.run = c
	go e.loop(c)

	slog.Info("capture started", "path", cfg.Path, "codec", cfg.Format.Codec,
		"sample_rate", cfg.Format.SampleRate, "channels", cfg.Format.Channels)
	return c.events, nil
}

// startSource launches the platform capture command writing PCM to stdout.
func (e *FFmpegEngine) startSource(c *capture) error {
	src, err := audio.ResolveSource(c.cfg.Format.Device, e.ffmpegPath, audio.Format{
		SampleRate: c.cfg.Format.SampleRate,
		Channels:   c.cfg.Format.Channels,
	})
	if err != nil {
		return err
	}
	slog.Debug("starting capture source", "command", src.Command, "device", src.Device)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, src.Command, src.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	// Declarative graceful shutdown: ask first, kill after WaitDelay.
	cmd.Cancel = func() error {
		return interruptSource(cmd.Process, stdin)
	}
	cmd.WaitDelay = ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start capture source: %w", err)
	}

	c.source = cmd
	c.sourceCancel = cancel
	c.stdout = stdout
	c.stderr = &stderr
	return nil
}

// Pause suspends chunk delivery and encoding; the source keeps running so no stream position is lost.
func (e *FFmpegEngine) Pause() error {
	c := e.current()
	if c == nil {
		return ErrNotRecording
	}
	c.paused.Store(true)
	return nil
}

// Resume continues chunk delivery and encoding after Pause.
func (e *FFmpegEngine) Resume() error {
	c := e.current()
	if c == nil {
		return ErrNotRecording
	}
	c.paused.Store(false)
	return nil
}

// Stop asks the source to exit and the encoder to flush. Completion is reported as EventFinished.
func (e *FFmpegEngine) Stop() error {
	c := e.current()
	if c == nil {
		return ErrNotRecording
	}

	c.mu.Lock()
	if c.disposition != dispositionNone {
		c.mu.Unlock()
		return nil
	}
	c.disposition = dispositionStop
	c.mu.Unlock()

	c.sourceCancel()
	return nil
}

// Cancel aborts the capture and discards any partial output.
// It wins over an in-flight Stop unless the output was already finalized.
func (e *FFmpegEngine) Cancel() error {
	c := e.current()
	if c == nil {
		return ErrNotRecording
	}

	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.disposition = dispositionCancel
	c.mu.Unlock()

	c.sourceCancel()
	if c.encoder != nil {
		c.encoder.Cancel()
	}
	return nil
}

// IsRecording reports whether a capture is running and not paused.
func (e *FFmpegEngine) IsRecording() bool {
	c := e.current()
	return c != nil && !c.paused.Load()
}

// IsPaused reports whether the running capture is paused.
func (e *FFmpegEngine) IsPaused() bool {
	c := e.current()
	return c != nil && c.paused.Load()
}

// Amplitude returns the peak level of the most recent buffer.
func (e *FFmpegEngine) Amplitude() float64 {
	c := e.current()
	if c == nil || c.paused.Load() {
		return types.SilenceFloorDB
	}
	return math.Float64frombits(c.amplitude.Load())
}

func (e *FFmpegEngine) current() *capture {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

// loop reads PCM from the source until it exits, then finalizes the output.
func (e *FFmpegEngine) loop(c *capture) {
	defer close(c.events)

	buf := make([]byte, chunkSize(c.cfg.Format))
	var writeErr error

	for {
		n, err := c.stdout.Read(buf)
		if n > 0 && !c.paused.Load() && !c.cancelled() {
			c.amplitude.Store(math.Float64bits(audio.BufferAmplitude(buf[:n])))
			data := bytes.Clone(buf[:n])

			if c.encoder != nil && writeErr == nil {
				if _, werr := c.encoder.Stdin.Write(data); werr != nil {
					writeErr = werr
					slog.Error("encoder write failed, stopping capture", "error", werr)
					c.sourceCancel()
				}
			}
			c.events <- Event{Kind: EventChunk, Data: data}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("capture read error", "error", err)
			}
			break
		}
	}

	sourceErr := c.source.Wait()
	c.sourceCancel()

	result := c.finish(sourceErr, writeErr)

	e.mu.Lock()
	if e.run == c {
		e.run = nil
	}
	e.mu.Unlock()

	c.events <- result
}

func (c *capture) cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposition == dispositionCancel
}

// finish flushes or discards the output according to how the capture ended.
func (c *capture) finish(sourceErr, writeErr error) Event {
	c.mu.Lock()
	disp := c.disposition
	c.mu.Unlock()

	if disp == dispositionNone && writeErr == nil {
		// The source exited without being asked to.
		c.abortEncoder()
		return Event{Kind: EventFailed, Err: c.sourceFailure(sourceErr)}
	}
	if writeErr != nil && disp != dispositionCancel {
		c.abortEncoder()
		return Event{Kind: EventFailed, Err: util.WrapError("write to encoder", writeErr)}
	}
	if disp == dispositionCancel {
		c.abortEncoder()
		slog.Info("capture cancelled, output discarded", "path", c.cfg.Path)
		return Event{Kind: EventFinished}
	}

	if c.encoder == nil {
		slog.Info("capture stopped", "mode", "stream")
		return Event{Kind: EventFinished}
	}

	flushErr := c.flushEncoder()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposition == dispositionCancel {
		discardOutput(c.partPath)
		slog.Info("capture cancelled during flush, output discarded", "path", c.cfg.Path)
		return Event{Kind: EventFinished}
	}
	if flushErr != nil {
		discardOutput(c.partPath)
		return Event{Kind: EventFailed, Err: flushErr}
	}
	if err := finalizeOutput(c.partPath, c.cfg.Path); err != nil {
		discardOutput(c.partPath)
		return Event{Kind: EventFailed, Err: err}
	}
	c.finalized = true

	slog.Info("capture stopped", "path", c.cfg.Path)
	return Event{Kind: EventFinished, Path: c.cfg.Path}
}

// flushEncoder closes the encoder input and waits for it to write the trailer.
func (c *capture) flushEncoder() error {
	if err := c.encoder.Stdin.Close(); err != nil {
		slog.Warn("failed to close encoder stdin", "error", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.encoder.Cmd.Wait()
	}()

	select {
	case err := <-done:
		c.encoder.Cancel()
		if err != nil {
			if msg := util.ExtractLastError(c.encoder.Stderr.String()); msg != "" {
				return fmt.Errorf("encoder: %s", msg)
			}
			return util.WrapError("finalize output", err)
		}
		return nil
	case <-time.After(FlushTimeout):
		slog.Warn("encoder did not finish in time, killing")
		c.encoder.Cancel()
		<-done
		return fmt.Errorf("encoder flush timed out after %s", FlushTimeout)
	}
}

// abortEncoder kills the encoder and removes its partial output.
func (c *capture) abortEncoder() {
	if c.encoder == nil {
		return
	}
	c.encoder.Cancel()
	_ = c.encoder.Stdin.Close() //nolint:errcheck // Process is being killed
	_ = c.encoder.Cmd.Wait()    //nolint:errcheck // Exit status of a killed process is irrelevant
	discardOutput(c.partPath)
}

// sourceFailure describes an unexpected source exit.
func (c *capture) sourceFailure(err error) error {
	if msg := util.ExtractLastError(c.stderr.String()); msg != "" {
		return fmt.Errorf("capture source: %s", msg)
	}
	if err != nil {
		return util.WrapError("run capture source", err)
	}
	return errors.New("capture source exited unexpectedly")
}

// chunkSize returns the buffer size for roughly 100ms of audio.
func chunkSize(format types.Format) int {
	size := format.SampleRate * format.Channels * 2 / 10
	return max(size, 512)
}

// finalizeOutput moves a fully flushed part file to its final path.
func finalizeOutput(partPath, finalPath string) error {
	info, err := os.Stat(partPath)
	if err != nil {
		return util.WrapError("stat output", err)
	}
	if info.Size() == 0 {
		return errors.New("encoder produced an empty file")
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return util.WrapError("finalize output", err)
	}
	return nil
}

// discardOutput removes a partial output file if present.
func discardOutput(partPath string) {
	if partPath == "" {
		return
	}
	if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove partial output", "path", partPath, "error", err)
	}
}
