// Package ffmpeg provides shared FFmpeg process management utilities.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// Process represents a running FFmpeg subprocess.
type Process struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
	Stdin  io.WriteCloser
	Stderr *bytes.Buffer
}

// BaseInputArgs returns FFmpeg arguments for PCM audio input on stdin.
func BaseInputArgs(sampleRate, channels int) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
	}
}

// EncodeArgs returns the full argument list to encode PCM from stdin into path.
func EncodeArgs(format types.Format, path string) []string {
	preset := format.Codec.Preset()
	args := BaseInputArgs(format.SampleRate, format.Channels)
	args = append(args, "-c:a")
	args = append(args, preset.Args...)
	return append(args,
		"-f", preset.Format,
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		path,
	)
}

// StartProcess launches an FFmpeg subprocess.
func StartProcess(ffmpegPath string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close stdin pipe", "error", closeErr)
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &Process{
		Cmd:    cmd,
		Cancel: cancel,
		Stdin:  stdinPipe,
		Stderr: &stderr,
	}, nil
}

// ErrNotFound is returned when no usable FFmpeg binary exists.
var ErrNotFound = errors.New("ffmpeg not found")

// Resolve returns the FFmpeg binary to run. A configured path must resolve
// as-is, otherwise "ffmpeg" is looked up in PATH.
func Resolve(configured string) (string, error) {
	name := configured
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// Version returns the first line of `ffmpeg -version`, e.g. "ffmpeg version 7.1".
func Version(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	if i := strings.Index(line, " Copyright"); i > 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line), nil
}
