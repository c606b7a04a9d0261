package audio

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"time"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// deviceScanTimeout bounds a device listing run.
const deviceScanTimeout = 5 * time.Second

// Device is an audio input the host reports.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Format is the PCM layout a capture source writes to stdout.
// Samples are always signed 16-bit little-endian.
type Format struct {
	SampleRate int
	Channels   int
}

// Source is a resolved capture command for one session.
type Source struct {
	Command string
	Args    []string
	Device  string
}

// backend describes how a platform captures audio and lists its inputs.
type backend struct {
	command       string
	usesFFmpeg    bool
	defaultDevice string // empty means pick the first listed device
	args          func(device string, f Format) []string
	devices       deviceScanner
}

// ResolveSource returns the capture command for device on this platform.
// An empty device selects the platform default, or the first listed input
// where there is none. ffmpegPath replaces the bare "ffmpeg" command.
func ResolveSource(device, ffmpegPath string, f Format) (Source, error) {
	b := platform
	if device == "" {
		device = b.defaultDevice
	}
	if device == "" {
		devices := Devices()
		if len(devices) == 0 {
			return Source{}, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := b.command
	if b.usesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}
	return Source{Command: command, Args: b.args(device, f), Device: device}, nil
}

// Devices returns the audio inputs on this host, or the platform fallback
// list when detection fails.
func Devices() []Device {
	ctx, cancel := context.WithTimeout(context.Background(), deviceScanTimeout)
	defer cancel()
	return platform.devices.scan(ctx)
}

// ffmpegSourceArgs captures from an FFmpeg input device to raw PCM on stdout.
func ffmpegSourceArgs(inputFormat string) func(device string, f Format) []string {
	return func(device string, f Format) []string {
		args := []string{"-f", inputFormat, "-i", device}
		// Windows sources are stopped by writing 'q' to stdin.
		if runtime.GOOS != "windows" {
			args = append(args, "-nostdin")
		}
		return append(args,
			"-hide_banner",
			"-loglevel", "warning",
			"-vn",
			"-f", "s16le",
			"-ac", strconv.Itoa(f.Channels),
			"-ar", strconv.Itoa(f.SampleRate),
			"pipe:1",
		)
	}
}
