package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// commandTimeout bounds one audio control command.
const commandTimeout = 3 * time.Second

// runFunc runs an audio control command and returns its standard output.
type runFunc func(ctx context.Context, name string, args ...string) (string, error)

func execRun(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := util.ExtractLastError(string(exitErr.Stderr)); msg != "" {
				return "", fmt.Errorf("%s: %s", name, msg)
			}
		}
		return "", util.WrapError("run "+name, err)
	}
	return string(out), nil
}

// mixer drives the host's master output through a command-line tool.
// Desktop audio servers keep one master level, so every stream maps onto it.
type mixer interface {
	name() string
	// available reports whether the tool answers on this host.
	available(ctx context.Context) bool
	volume(ctx context.Context) (int, error)
	// setVolume mutes at MuteLevel and unmutes at any other level.
	setVolume(ctx context.Context, level int) error
	// outputs lists selectable output devices. errors.ErrUnsupported means
	// the tool cannot switch outputs.
	outputs(ctx context.Context) ([]OutputDevice, error)
	defaultOutput(ctx context.Context) (string, error)
	setDefaultOutput(ctx context.Context, name string) error
}

// host is the System backed by the platform audio server. Focus, mode and
// the speakerphone flag have no desktop equivalent and are kept in process.
type host struct {
	mixer    mixer
	local    *Virtual
	selector bool

	mu            sync.Mutex
	restoreOutput string // default output before a communication device was selected
}

// Detect returns the platform audio manager when one answers, and otherwise
// a Virtual manager built from opts. The returned name identifies the choice.
// opts.Legacy also forces speakerphone routing on the platform manager.
func Detect(opts VirtualOptions) (System, string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if m := platformMixer(execRun); m != nil && m.available(ctx) {
		return newHost(ctx, m, opts.Legacy), m.name()
	}
	return NewVirtual(opts), "virtual"
}

func newHost(ctx context.Context, m mixer, legacy bool) *host {
	h := &host{mixer: m, local: NewVirtual(VirtualOptions{})}
	if !legacy {
		_, err := m.outputs(ctx)
		h.selector = !errors.Is(err, errors.ErrUnsupported)
	}
	return h
}

func (h *host) StreamVolume(stream StreamType) (int, error) {
	if err := validStream(stream); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return h.mixer.volume(ctx)
}

func (h *host) SetStreamVolume(stream StreamType, level int) error {
	if err := validStream(stream); err != nil {
		return err
	}
	if level < MuteLevel || level > MaxVolume {
		return fmt.Errorf("volume %d out of range", level)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return h.mixer.setVolume(ctx, level)
}

func validStream(stream StreamType) error {
	if stream < 0 || stream >= streamCount {
		return fmt.Errorf("unknown stream %d", stream)
	}
	return nil
}

func (h *host) RequestFocus() (FocusToken, error) {
	return h.local.RequestFocus()
}

func (h *host) AbandonFocus(token FocusToken) error {
	return h.local.AbandonFocus(token)
}

func (h *host) Mode() types.AudioManagerMode {
	return h.local.Mode()
}

func (h *host) SetMode(mode types.AudioManagerMode) error {
	return h.local.SetMode(mode)
}

func (h *host) SupportsCommunicationDevice() bool {
	return h.selector
}

func (h *host) CommunicationDevices() []OutputDevice {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	devices, err := h.mixer.outputs(ctx)
	if err != nil {
		slog.Warn("failed to list output devices", "mixer", h.mixer.name(), "error", err)
		return nil
	}
	return devices
}

func (h *host) SetCommunicationDevice(device OutputDevice) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.restoreOutput == "" {
		current, err := h.mixer.defaultOutput(ctx)
		if err != nil {
			return err
		}
		h.restoreOutput = current
	}
	if err := h.mixer.setDefaultOutput(ctx, device.Name); err != nil {
		return err
	}
	slog.Info("output device selected", "device", device.Name, "previous", h.restoreOutput)
	return nil
}

func (h *host) ClearCommunicationDevice() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.restoreOutput == "" {
		return nil
	}
	if err := h.mixer.setDefaultOutput(ctx, h.restoreOutput); err != nil {
		return err
	}
	h.restoreOutput = ""
	return nil
}

func (h *host) SetSpeakerphone(on bool) error {
	return h.local.SetSpeakerphone(on)
}

// classifyOutput guesses a device type from an audio server device name.
func classifyOutput(name string) DeviceType {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "bluez"), strings.Contains(lower, "bluetooth"):
		return DeviceBluetoothSCO
	case strings.Contains(lower, "headset"), strings.Contains(lower, "headphone"),
		strings.Contains(lower, "usb"), strings.Contains(lower, "hdmi"):
		return DeviceWiredHeadset
	default:
		return DeviceBuiltinSpeaker
	}
}
