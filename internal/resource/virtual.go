package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// ErrStreamUnavailable is returned by Virtual for streams configured to fail.
var ErrStreamUnavailable = errors.New("stream unavailable")

// VirtualOptions configures a Virtual audio manager.
type VirtualOptions struct {
	// InitialVolume is the starting level of every stream.
	InitialVolume int
	// Legacy disables communication device selection.
	Legacy bool
	// NoSpeaker omits the built-in speaker from the device list.
	NoSpeaker bool
	// DenyFocus makes every focus request fail.
	DenyFocus bool
	// FailingStreams cannot be read or written.
	FailingStreams []StreamType
}

// Virtual is an in-process audio manager for hosts without a platform audio
// manager. It keeps volumes, focus, mode and routing in memory.
type Virtual struct {
	opts VirtualOptions

	mu            sync.Mutex
	volumes       [streamCount]int
	failing       [streamCount]bool
	mode          types.AudioManagerMode
	focusHolder   uint64
	nextFocus     uint64
	focusRequests int
	device        *OutputDevice
	speakerphone  bool
}

// NewVirtual creates a virtual audio manager in normal mode.
func NewVirtual(opts VirtualOptions) *Virtual {
	v := &Virtual{
		opts: opts,
		mode: types.ModeNormal,
	}
	for _, stream := range AllStreams {
		v.volumes[stream] = opts.InitialVolume
	}
	for _, stream := range opts.FailingStreams {
		if stream >= 0 && stream < streamCount {
			v.failing[stream] = true
		}
	}
	return v
}

func (v *Virtual) StreamVolume(stream StreamType) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStream(stream); err != nil {
		return 0, err
	}
	return v.volumes[stream], nil
}

func (v *Virtual) SetStreamVolume(stream StreamType, level int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStream(stream); err != nil {
		return err
	}
	if level < MuteLevel || level > MaxVolume {
		return fmt.Errorf("volume %d out of range", level)
	}
	v.volumes[stream] = level
	return nil
}

func (v *Virtual) checkStream(stream StreamType) error {
	if stream < 0 || stream >= streamCount {
		return fmt.Errorf("unknown stream %d", stream)
	}
	if v.failing[stream] {
		return fmt.Errorf("%s: %w", stream, ErrStreamUnavailable)
	}
	return nil
}

func (v *Virtual) RequestFocus() (FocusToken, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focusRequests++
	if v.opts.DenyFocus {
		return FocusToken{}, types.ErrFocusDenied
	}
	v.nextFocus++
	v.focusHolder = v.nextFocus
	return NewFocusToken(v.focusHolder), nil
}

func (v *Virtual) AbandonFocus(token FocusToken) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.focusHolder != token.ID() {
		return fmt.Errorf("focus token %d is not held", token.ID())
	}
	v.focusHolder = 0
	return nil
}

func (v *Virtual) Mode() types.AudioManagerMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

func (v *Virtual) SetMode(mode types.AudioManagerMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("unknown audio manager mode %q", mode)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = mode
	return nil
}

func (v *Virtual) SupportsCommunicationDevice() bool {
	return !v.opts.Legacy
}

func (v *Virtual) CommunicationDevices() []OutputDevice {
	devices := []OutputDevice{
		{ID: 1, Type: DeviceBuiltinEarpiece, Name: "Earpiece"},
	}
	if !v.opts.NoSpeaker {
		devices = append(devices, OutputDevice{ID: 2, Type: DeviceBuiltinSpeaker, Name: "Speaker"})
	}
	return devices
}

func (v *Virtual) SetCommunicationDevice(device OutputDevice) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.device = &device
	return nil
}

func (v *Virtual) ClearCommunicationDevice() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.device = nil
	return nil
}

func (v *Virtual) SetSpeakerphone(on bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speakerphone = on
	return nil
}

// Volume returns the current level of stream, ignoring failure configuration.
func (v *Virtual) Volume(stream StreamType) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volumes[stream]
}

// CommunicationDevice returns the explicitly selected device, if any.
func (v *Virtual) CommunicationDevice() (OutputDevice, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.device == nil {
		return OutputDevice{}, false
	}
	return *v.device, true
}

// Speakerphone returns the speakerphone flag.
func (v *Virtual) Speakerphone() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speakerphone
}

// FocusHeld reports whether any focus token is outstanding.
func (v *Virtual) FocusHeld() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focusHolder != 0
}

// FocusRequests returns how many focus requests were made, granted or not.
func (v *Virtual) FocusRequests() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focusRequests
}
