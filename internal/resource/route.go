package resource

import (
	"log/slog"
)

// router switches communication audio to the built-in speaker and back.
type router interface {
	enable() error
	disable() error
	name() string
}

// newRouter picks the routing strategy once, based on what the system supports.
func newRouter(sys System) router {
	if sys.SupportsCommunicationDevice() {
		return &deviceRoute{sys: sys}
	}
	return &legacyRoute{sys: sys}
}

// deviceRoute selects the speaker through explicit communication device selection.
type deviceRoute struct {
	sys System
}

func (r *deviceRoute) name() string { return "device" }

func (r *deviceRoute) enable() error {
	for _, dev := range r.sys.CommunicationDevices() {
		if dev.Type != DeviceBuiltinSpeaker {
			continue
		}
		return r.sys.SetCommunicationDevice(dev)
	}
	slog.Info("no built-in speaker available, keeping current route")
	return nil
}

func (r *deviceRoute) disable() error {
	return r.sys.ClearCommunicationDevice()
}

// legacyRoute toggles the speakerphone flag.
type legacyRoute struct {
	sys System
}

func (r *legacyRoute) name() string { return "legacy" }

func (r *legacyRoute) enable() error {
	return r.sys.SetSpeakerphone(true)
}

func (r *legacyRoute) disable() error {
	return r.sys.SetSpeakerphone(false)
}
