// Package resource makes system-wide audio changes made for a capture
// session reversible: stream mute, audio focus, speaker routing and the
// audio manager mode.
package resource

import (
	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// StreamType identifies a system audio stream.
type StreamType int

// Fixed stream set, in snapshot order.
const (
	StreamAlarm StreamType = iota
	StreamDTMF
	StreamMusic
	StreamNotification
	StreamRing
	StreamSystem
	StreamVoiceCall

	streamCount
)

// AllStreams lists every stream the guard mutes and restores.
var AllStreams = [streamCount]StreamType{
	StreamAlarm,
	StreamDTMF,
	StreamMusic,
	StreamNotification,
	StreamRing,
	StreamSystem,
	StreamVoiceCall,
}

var streamNames = [streamCount]string{
	"alarm",
	"dtmf",
	"music",
	"notification",
	"ring",
	"system",
	"voice_call",
}

func (s StreamType) String() string {
	if s < 0 || s >= streamCount {
		return "unknown"
	}
	return streamNames[s]
}

// Volume levels.
const (
	MuteLevel          = 0
	MaxVolume          = 100
	DefaultUnmuteLevel = 50
)

// DeviceType classifies an output device.
type DeviceType string

// Output device types.
const (
	DeviceBuiltinSpeaker  DeviceType = "builtin_speaker"
	DeviceBuiltinEarpiece DeviceType = "builtin_earpiece"
	DeviceWiredHeadset    DeviceType = "wired_headset"
	DeviceBluetoothSCO    DeviceType = "bluetooth_sco"
)

// OutputDevice is a device that can carry communication audio.
type OutputDevice struct {
	ID   int        `json:"id"`
	Type DeviceType `json:"type"`
	Name string     `json:"name"`
}

// FocusToken is an opaque handle for granted audio focus.
type FocusToken struct {
	id uint64
}

// NewFocusToken wraps a system-issued focus identifier.
func NewFocusToken(id uint64) FocusToken {
	return FocusToken{id: id}
}

// ID returns the system-issued identifier.
func (t FocusToken) ID() uint64 {
	return t.id
}

// System is the operating system audio manager.
type System interface {
	StreamVolume(stream StreamType) (int, error)
	SetStreamVolume(stream StreamType, level int) error

	// RequestFocus asks for voice-communication focus. It returns types.ErrFocusDenied when declined.
	RequestFocus() (FocusToken, error)
	AbandonFocus(token FocusToken) error

	Mode() types.AudioManagerMode
	SetMode(mode types.AudioManagerMode) error

	// SupportsCommunicationDevice reports whether explicit communication device selection is available.
	// When false, routing falls back to the speakerphone flag.
	SupportsCommunicationDevice() bool
	CommunicationDevices() []OutputDevice
	SetCommunicationDevice(device OutputDevice) error
	ClearCommunicationDevice() error
	SetSpeakerphone(on bool) error
}
