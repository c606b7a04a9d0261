// Package types provides shared type definitions used across the capture service.
package types

import (
	"time"
)

// SessionState represents the lifecycle state of a capture session.
type SessionState string

const (
	// StateIdle indicates no session has been started.
	StateIdle SessionState = "idle"
	// StateRecording indicates audio is being captured.
	StateRecording SessionState = "recording"
	// StatePaused indicates capture is suspended without losing the stream.
	StatePaused SessionState = "paused"
	// StateStopped indicates the session ended through stop or cancel.
	StateStopped SessionState = "stopped"
	// StateFailed indicates the capture engine reported a failure.
	StateFailed SessionState = "failed"
)

// IsActive reports whether a session in this state still owns the engine.
func (s SessionState) IsActive() bool {
	return s == StateRecording || s == StatePaused
}

// IsTerminal reports whether the state ends a session.
func (s SessionState) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// AudioManagerMode is the device-wide audio routing mode.
type AudioManagerMode string

// Supported audio manager modes.
const (
	ModeNormal          AudioManagerMode = "normal"
	ModeRingtone        AudioManagerMode = "ringtone"
	ModeInCall          AudioManagerMode = "in_call"
	ModeInCommunication AudioManagerMode = "in_communication"
	ModeCallScreening   AudioManagerMode = "call_screening"
)

// IsValid reports whether m is a known audio manager mode.
func (m AudioManagerMode) IsValid() bool {
	switch m {
	case ModeNormal, ModeRingtone, ModeInCall, ModeInCommunication, ModeCallScreening:
		return true
	}
	return false
}

// Codec represents an audio codec for file output.
type Codec string

// Supported audio codecs.
const (
	CodecAAC  Codec = "aac"  // AAC in MPEG-4 container
	CodecMP3  Codec = "mp3"  // MPEG Audio Layer III
	CodecOpus Codec = "opus" // Opus in Ogg container
	CodecWAV  Codec = "wav"  // Uncompressed PCM
	CodecFLAC Codec = "flac" // Free Lossless Audio Codec
)

// CodecPreset defines FFmpeg encoding parameters for a codec.
type CodecPreset struct {
	Args        []string // FFmpeg codec arguments
	Format      string   // FFmpeg output format
	Extension   string   // File extension without dot
	ContentType string   // MIME type for uploads
}

// CodecPresets maps codec types to their FFmpeg configuration.
var CodecPresets = map[Codec]CodecPreset{
	CodecAAC:  {[]string{"aac", "-b:a", "128k"}, "ipod", "m4a", "audio/mp4"},
	CodecMP3:  {[]string{"libmp3lame", "-b:a", "192k"}, "mp3", "mp3", "audio/mpeg"},
	CodecOpus: {[]string{"libopus", "-b:a", "96k"}, "ogg", "opus", "audio/ogg"},
	CodecWAV:  {[]string{"pcm_s16le"}, "wav", "wav", "audio/wav"},
	CodecFLAC: {[]string{"flac"}, "flac", "flac", "audio/flac"},
}

// Preset returns the FFmpeg preset for c, falling back to AAC.
func (c Codec) Preset() CodecPreset {
	if preset, ok := CodecPresets[c]; ok {
		return preset
	}
	return CodecPresets[CodecAAC]
}

// Audio format defaults for PCM capture.
const (
	// DefaultSampleRate is the capture sample rate in Hz.
	DefaultSampleRate = 44100
	// DefaultChannels is the number of captured channels.
	DefaultChannels = 1
)

// SilenceFloorDB is the amplitude reported when no sample is available.
const SilenceFloorDB = -160.0

// Format holds capture format parameters. The session controller treats it as opaque.
type Format struct {
	SampleRate int    `json:"sample_rate" validate:"omitempty,gte=8000,lte=192000"`
	Channels   int    `json:"channels" validate:"omitempty,oneof=1 2"`
	Codec      Codec  `json:"codec" validate:"omitempty,oneof=aac mp3 opus wav flac"`
	Device     string `json:"device" validate:"omitempty,max=256"`
}

// SessionConfig is the immutable configuration of one capture session.
type SessionConfig struct {
	// Path is the output file. Empty selects stream-only mode (chunks only, no file).
	Path             string           `json:"path" validate:"omitempty,max=4096"`
	Format           Format           `json:"format"`
	MuteAudio        bool             `json:"mute_audio"`
	AudioManagerMode AudioManagerMode `json:"audio_manager_mode" validate:"omitempty,oneof=normal ringtone in_call in_communication call_screening"`
	Speakerphone     bool             `json:"speakerphone"`
}

// IsStreamOnly reports whether the session produces no output file.
func (c *SessionConfig) IsStreamOnly() bool {
	return c.Path == ""
}

// WithDefaults returns a copy of c with zero format fields filled in.
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.Format.SampleRate == 0 {
		c.Format.SampleRate = DefaultSampleRate
	}
	if c.Format.Channels == 0 {
		c.Format.Channels = DefaultChannels
	}
	if c.Format.Codec == "" {
		c.Format.Codec = CodecAAC
	}
	if c.AudioManagerMode == "" {
		c.AudioManagerMode = ModeNormal
	}
	return c
}

// StateEvent is emitted on the state sink whenever a session transitions.
type StateEvent struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Path      string       `json:"path,omitempty"`  // Output artifact (stopped only)
	Error     string       `json:"error,omitempty"` // Failure description (failed only)
	Timestamp time.Time    `json:"ts"`
}

// Chunk is a raw audio buffer emitted on the chunk sink.
type Chunk struct {
	SessionID string
	Seq       uint64
	Data      []byte
}

// AmplitudeSample is the live amplitude in dBFS.
type AmplitudeSample struct {
	Current float64 `json:"current"`
	Peak    float64 `json:"peak"` // Highest value since session start
}

// SilentAmplitude returns the sample reported when the engine is idle.
func SilentAmplitude() AmplitudeSample {
	return AmplitudeSample{Current: SilenceFloorDB, Peak: SilenceFloorDB}
}

// SessionStatus summarizes the controller for status queries.
type SessionStatus struct {
	SessionID string           `json:"session_id,omitempty"`
	State     SessionState     `json:"state"`
	Path      string           `json:"path,omitempty"` // Output target while active, artifact once stopped
	Duration  float64          `json:"duration,omitempty"` // Seconds since start
	Mode      AudioManagerMode `json:"mode,omitempty"`
	Muted     bool             `json:"muted"`
	Error     string           `json:"error,omitempty"`
}

// GraphConfig holds Microsoft Graph email settings.
type GraphConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	FromAddress  string `json:"from_address"`
	Recipients   string `json:"recipients"`
}

// IsConfigured reports whether every Graph field is set.
func (g *GraphConfig) IsConfigured() bool {
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" &&
		g.FromAddress != "" && g.Recipients != ""
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	UpdateAvail bool   `json:"update_available"`
}
