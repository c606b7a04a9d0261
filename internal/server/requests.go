package server

import (
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/archive"
	"github.com/oszuidwest/zwfm-capture/internal/config"
	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// Request types for WebSocket commands and the REST API with validation tags.

// --- Session ---

// SessionStartRequest is the request body for session/start.
// Unset fields fall back to the session defaults from the config file.
type SessionStartRequest struct {
	Filename         string                 `json:"filename" validate:"omitempty,max=255,excludesall=/\\"`
	StreamOnly       bool                   `json:"stream_only"`
	SampleRate       int                    `json:"sample_rate" validate:"omitempty,gte=8000,lte=192000"`
	Channels         int                    `json:"channels" validate:"omitempty,oneof=1 2"`
	Codec            types.Codec            `json:"codec" validate:"omitempty,oneof=aac mp3 opus wav flac"`
	Device           string                 `json:"device" validate:"omitempty,max=256"`
	MuteAudio        *bool                  `json:"mute_audio"`
	AudioManagerMode types.AudioManagerMode `json:"audio_manager_mode" validate:"omitempty,oneof=normal ringtone in_call in_communication call_screening"`
	Speakerphone     *bool                  `json:"speakerphone"`
}

// SessionConfig merges the request over the configured session defaults.
func (r *SessionStartRequest) SessionConfig(cfg *config.Snapshot, now time.Time) types.SessionConfig {
	sc := cfg.DefaultSession(now)

	if r.SampleRate != 0 {
		sc.Format.SampleRate = r.SampleRate
	}
	if r.Channels != 0 {
		sc.Format.Channels = r.Channels
	}
	if r.Device != "" {
		sc.Format.Device = r.Device
	}
	if r.Codec != "" {
		sc.Format.Codec = r.Codec
		sc.Path = filepath.Join(cfg.OutputDir, config.OutputFilename(now, r.Codec))
	}
	if r.MuteAudio != nil {
		sc.MuteAudio = *r.MuteAudio
	}
	if r.AudioManagerMode != "" {
		sc.AudioManagerMode = r.AudioManagerMode
	}
	if r.Speakerphone != nil {
		sc.Speakerphone = *r.Speakerphone
	}

	switch {
	case r.StreamOnly:
		sc.Path = ""
	case r.Filename != "":
		name := r.Filename
		if filepath.Ext(name) == "" {
			name += "." + sc.Format.Codec.Preset().Extension
		}
		sc.Path = filepath.Join(cfg.OutputDir, name)
	}
	return sc
}

// SessionStopRequest is the request body for session/stop.
type SessionStopRequest struct {
	// Wait delays the result until the output file is finalized.
	Wait bool `json:"wait"`
}

// --- Archive ---

// ArchiveTestRequest is the request body for archive/test.
type ArchiveTestRequest struct {
	Endpoint  string `json:"endpoint" validate:"omitempty,url,max=2048"`
	Bucket    string `json:"bucket" validate:"required,max=63"`
	AccessKey string `json:"access_key_id" validate:"required,max=128"`
	SecretKey string `json:"secret_access_key" validate:"required,max=256"`
}

// ArchiveConfig returns the archive configuration described by the request.
func (r *ArchiveTestRequest) ArchiveConfig() archive.Config {
	return archive.Config{
		Endpoint:        r.Endpoint,
		Bucket:          r.Bucket,
		AccessKeyID:     r.AccessKey,
		SecretAccessKey: r.SecretKey,
	}
}

// --- Event log ---

// EventsRequest selects a page of the event log.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=all session archive"`
}
