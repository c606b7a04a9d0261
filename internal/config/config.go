// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/archive"
	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort     = 8080
	DefaultStationName = "ZuidWest FM"
	DefaultOutputDir   = "/tmp/capture-recordings"
	DefaultUnmuteLevel = 50
	DefaultVolume      = 70
)

// Station name: any printable characters except control chars (blocks CRLF injection in emails)
var stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`                                // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" validate:"gte=1,lte=65535"`            // HTTP server port
	APIKey     string `json:"api_key" validate:"omitempty,min=16,max=64"` // API key for session control

	AllowedOrigins []string `json:"allowed_origins,omitempty" validate:"dive,url"` // Extra WebSocket origins beyond same-host and LAN
}

// StationConfig holds station identification used in notifications.
type StationConfig struct {
	Name string `json:"name"` // Station display name
}

// AudioConfig holds capture device and output settings.
type AudioConfig struct {
	Input      string      `json:"input"`       // Audio input device identifier
	SampleRate int         `json:"sample_rate"` // Capture sample rate in Hz
	Channels   int         `json:"channels"`    // 1 (mono) or 2 (stereo)
	Codec      types.Codec `json:"codec"`       // Output codec
	OutputDir  string      `json:"output_dir"`  // Directory for recordings

	RetentionDays int `json:"retention_days" validate:"gte=0,lte=3650"` // Local retention (0 = keep forever)
}

// SessionConfig holds defaults for sessions started without explicit settings.
type SessionConfig struct {
	MuteAudio        bool                   `json:"mute_audio"`
	AudioManagerMode types.AudioManagerMode `json:"audio_manager_mode" validate:"omitempty,oneof=normal ringtone in_call in_communication call_screening"`
	Speakerphone     bool                   `json:"speakerphone"`
}

// ResourcesConfig holds settings for the in-process audio manager.
type ResourcesConfig struct {
	UnmuteLevel   int  `json:"unmute_level" validate:"gte=1,lte=100"`   // Restore level for streams without a snapshot
	InitialVolume int  `json:"initial_volume" validate:"gte=0,lte=100"` // Starting stream volume
	Legacy        bool `json:"legacy_routing"`                          // Use the speakerphone flag instead of device selection
	NoSpeaker     bool `json:"no_speaker"`                              // Host has no built-in speaker
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url"` // Webhook URL for failure alerts
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig     `json:"webhook"`
	Email   types.GraphConfig `json:"email"`
}

// LogConfig holds event log settings.
type LogConfig struct {
	Path string `json:"path"` // JSON lines event log (empty = platform default)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Station       StationConfig       `json:"station"`
	Audio         AudioConfig         `json:"audio"`
	Session       SessionConfig       `json:"session"`
	Resources     ResourcesConfig     `json:"resources"`
	Archive       archive.Config      `json:"archive"`
	Notifications NotificationsConfig `json:"notifications"`
	Log           LogConfig           `json:"log"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if err := c.ensureAPIKey(); err != nil {
			return err
		}
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	if c.System.APIKey == "" {
		if err := c.ensureAPIKey(); err != nil {
			return err
		}
		return c.saveLocked()
	}
	return nil
}

// ensureAPIKey generates an API key when none is configured.
func (c *Config) ensureAPIKey() error {
	if c.System.APIKey != "" {
		return nil
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return util.WrapError("generate API key", err)
	}
	c.System.APIKey = key
	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	name := c.Station.Name
	if len(name) > 30 || !stationNamePattern.MatchString(name) {
		return fmt.Errorf("invalid station name %q: must be 1-30 printable characters", name)
	}
	if err := util.ValidatePath("audio.output_dir", c.Audio.OutputDir); err != nil {
		return err
	}
	if _, ok := types.CodecPresets[c.Audio.Codec]; !ok {
		return fmt.Errorf("invalid audio.codec %q", c.Audio.Codec)
	}
	if err := util.ValidateStruct(c); err != nil {
		return err
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	c.Station.Name = cmp.Or(c.Station.Name, DefaultStationName)
	c.Audio.SampleRate = cmp.Or(c.Audio.SampleRate, types.DefaultSampleRate)
	c.Audio.Channels = cmp.Or(c.Audio.Channels, types.DefaultChannels)
	c.Audio.Codec = cmp.Or(c.Audio.Codec, types.CodecAAC)
	c.Audio.OutputDir = cmp.Or(c.Audio.OutputDir, DefaultOutputDir)
	c.Session.AudioManagerMode = cmp.Or(c.Session.AudioManagerMode, types.ModeNormal)
	c.Resources.UnmuteLevel = cmp.Or(c.Resources.UnmuteLevel, DefaultUnmuteLevel)
	c.Resources.InitialVolume = cmp.Or(c.Resources.InitialVolume, DefaultVolume)
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	FFmpegPath string
	WebPort    int
	APIKey     string

	AllowedOrigins []string

	StationName string

	// Audio
	AudioInput string
	SampleRate int
	Channels   int
	Codec      types.Codec
	OutputDir  string

	RetentionDays int

	// Session defaults
	MuteAudio        bool
	AudioManagerMode types.AudioManagerMode
	Speakerphone     bool

	// Resources
	UnmuteLevel   int
	InitialVolume int
	LegacyRouting bool
	NoSpeaker     bool

	Archive archive.Config

	// Notifications
	WebhookURL string
	Graph      types.GraphConfig

	LogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		FFmpegPath: c.System.FFmpegPath,
		WebPort:    c.System.Port,
		APIKey:     c.System.APIKey,

		AllowedOrigins: slices.Clone(c.System.AllowedOrigins),

		StationName: c.Station.Name,

		AudioInput: c.Audio.Input,
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		Codec:      c.Audio.Codec,
		OutputDir:  c.Audio.OutputDir,

		RetentionDays: c.Audio.RetentionDays,

		MuteAudio:        c.Session.MuteAudio,
		AudioManagerMode: c.Session.AudioManagerMode,
		Speakerphone:     c.Session.Speakerphone,

		UnmuteLevel:   c.Resources.UnmuteLevel,
		InitialVolume: c.Resources.InitialVolume,
		LegacyRouting: c.Resources.Legacy,
		NoSpeaker:     c.Resources.NoSpeaker,

		Archive: c.Archive,

		WebhookURL: c.Notifications.Webhook.URL,
		Graph:      c.Notifications.Email,

		LogPath: c.Log.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.Graph.IsConfigured()
}

// HasArchive reports whether S3 archiving is configured.
func (s *Snapshot) HasArchive() bool {
	return s.Archive.IsConfigured()
}

// DefaultSession returns the session configuration used when a caller supplies none.
// The output file is named after the start time.
func (s *Snapshot) DefaultSession(now time.Time) types.SessionConfig {
	return types.SessionConfig{
		Path: filepath.Join(s.OutputDir, OutputFilename(now, s.Codec)),
		Format: types.Format{
			SampleRate: s.SampleRate,
			Channels:   s.Channels,
			Codec:      s.Codec,
			Device:     s.AudioInput,
		},
		MuteAudio:        s.MuteAudio,
		AudioManagerMode: s.AudioManagerMode,
		Speakerphone:     s.Speakerphone,
	}
}

// OutputFilename returns the recording filename for a session started at now.
func OutputFilename(now time.Time, codec types.Codec) string {
	return fmt.Sprintf("capture-%s.%s", now.Format("2006-01-02-15-04-05"), codec.Preset().Extension)
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
