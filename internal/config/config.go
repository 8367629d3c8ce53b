// Package config provides application configuration management.
package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultDevice          = "1,0"
	DefaultSampleFormat    = "S16_LE"
	DefaultSampleRate      = 44100
	DefaultChannels        = 2
	DefaultChunkDuration   = 3
	DefaultMaximumPlayback = 60
	DefaultThreshold       = 50000
	DefaultNotifyPlayback  = 6
	DefaultTransport       = TransportTelegram
	DefaultCodec           = "opus"
	DefaultPort            = 8080
	DefaultStationName     = "ZuidWest FM"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Chat transports.
const (
	TransportTelegram = "telegram"
	TransportDiscord  = "discord"
	TransportNone     = "none"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// AudioConfig holds capture settings.
type AudioConfig struct {
	Device         string `json:"device" yaml:"device"`                                           // Capture device (arecord hw:<device>)
	Format         string `json:"format" yaml:"format"`                                           // arecord sample format
	SampleRate     int    `json:"sample_rate" yaml:"sample_rate" validate:"gte=8000,lte=192000"`  // Samples per second
	Channels       int    `json:"channels" yaml:"channels" validate:"gte=1,lte=8"`                // Interleaved channels
	ChunkDuration  int    `json:"chunk_duration" yaml:"chunk_duration" validate:"gte=1,lte=3600"` // Seconds per recorded chunk
	CaptureCommand string `json:"capture_command,omitempty" yaml:"capture_command,omitempty"`     // Capture binary override
	FFmpegPath     string `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path,omitempty"`             // Path to FFmpeg binary (empty = use PATH)
}

// RetentionConfig bounds the in-memory history.
type RetentionConfig struct {
	MaximumPlayback  int `json:"maximum_playback" yaml:"maximum_playback" validate:"gte=1"`       // Seconds of raw audio kept
	MaxSeriesEntries int `json:"max_series_entries" yaml:"max_series_entries" validate:"gte=0"` // Amplitude series cap (0 = unbounded)
}

// TriggerConfig holds threshold alert settings.
type TriggerConfig struct {
	Threshold        float64 `json:"threshold" yaml:"threshold" validate:"gte=0"`             // Per-second maximum that triggers an alert
	NotifyPlayback   int     `json:"notify_playback" yaml:"notify_playback" validate:"gte=0"` // Seconds of audio attached to an alert
	PersistThreshold bool    `json:"persist_threshold" yaml:"persist_threshold"`              // Write /threshold changes back to the file
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token  string `json:"token" yaml:"token"`     // Bot token
	ChatID string `json:"chat_id" yaml:"chat_id"` // Numeric chat id of the operator
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token     string `json:"token" yaml:"token"`           // Bot token
	ChannelID string `json:"channel_id" yaml:"channel_id"` // Channel the operator talks in
}

// ChatConfig selects and configures the control chat.
type ChatConfig struct {
	Transport string         `json:"transport" yaml:"transport" validate:"oneof=telegram discord none"` // Active transport
	Codec     string         `json:"codec" yaml:"codec" validate:"oneof=opus wav flac"`                 // Encoding of audio replies
	Telegram  TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord   DiscordConfig  `json:"discord" yaml:"discord"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url" validate:"omitempty,http_url"` // Webhook URL for alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path" yaml:"path"` // JSON-lines file for alert events
}

// NotificationsConfig holds all secondary alert channels.
type NotificationsConfig struct {
	Webhook WebhookConfig     `json:"webhook" yaml:"webhook"`
	Log     LogConfig         `json:"log" yaml:"log"`
	Email   types.GraphConfig `json:"email" yaml:"email"`
	S3      types.S3Config    `json:"s3" yaml:"s3"`
}

// ReportConfig holds the scheduled plot digest.
type ReportConfig struct {
	Schedule string `json:"schedule" yaml:"schedule"` // Cron spec, empty disables the digest
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port        int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"` // HTTP port (0 = disabled)
	APIKey      string `json:"api_key" yaml:"api_key"`                      // Key required by /api and /ws
	StationName string `json:"station_name" yaml:"station_name"`            // Used in email subjects
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Retention     RetentionConfig     `json:"retention" yaml:"retention"`
	Trigger       TriggerConfig       `json:"trigger" yaml:"trigger"`
	Chat          ChatConfig          `json:"chat" yaml:"chat"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Report        ReportConfig        `json:"report" yaml:"report"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	Log           LoggingConfig       `json:"log" yaml:"log"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.Trigger.Threshold = DefaultThreshold
	c.Trigger.NotifyPlayback = DefaultNotifyPlayback
	c.Server.Port = DefaultPort
	c.applyDefaults()
	return c
}

// Path returns the file the configuration is loaded from.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if c.Server.APIKey == "" {
			if key, err := GenerateAPIKey(); err == nil {
				c.Server.APIKey = key
			}
		}
		return c.saveLocked()
	}
	if err != nil {
		return util.WrapError("read config", err)
	}

	if c.isYAML() {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()
	return c.validate()
}

func (c *Config) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(c.filePath))
	return ext == ".yaml" || ext == ".yml"
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Chat.Transport {
	case TransportTelegram:
		if !util.IsConfigured(c.Chat.Telegram.Token, c.Chat.Telegram.ChatID) {
			return fmt.Errorf("%w: telegram transport requires chat.telegram.token and chat.telegram.chat_id", ErrInvalidConfig)
		}
	case TransportDiscord:
		if !util.IsConfigured(c.Chat.Discord.Token, c.Chat.Discord.ChannelID) {
			return fmt.Errorf("%w: discord transport requires chat.discord.token and chat.discord.channel_id", ErrInvalidConfig)
		}
	}

	if c.Retention.MaximumPlayback < c.Audio.ChunkDuration {
		return fmt.Errorf("%w: retention.maximum_playback must be at least audio.chunk_duration", ErrInvalidConfig)
	}
	if c.Report.Schedule != "" {
		if _, err := cron.ParseStandard(c.Report.Schedule); err != nil {
			return fmt.Errorf("%w: report.schedule: %w", ErrInvalidConfig, err)
		}
	}
	if c.Notifications.Log.Path != "" {
		if err := util.ValidatePath("notifications.log.path", c.Notifications.Log.Path); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// applyDefaults sets default values for zero-value fields. Threshold,
// notify_playback and port keep an explicit zero.
func (c *Config) applyDefaults() {
	if c.Audio.Device == "" {
		c.Audio.Device = DefaultDevice
	}
	if c.Audio.Format == "" {
		c.Audio.Format = DefaultSampleFormat
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = DefaultChannels
	}
	if c.Audio.ChunkDuration == 0 {
		c.Audio.ChunkDuration = DefaultChunkDuration
	}
	if c.Retention.MaximumPlayback == 0 {
		c.Retention.MaximumPlayback = DefaultMaximumPlayback
	}
	if c.Chat.Transport == "" {
		c.Chat.Transport = DefaultTransport
	}
	if c.Chat.Codec == "" {
		c.Chat.Codec = DefaultCodec
	}
	if c.Server.StationName == "" {
		c.Server.StationName = DefaultStationName
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var (
		data []byte
		err  error
	)
	if c.isYAML() {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}
	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}
	return nil
}

// --- Setters for runtime settings ---

// SetThreshold updates the trigger threshold and saves the configuration.
func (c *Config) SetThreshold(threshold float64) error {
	if threshold < 0 {
		return fmt.Errorf("%w: threshold must not be negative", ErrInvalidConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Trigger.Threshold = threshold
	return c.saveLocked()
}

// SetNotifyPlayback updates the alert clip length and saves the configuration.
func (c *Config) SetNotifyPlayback(seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("%w: notify_playback must not be negative", ErrInvalidConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Trigger.NotifyPlayback = seconds
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	if err := validate.Var(url, "omitempty,http_url"); err != nil {
		return fmt.Errorf("%w: webhook url", ErrInvalidConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the alert log path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	if path != "" {
		if err := util.ValidatePath("log path", path); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// Audio
	Device         string
	SampleFormat   string
	SampleRate     int
	Channels       int
	ChunkDuration  int
	CaptureCommand string
	FFmpegPath     string

	// Retention
	MaximumPlayback  int
	MaxSeriesEntries int

	// Trigger
	Threshold        float64
	NotifyPlayback   int
	PersistThreshold bool

	// Chat
	Transport        string
	Codec            string
	TelegramToken    string
	TelegramChatID   string
	DiscordToken     string
	DiscordChannelID string

	// Notifications
	WebhookURL string
	LogPath    string
	Graph      types.GraphConfig
	S3         types.S3Config

	// Report
	ReportSchedule string

	// Server
	Port        int
	APIKey      string
	StationName string

	// Logging
	LogLevel  string
	LogFormat string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Device:         c.Audio.Device,
		SampleFormat:   c.Audio.Format,
		SampleRate:     c.Audio.SampleRate,
		Channels:       c.Audio.Channels,
		ChunkDuration:  c.Audio.ChunkDuration,
		CaptureCommand: c.Audio.CaptureCommand,
		FFmpegPath:     c.Audio.FFmpegPath,

		MaximumPlayback:  c.Retention.MaximumPlayback,
		MaxSeriesEntries: c.Retention.MaxSeriesEntries,

		Threshold:        c.Trigger.Threshold,
		NotifyPlayback:   c.Trigger.NotifyPlayback,
		PersistThreshold: c.Trigger.PersistThreshold,

		Transport:        c.Chat.Transport,
		Codec:            c.Chat.Codec,
		TelegramToken:    c.Chat.Telegram.Token,
		TelegramChatID:   c.Chat.Telegram.ChatID,
		DiscordToken:     c.Chat.Discord.Token,
		DiscordChannelID: c.Chat.Discord.ChannelID,

		WebhookURL: c.Notifications.Webhook.URL,
		LogPath:    c.Notifications.Log.Path,
		Graph:      c.Notifications.Email,
		S3:         c.Notifications.S3,

		ReportSchedule: c.Report.Schedule,

		Port:        c.Server.Port,
		APIKey:      c.Server.APIKey,
		StationName: c.Server.StationName,

		LogLevel:  c.Log.Level,
		LogFormat: c.Log.Format,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
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
