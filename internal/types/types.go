// Package types provides shared type definitions used across the monitor.
package types

import "time"

// Timing constants shared by the capture, delivery and shutdown paths.
const (
	// InitialRetryDelay is the first capture retry delay.
	InitialRetryDelay = 100 * time.Millisecond
	// MaxRetryDelay caps the capture retry backoff.
	MaxRetryDelay = 5 * time.Second
	// DeliveryRetryDelay is the pause before a chat transport reconnects and retries once.
	DeliveryRetryDelay = 100 * time.Millisecond
	// ShutdownTimeout bounds the graceful drain of queued work.
	ShutdownTimeout = 3 * time.Second
	// StatusInterval is how often websocket clients receive a status push.
	StatusInterval = 3 * time.Second
)

// MonitorState represents the lifecycle state of the monitor.
type MonitorState string

// Monitor lifecycle states.
const (
	StateStopped  MonitorState = "stopped"
	StateStarting MonitorState = "starting"
	StateRunning  MonitorState = "running"
	StateStopping MonitorState = "stopping"
)

// Clip is an encoded audio attachment.
type Clip struct {
	Data     []byte  `json:"-"`        // Encoded bytes
	Filename string  `json:"filename"` // Suggested filename
	MIME     string  `json:"mime"`     // Content type
	Seconds  float64 `json:"seconds"`  // Duration of the underlying samples
}

// Alert is a fully composed threshold crossing, shared by every alert channel.
type Alert struct {
	ID            string    `json:"id"`             // Unique event identifier
	At            time.Time `json:"at"`             // Ingestion time of the crossing chunk
	Threshold     float64   `json:"threshold"`      // Threshold the chunk was compared with
	MaxAmplitudes []float64 `json:"max_amplitudes"` // Per-second maxima of the crossing chunk
	Plot          []byte    `json:"-"`              // PNG of the amplitude history
	Clip          *Clip     `json:"clip,omitempty"` // Recent audio; nil when nothing was buffered
}

// Peak returns the highest per-second maximum of the alert.
func (a *Alert) Peak() float64 {
	var peak float64
	for _, v := range a.MaxAmplitudes {
		peak = max(peak, v)
	}
	return peak
}

// MonitorStatus contains a summary of the monitor's current operational state.
type MonitorStatus struct {
	State           MonitorState `json:"state"`                    // Current lifecycle state
	Uptime          string       `json:"uptime,omitzero"`          // Time since start
	LastError       string       `json:"last_error,omitzero"`      // Most recent error
	LastChunkAt     string       `json:"last_chunk_at,omitzero"`   // RFC3339 time of the last ingested chunk
	Threshold       float64      `json:"threshold"`                // Current trigger threshold
	BufferedSeconds int          `json:"buffered_seconds"`         // Seconds of raw audio held in the ring
	SeriesLength    int          `json:"series_length"`            // Number of per-second entries
	CaptureRetries  int          `json:"capture_retries,omitzero"` // Consecutive capture failures
	Alerts          int64        `json:"alerts"`                   // Alerts dispatched since start
	RMSDB           float64      `json:"rms_db"`                   // RMS level of the last chunk in dBFS
	PeakDB          float64      `json:"peak_db"`                  // Peak level of the last chunk in dBFS
	Clipped         int          `json:"clipped,omitzero"`         // Clipped samples in the last chunk
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// WSStatusResponse is sent to websocket clients with the monitor status.
type WSStatusResponse struct {
	Type            string        `json:"type"`             // Message type identifier
	FFmpegAvailable bool          `json:"ffmpeg_available"` // FFmpeg binary is available
	Monitor         MonitorStatus `json:"monitor"`          // Monitor status
	Devices         []AudioDevice `json:"devices"`          // Available audio devices
	Transport       string        `json:"transport"`        // Active chat transport
	Version         VersionInfo   `json:"version"`          // Version information
}

// WSAlertMessage is pushed to websocket clients when an alert fires.
type WSAlertMessage struct {
	Type  string `json:"type"`  // Always "alert"
	Alert *Alert `json:"alert"` // The composed alert, without binary attachments
}

// AlertLogEntry represents a single entry in the JSON-lines alert log.
type AlertLogEntry struct {
	Timestamp     string    `json:"timestamp"`                 // RFC3339 timestamp
	Event         string    `json:"event"`                     // Event type
	ID            string    `json:"id"`                        // Alert identifier
	Threshold     float64   `json:"threshold"`                 // Threshold the chunk crossed
	Peak          float64   `json:"peak"`                      // Highest per-second maximum
	MaxAmplitudes []float64 `json:"max_amplitudes,omitempty"`  // Per-second maxima
	ClipFilename  string    `json:"clip_filename,omitempty"`   // Clip filename
	ClipSizeBytes int       `json:"clip_size_bytes,omitempty"` // Clip size in bytes
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty" yaml:"tenant_id"`         // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty" yaml:"client_id"`         // App registration client ID
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty" yaml:"from_address"`   // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty" yaml:"recipients"`       // Comma-separated recipients
}

// S3Config contains settings for archiving alert clips to S3-compatible storage.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint"`                   // S3-compatible endpoint URL
	Bucket          string `json:"bucket,omitempty" yaml:"bucket"`                       // Bucket name
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id"`         // Access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key"` // Secret access key
	Prefix          string `json:"prefix,omitempty" yaml:"prefix"`                       // Key prefix, default "alerts/"
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
