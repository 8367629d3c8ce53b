package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

const webhookTimeout = 10 * time.Second

// ErrNotConfigured is returned by test helpers when the channel has no settings.
var ErrNotConfigured = errors.New("notification channel not configured")

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event         string    `json:"event"`
	ID            string    `json:"id,omitempty"`
	Threshold     float64   `json:"threshold,omitempty"`
	Peak          float64   `json:"peak,omitempty"`
	MaxAmplitudes []float64 `json:"max_amplitudes,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     string    `json:"timestamp"`

	ClipBase64    string `json:"clip_base64,omitempty"`
	ClipFilename  string `json:"clip_filename,omitempty"`
	ClipSizeBytes int    `json:"clip_size_bytes,omitempty"`
}

// SendAlertWebhook posts a threshold alert, including the encoded clip
// when one was captured.
func SendAlertWebhook(ctx context.Context, webhookURL string, alert *types.Alert) error {
	payload := &WebhookPayload{
		Event:         EventAlert,
		ID:            alert.ID,
		Threshold:     alert.Threshold,
		Peak:          alert.Peak(),
		MaxAmplitudes: alert.MaxAmplitudes,
		Timestamp:     timestampUTC(alert.At),
	}
	if alert.Clip != nil {
		payload.ClipBase64 = base64.StdEncoding.EncodeToString(alert.Clip.Data)
		payload.ClipFilename = alert.Clip.Filename
		payload.ClipSizeBytes = len(alert.Clip.Data)
	}
	return sendWebhook(ctx, webhookURL, payload)
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL string) error {
	if webhookURL == "" {
		return ErrNotConfigured
	}
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(time.Now()),
	})
}

func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
