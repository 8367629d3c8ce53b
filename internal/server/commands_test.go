package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-soundwatch/internal/config"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

type fakeEngine struct {
	mu        sync.Mutex
	threshold float64
	resets    int
}

func (e *fakeEngine) SetThreshold(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = v
}

func (e *fakeEngine) Threshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

func (e *fakeEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
}

func newHandler(t *testing.T) (*CommandHandler, *fakeEngine, *config.Config) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	engine := &fakeEngine{threshold: 50000}
	return NewCommandHandler(cfg, engine), engine, cfg
}

func command(t *testing.T, typ string, data any) WSCommand {
	t.Helper()
	cmd := WSCommand{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = raw
	}
	return cmd
}

func receive(t *testing.T, send <-chan any) any {
	t.Helper()
	select {
	case msg := <-send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func noop() {}

func TestThresholdUpdate(t *testing.T) {
	t.Parallel()
	h, engine, cfg := newHandler(t)
	send := make(chan any, 4)

	h.Handle(t.Context(), command(t, "threshold/update", map[string]any{"threshold": 1234}), send, noop)

	msg, ok := receive(t, send).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "threshold/update_result", msg["type"])
	assert.Equal(t, true, msg["success"])
	assert.Equal(t, types.ThresholdResponse{Threshold: 1234}, msg["data"])
	assert.Equal(t, 1234.0, engine.Threshold())
	assert.Equal(t, float64(config.DefaultThreshold), cfg.Snapshot().Threshold, "not persisted")
}

func TestThresholdUpdatePersist(t *testing.T) {
	t.Parallel()
	h, _, cfg := newHandler(t)
	send := make(chan any, 4)

	h.Handle(t.Context(), command(t, "threshold/update", map[string]any{"threshold": 800, "persist": true}), send, noop)

	msg := receive(t, send).(map[string]any)
	assert.Equal(t, types.ThresholdResponse{Threshold: 800, Persisted: true}, msg["data"])
	assert.Equal(t, 800.0, cfg.Snapshot().Threshold)
}

func TestThresholdUpdateValidation(t *testing.T) {
	t.Parallel()
	h, engine, _ := newHandler(t)

	tests := []struct {
		name string
		data any
	}{
		{"missing", map[string]any{}},
		{"negative", map[string]any{"threshold": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send := make(chan any, 4)
			h.Handle(t.Context(), command(t, "threshold/update", tt.data), send, noop)

			res, ok := receive(t, send).(types.WSCommandResult)
			require.True(t, ok)
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			require.Len(t, res.Error.Errors, 1)
			assert.Equal(t, "threshold", res.Error.Errors[0].Field)
		})
	}
	assert.Equal(t, 50000.0, engine.Threshold())
}

func TestInvalidJSON(t *testing.T) {
	t.Parallel()
	h, _, _ := newHandler(t)
	send := make(chan any, 4)

	h.Handle(t.Context(), WSCommand{Type: "threshold/update", Data: json.RawMessage(`{"threshold":`)}, send, noop)

	msg := receive(t, send).(map[string]any)
	assert.Equal(t, false, msg["success"])
	assert.Contains(t, msg["error"], "invalid JSON")
}

func TestThresholdGet(t *testing.T) {
	t.Parallel()
	h, _, _ := newHandler(t)
	send := make(chan any, 4)

	h.Handle(t.Context(), WSCommand{Type: "threshold/get"}, send, noop)

	msg := receive(t, send).(map[string]any)
	assert.Equal(t, types.ThresholdResponse{Threshold: 50000}, msg["data"])
}

func TestSeriesResetTriggersStatus(t *testing.T) {
	t.Parallel()
	h, engine, _ := newHandler(t)
	send := make(chan any, 4)
	updates := 0

	h.Handle(t.Context(), WSCommand{Type: "series/reset"}, send, func() { updates++ })

	msg := receive(t, send).(map[string]any)
	assert.Equal(t, true, msg["success"])
	assert.Equal(t, 1, engine.resets)
	assert.Equal(t, 1, updates)
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	h, _, _ := newHandler(t)
	send := make(chan any, 4)

	h.Handle(t.Context(), WSCommand{Type: "recorder/start"}, send, noop)

	msg := receive(t, send).(map[string]any)
	assert.Equal(t, "recorder/start_result", msg["type"])
	assert.Equal(t, "unknown command: recorder/start", msg["error"])
}

func TestNotificationSettings(t *testing.T) {
	t.Parallel()
	h, _, cfg := newHandler(t)
	send := make(chan any, 4)
	logPath := filepath.Join(t.TempDir(), "alerts.jsonl")

	h.Handle(t.Context(), command(t, "notifications/webhook/update", map[string]string{"url": "https://example.com/hook"}), send, noop)
	assert.Equal(t, true, receive(t, send).(map[string]any)["success"])

	h.Handle(t.Context(), command(t, "notifications/log/update", map[string]string{"path": logPath}), send, noop)
	assert.Equal(t, true, receive(t, send).(map[string]any)["success"])

	h.Handle(t.Context(), command(t, "trigger/playback", map[string]int{"seconds": 9}), send, noop)
	assert.Equal(t, true, receive(t, send).(map[string]any)["success"])

	snap := cfg.Snapshot()
	assert.Equal(t, "https://example.com/hook", snap.WebhookURL)
	assert.Equal(t, logPath, snap.LogPath)
	assert.Equal(t, 9, snap.NotifyPlayback)
}

func TestWebhookUpdateRejectsInvalidURL(t *testing.T) {
	t.Parallel()
	h, _, cfg := newHandler(t)
	send := make(chan any, 4)

	h.Handle(t.Context(), command(t, "notifications/webhook/update", map[string]string{"url": "not a url"}), send, noop)

	res := receive(t, send).(types.WSCommandResult)
	assert.False(t, res.Success)
	assert.Empty(t, cfg.Snapshot().WebhookURL)
}

func TestNotificationTests(t *testing.T) {
	t.Parallel()

	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	h, _, cfg := newHandler(t)
	send := make(chan any, 4)

	h.Handle(t.Context(), WSCommand{Type: "notifications/webhook/test"}, send, noop)
	msg := receive(t, send).(map[string]any)
	assert.Equal(t, false, msg["success"])
	assert.Contains(t, msg["error"], "not configured")

	require.NoError(t, cfg.SetWebhookURL(srv.URL))
	h.Handle(t.Context(), WSCommand{Type: "notifications/webhook/test"}, send, noop)
	msg = receive(t, send).(map[string]any)
	assert.Equal(t, true, msg["success"])

	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestTestNotificationUnknownChannel(t *testing.T) {
	t.Parallel()
	h, _, _ := newHandler(t)

	err := h.TestNotification(t.Context(), "zabbix")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "monitor:8080", true},
		{"same host", "http://monitor:8080", "monitor:8080", true},
		{"localhost", "http://localhost:3000", "monitor:8080", true},
		{"private ip", "http://192.168.1.20", "monitor:8080", true},
		{"loopback ip", "http://127.0.0.1:9000", "monitor:8080", true},
		{"foreign", "https://evil.example.com", "monitor:8080", false},
		{"invalid", "://bad", "monitor:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r))
		})
	}
}
