package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-soundwatch/internal/audio"
	"github.com/oszuidwest/zwfm-soundwatch/internal/config"
	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/notify"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

const testKey = "secret-key"

type fakeMonitor struct {
	last time.Time
}

func (m *fakeMonitor) Status() types.MonitorStatus {
	return types.MonitorStatus{State: types.StateRunning}
}

func (m *fakeMonitor) LastChunk() time.Time { return m.last }

type fakeDispatcher struct {
	mu      sync.Mutex
	replies []control.Reply
	got     []control.Request
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req control.Request) []control.Reply {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, req)
	return d.replies
}

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

func (e *fakeEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
}

func (e *fakeEngine) Threshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

type fixture struct {
	cfg      *config.Config
	monitor  *fakeMonitor
	control  *fakeDispatcher
	engine   *fakeEngine
	server   *Server
	handler  http.Handler
	tempPath string

	deviceLists atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chat:\n  transport: none\nserver:\n  api_key: "+testKey+"\n"), 0o600))
	cfg := config.New(path)
	require.NoError(t, cfg.Load())

	f := &fixture{
		cfg:      cfg,
		monitor:  &fakeMonitor{},
		control:  &fakeDispatcher{},
		engine:   &fakeEngine{threshold: 50000},
		tempPath: dir,
	}
	listDevices := func() []audio.Device {
		f.deviceLists.Add(1)
		return []audio.Device{{ID: "hw:1", Name: "USB Audio"}}
	}
	f.server = NewServer(ServerDeps{
		Config:      cfg,
		Monitor:     f.monitor,
		Control:     f.control,
		Engine:      f.engine,
		Version:     NewVersionChecker(),
		Transport:   config.TransportNone,
		ListDevices: listDevices,
	})
	f.handler = f.server.SetupRoutes()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "nope", "", http.StatusUnauthorized},
		{"header", testKey, "", http.StatusOK},
		{"query", "", "?api_key=" + testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/threshold"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestAPIThreshold(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/threshold", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"threshold":50000}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/threshold", `{"threshold": 1200}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"threshold":1200}`, w.Body.String())
	assert.Equal(t, 1200.0, f.engine.Threshold())
	assert.Equal(t, 50000.0, f.cfg.Snapshot().Threshold)

	w = f.do(t, http.MethodPost, "/api/threshold", `{"threshold": 900, "persist": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"threshold":900,"persisted":true}`, w.Body.String())
	assert.Equal(t, 900.0, f.cfg.Snapshot().Threshold)
}

func TestAPIThresholdRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/threshold", `{"threshold": -5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"threshold"`)

	w = f.do(t, http.MethodPost, "/api/threshold", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid JSON")

	assert.Equal(t, 50000.0, f.engine.Threshold())
}

func TestAPIPlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.control.replies = []control.Reply{{Kind: control.ReplyPhoto, Data: []byte("png"), Filename: "plot.png", MIME: "image/png"}}
	w := f.do(t, http.MethodGet, "/api/plot", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png", w.Body.String())
	assert.Equal(t, control.CommandPlot, f.control.got[0].Command)

	f.control.replies = []control.Reply{control.Text(control.MsgNoData)}
	w = f.do(t, http.MethodGet, "/api/plot", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIListen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.control.replies = []control.Reply{{Kind: control.ReplyVoice, Data: []byte("ogg"), Filename: "clip.ogg", MIME: "audio/ogg"}}
	w := f.do(t, http.MethodGet, "/api/listen?seconds=9", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/ogg", w.Header().Get("Content-Type"))
	assert.Equal(t, control.Request{Command: control.CommandListen, Word: "listen", Arg: "9"}, f.control.got[0])

	f.control.replies = []control.Reply{control.Text(control.MsgNoAudio)}
	w = f.do(t, http.MethodGet, "/api/listen", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.control.replies = []control.Reply{control.Text("❗ /listen failed: seconds must be a whole number")}
	w = f.do(t, http.MethodGet, "/api/listen?seconds=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIReset(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.engine.resets)

	w = f.do(t, http.MethodGet, "/api/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthProbes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.monitor.last = time.Now()
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPINotificationTest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/notifications/test/zabbix", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/notifications/test/log", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	logPath := filepath.Join(f.tempPath, "alerts.jsonl")
	require.NoError(t, f.cfg.SetLogPath(logPath))
	w = f.do(t, http.MethodPost, "/api/notifications/test/log", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.FileExists(t, logPath)
}

func TestAPIAlerts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/alerts", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	logPath := filepath.Join(f.tempPath, "alerts.jsonl")
	require.NoError(t, f.cfg.SetLogPath(logPath))
	require.NoError(t, notify.LogAlert(logPath, &types.Alert{ID: "first", At: time.Now(), Threshold: 100, MaxAmplitudes: []float64{150}}))
	require.NoError(t, notify.LogAlert(logPath, &types.Alert{ID: "second", At: time.Now(), Threshold: 100, MaxAmplitudes: []float64{300}}))

	w = f.do(t, http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Entries []types.AlertLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "second", body.Entries[0].ID)
	assert.Equal(t, 300.0, body.Entries[0].Peak)
}

func TestReadAlertLog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	entries, err := readAlertLog(filepath.Join(dir, "missing.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	path := filepath.Join(dir, "alerts.jsonl")
	content := `{"id":"a"}` + "\n" + "garbage\n\n" + `{"id":"b"}` + "\n" + `{"id":"c"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	entries, err = readAlertLog(path, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
}

func TestBroadcastAlert(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ch := f.server.subscribe()
	alert := &types.Alert{ID: "x"}
	f.server.BroadcastAlert(alert)
	assert.Same(t, alert, <-ch)

	f.server.unsubscribe(ch)
	f.server.BroadcastAlert(alert)
	assert.Empty(t, ch)
}

func TestIsNewerVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "2.0.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestVersionCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"tag_name":"v9.9.9"}`))
	}))
	t.Cleanup(srv.Close)

	vc := NewVersionChecker()
	vc.releaseURL = srv.URL
	vc.client = srv.Client()

	require.True(t, vc.check(t.Context()))
	assert.Equal(t, "9.9.9", vc.Info().Latest)
	require.True(t, vc.check(t.Context()))
	assert.Equal(t, "9.9.9", vc.Info().Latest)
}

func TestAPIStatusUsesCachedDevices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.Equal(t, int32(1), f.deviceLists.Load(), "devices are listed once at startup")

	for range 3 {
		w := f.do(t, http.MethodGet, "/api/status", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"hw:1"`)
	}
	assert.Equal(t, int32(1), f.deviceLists.Load())

	w := f.do(t, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"devices":[{"id":"hw:1","name":"USB Audio"}]}`, w.Body.String())
	assert.Equal(t, int32(2), f.deviceLists.Load(), "the devices endpoint refreshes the cache")
}
