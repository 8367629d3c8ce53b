package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-soundwatch/internal/audio"
	"github.com/oszuidwest/zwfm-soundwatch/internal/config"
	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/health"
	"github.com/oszuidwest/zwfm-soundwatch/internal/server"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

// staleAfter is how long /readyz tolerates no ingested chunk, as a multiple
// of the chunk duration.
const staleAfter = 5

// StatusProvider reports the state of the capture pipeline.
type StatusProvider interface {
	Status() types.MonitorStatus
	LastChunk() time.Time
}

// Dispatcher runs control commands. *control.Handler satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req control.Request) []control.Reply
}

// ServerDeps are the collaborators of a Server.
type ServerDeps struct {
	Config          *config.Config
	Monitor         StatusProvider
	Control         Dispatcher
	Engine          server.Engine
	Version         *VersionChecker
	FFmpegAvailable bool
	// Transport names the active chat transport, "none" when chat is disabled.
	Transport string
	// ListDevices enumerates capture devices; nil uses audio.Devices.
	ListDevices func() []audio.Device
}

// Server is the HTTP API of the monitor: REST endpoints, a WebSocket status
// feed, health probes and Prometheus metrics.
type Server struct {
	config    *config.Config
	monitor   StatusProvider
	control   Dispatcher
	engine    server.Engine
	commands  *server.CommandHandler
	version   *VersionChecker
	health    *health.Handler
	transport string

	ffmpegAvailable bool
	listDevices     func() []audio.Device

	mu      sync.Mutex
	clients map[chan *types.Alert]struct{}
	devices []types.AudioDevice
}

// NewServer returns a Server wired to deps.
func NewServer(deps ServerDeps) *Server {
	cfg := deps.Config.Snapshot()
	maxAge := time.Duration(staleAfter*cfg.ChunkDuration) * time.Second

	listDevices := deps.ListDevices
	if listDevices == nil {
		listDevices = audio.Devices
	}

	s := &Server{
		config:          deps.Config,
		monitor:         deps.Monitor,
		control:         deps.Control,
		engine:          deps.Engine,
		commands:        server.NewCommandHandler(deps.Config, deps.Engine),
		version:         deps.Version,
		health:          health.New(health.Freshness("capture", maxAge, deps.Monitor.LastChunk)),
		transport:       deps.Transport,
		ffmpegAvailable: deps.FFmpegAvailable,
		listDevices:     listDevices,
		clients:         make(map[chan *types.Alert]struct{}),
	}
	s.refreshDevices()
	return s
}

// BroadcastAlert pushes alert to every connected WebSocket client. Slow
// clients miss the push.
func (s *Server) BroadcastAlert(alert *types.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- alert:
		default:
			slog.Debug("dropped alert push for slow WebSocket client", "id", alert.ID)
		}
	}
}

func (s *Server) subscribe() chan *types.Alert {
	ch := make(chan *types.Alert, 4)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan *types.Alert) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

// handleWebSocket serves the status feed and accepts commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection. send is never
	// closed: async command results may still arrive after a disconnect.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)
	alerts := s.subscribe()
	defer s.unsubscribe(alerts)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(ctx, cancel, conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate, alerts)
}

func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) runWebSocketReader(ctx context.Context, cancel context.CancelFunc, conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		cancel()
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(ctx, cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status periodically, on request and on alerts
// until the reader is done.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}, alerts <-chan *types.Alert) {
	ticker := time.NewTicker(types.StatusInterval)
	defer ticker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case <-ticker.C:
			msg = s.buildWSStatus()
		case alert := <-alerts:
			msg = types.WSAlertMessage{Type: "alert", Alert: alert}
		}
		if !trySend(msg) {
			return
		}
	}
}

func (s *Server) buildWSStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Monitor:         s.monitor.Status(),
		Devices:         s.cachedDevices(),
		Transport:       s.transport,
		Version:         s.version.Info(),
	}
}

// refreshDevices enumerates capture devices and replaces the cached list.
// Enumeration runs a subprocess, so status pushes only read the cache.
func (s *Server) refreshDevices() []types.AudioDevice {
	devices := s.listDevices()
	out := make([]types.AudioDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, types.AudioDevice{ID: d.ID, Name: d.Name})
	}
	s.mu.Lock()
	s.devices = out
	s.mu.Unlock()
	return out
}

func (s *Server) cachedDevices() []types.AudioDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// API key protected routes
	mux.HandleFunc("GET /ws", s.apiKeyAuth(s.handleWebSocket))
	mux.HandleFunc("GET /api/status", s.apiKeyAuth(s.handleAPIStatus))
	mux.HandleFunc("GET /api/devices", s.apiKeyAuth(s.handleAPIDevices))
	mux.HandleFunc("GET /api/plot", s.apiKeyAuth(s.handleAPIPlot))
	mux.HandleFunc("GET /api/listen", s.apiKeyAuth(s.handleAPIListen))
	mux.HandleFunc("GET /api/threshold", s.apiKeyAuth(s.handleAPIGetThreshold))
	mux.HandleFunc("POST /api/threshold", s.apiKeyAuth(s.handleAPISetThreshold))
	mux.HandleFunc("POST /api/reset", s.apiKeyAuth(s.handleAPIReset))
	mux.HandleFunc("GET /api/alerts", s.apiKeyAuth(s.handleAPIAlerts))
	mux.HandleFunc("POST /api/notifications/test/{channel}", s.apiKeyAuth(s.handleAPITestNotification))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. The key is read
// from the X-API-Key header, or the api_key query parameter for browsers
// opening a WebSocket.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			writeError(w, http.StatusServiceUnavailable, "API key not configured")
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// Start begins serving in the background and returns the [http.Server] for
// graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().Port)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
