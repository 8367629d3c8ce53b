// Package main runs the soundwatch monitor: it records fixed-length audio
// chunks, tracks per-second amplitudes and alerts a chat when a chunk gets
// too loud.
//
// Usage:
//
//	soundwatch [-config path/to/config.yaml] [-log-level debug] [-version]
//
// If -config is not specified, soundwatch looks for config.yaml in the same
// directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-soundwatch/internal/analyzer"
	"github.com/oszuidwest/zwfm-soundwatch/internal/audio"
	"github.com/oszuidwest/zwfm-soundwatch/internal/chat"
	"github.com/oszuidwest/zwfm-soundwatch/internal/chat/discord"
	"github.com/oszuidwest/zwfm-soundwatch/internal/chat/telegram"
	"github.com/oszuidwest/zwfm-soundwatch/internal/config"
	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/encoding"
	"github.com/oszuidwest/zwfm-soundwatch/internal/monitor"
	"github.com/oszuidwest/zwfm-soundwatch/internal/notify"
	"github.com/oszuidwest/zwfm-soundwatch/internal/observe"
	"github.com/oszuidwest/zwfm-soundwatch/internal/plot"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// httpShutdownTimeout bounds the graceful HTTP shutdown.
const httpShutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.yaml next to binary)")
	logLevel := flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", util.FormatHumanTime(buildTime()))
		return
	}

	if err := run(*configPath, *logLevel); err != nil {
		slog.Error("soundwatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	if configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			return util.WrapError("get executable path", err)
		}
		configPath = filepath.Join(filepath.Dir(execPath), "config.yaml")
	}

	cfg := config.New(configPath)
	if err := cfg.Load(); err != nil {
		return util.WrapError("load config", err)
	}
	snap := cfg.Snapshot()
	setupLogging(coalesce(logLevel, snap.LogLevel), snap.LogFormat)
	slog.Info("using config file", "path", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
	if ffmpegPath == "" {
		slog.Warn("FFmpeg not found - clips fall back to wav", "configured_path", snap.FFmpegPath)
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}
	for _, d := range audio.Devices() {
		slog.Info("audio input device", "id", d.ID, "name", d.Name)
	}

	mp, shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return util.WrapError("init metrics provider", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("metrics shutdown error", "error", err)
		}
	}()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		return util.WrapError("create metrics", err)
	}

	format := audio.Format{
		SampleRate:    snap.SampleRate,
		Channels:      snap.Channels,
		ChunkDuration: snap.ChunkDuration,
	}
	engine, err := analyzer.New(analyzer.Config{
		Format:           format,
		MaxPlayback:      snap.MaximumPlayback,
		MaxSeriesEntries: snap.MaxSeriesEntries,
		Threshold:        snap.Threshold,
	})
	if err != nil {
		return util.WrapError("create analyzer", err)
	}

	encoder, err := encoding.New(snap.Codec, ffmpegPath)
	if err != nil {
		return util.WrapError("create encoder", err)
	}

	versions := NewVersionChecker()

	// The monitor is created after the handler, which reports its status.
	var mon *monitor.Monitor
	deps := control.Deps{
		Engine:        engine,
		Encoder:       encoder,
		Renderer:      plot.NewRenderer(),
		Version:       versions.Info,
		MonitorStatus: func() types.MonitorStatus { return mon.Status() },
	}
	if snap.PersistThreshold {
		deps.PersistThreshold = cfg.SetThreshold
	}
	handler := control.NewHandler(deps)

	session, err := newChatSession(&snap, handler, metrics)
	if err != nil {
		return err
	}

	notifier := notify.NewAlertNotifier(func() notify.Settings {
		s := cfg.Snapshot()
		return notify.Settings{
			StationName: s.StationName,
			WebhookURL:  s.WebhookURL,
			LogPath:     s.LogPath,
			Graph:       s.Graph,
			S3:          s.S3,
		}
	}, metrics)

	transport := config.TransportNone
	var messenger monitor.Messenger
	if session != nil {
		messenger = session
		transport = session.Transport()
	}

	var srv *Server
	mon = monitor.New(monitor.Deps{
		Source: audio.NewCommandSource(audio.SourceConfig{
			Device:       snap.Device,
			SampleFormat: snap.SampleFormat,
			Format:       format,
			Command:      snap.CaptureCommand,
			FFmpegPath:   ffmpegPath,
		}),
		Analyzer:       engine,
		Handler:        handler,
		Chat:           messenger,
		Notifier:       notifier,
		Metrics:        metrics,
		NotifyPlayback: func() int { return cfg.Snapshot().NotifyPlayback },
		ReportSchedule: snap.ReportSchedule,
		OnAlert:        func(a *types.Alert) { srv.BroadcastAlert(a) },
	})

	srv = NewServer(ServerDeps{
		Config:          cfg,
		Monitor:         mon,
		Control:         handler,
		Engine:          engine,
		Version:         versions,
		FFmpegAvailable: ffmpegPath != "",
		Transport:       transport,
	})
	var httpServer *http.Server
	if snap.Port > 0 {
		httpServer = srv.Start()
	} else {
		slog.Info("web server disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return versions.Run(gctx) })
	if session != nil {
		g.Go(func() error { return runChat(gctx, session) })
	}

	<-gctx.Done()
	slog.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}

	err = g.Wait()
	notifier.Wait()
	if session != nil {
		if cerr := session.Close(); cerr != nil {
			slog.Warn("chat close error", "error", cerr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}

// newChatSession builds the configured chat transport. It returns nil when
// chat is disabled or the credentials are missing.
func newChatSession(snap *config.Snapshot, handler *control.Handler, metrics *observe.Metrics) (*chat.Session, error) {
	var t chat.Transport
	switch snap.Transport {
	case config.TransportTelegram:
		if !util.IsConfigured(snap.TelegramToken, snap.TelegramChatID) {
			slog.Warn("telegram credentials missing, chat disabled")
			return nil, nil
		}
		tg, err := telegram.New(snap.TelegramToken, snap.TelegramChatID)
		if err != nil {
			return nil, util.WrapError("create telegram transport", err)
		}
		t = tg
	case config.TransportDiscord:
		if !util.IsConfigured(snap.DiscordToken, snap.DiscordChannelID) {
			slog.Warn("discord credentials missing, chat disabled")
			return nil, nil
		}
		t = discord.New(snap.DiscordToken, snap.DiscordChannelID)
	default:
		slog.Info("chat disabled")
		return nil, nil
	}
	return chat.NewSession(t, handler, metrics), nil
}

// runChat connects, greets the operator and serves commands until ctx is done.
func runChat(ctx context.Context, session *chat.Session) error {
	if err := session.Connect(ctx); err != nil {
		slog.Debug("chat connect aborted", "error", err)
		return nil
	}
	if err := session.Greet(ctx); err != nil {
		slog.Warn("failed to send greeting", "error", err)
	}
	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return util.WrapError("run chat", err)
	}
	return nil
}

// setupLogging installs the default slog logger.
func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// coalesce returns the first non-zero value from the provided values.
func coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}
