package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/config"
	"github.com/oszuidwest/zwfm-soundwatch/internal/notify"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

// ErrUnknownChannel is returned for a notification test of an unknown channel.
var ErrUnknownChannel = errors.New("unknown notification channel")

// testTimeout bounds a notification test triggered from a client.
const testTimeout = 30 * time.Second

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Engine is the part of the analyzer the commands mutate.
type Engine interface {
	SetThreshold(v float64)
	Threshold() float64
	Reset()
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg    *config.Config
	engine Engine
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, engine Engine) *CommandHandler {
	return &CommandHandler{cfg: cfg, engine: engine}
}

// Handle routes a namespace/action[/subaction] command, for example
// "threshold/update" or "notifications/webhook/test". ctx ends when the
// client disconnects; results of slow actions are dropped after that.
func (h *CommandHandler) Handle(ctx context.Context, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action, subaction := "", ""
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "threshold":
		h.handleThreshold(action, cmd, send)
	case "trigger":
		h.handleTrigger(action, cmd, send)
	case "series":
		h.handleSeries(action, cmd, send)
	case "notifications":
		h.handleNotifications(ctx, action, subaction, cmd, send)
	case "status":
		if action != "get" {
			slog.Warn("unknown status action", "action", action)
		}
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd.Type, fmt.Errorf("unknown command: %s", cmd.Type))
	}

	triggerStatusUpdate()
}

func (h *CommandHandler) handleThreshold(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, cmd.Type, types.ThresholdResponse{Threshold: h.engine.Threshold()})
	case "update":
		HandleCommand(cmd, send, func(req *ThresholdUpdateRequest) (any, error) {
			h.engine.SetThreshold(*req.Threshold)
			slog.Info("threshold updated", "threshold", *req.Threshold, "source", "websocket")
			resp := types.ThresholdResponse{Threshold: *req.Threshold}
			if req.Persist {
				if err := h.cfg.SetThreshold(*req.Threshold); err != nil {
					return nil, err
				}
				resp.Persisted = true
			}
			return resp, nil
		})
	default:
		slog.Warn("unknown threshold action", "action", action)
	}
}

func (h *CommandHandler) handleTrigger(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "playback":
		HandleCommand(cmd, send, func(req *PlaybackUpdateRequest) (any, error) {
			return nil, h.cfg.SetNotifyPlayback(*req.Seconds)
		})
	default:
		slog.Warn("unknown trigger action", "action", action)
	}
}

func (h *CommandHandler) handleSeries(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "reset":
		h.engine.Reset()
		slog.Info("buffers reset", "source", "websocket")
		SendSuccess(send, cmd.Type, nil)
	default:
		slog.Warn("unknown series action", "action", action)
	}
}

func (h *CommandHandler) handleNotifications(ctx context.Context, action, subaction string, cmd WSCommand, send chan<- any) {
	switch action + "/" + subaction {
	case "webhook/update":
		HandleCommand(cmd, send, func(req *WebhookUpdateRequest) (any, error) {
			return nil, h.cfg.SetWebhookURL(req.URL)
		})
	case "webhook/test", "log/test", "email/test":
		h.runTest(ctx, cmd, send, action)
	case "log/update":
		HandleCommand(cmd, send, func(req *LogUpdateRequest) (any, error) {
			return nil, h.cfg.SetLogPath(req.Path)
		})
	default:
		slog.Warn("unknown notifications action", "action", action, "subaction", subaction)
	}
}

func (h *CommandHandler) runTest(ctx context.Context, cmd WSCommand, send chan<- any, channel string) {
	HandleActionAsync(ctx, cmd, send, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, testTimeout)
		defer cancel()
		return nil, h.TestNotification(ctx, channel)
	})
}

// TestNotification sends a test message through one notification channel:
// "webhook", "log" or "email".
func (h *CommandHandler) TestNotification(ctx context.Context, channel string) error {
	cfg := h.cfg.Snapshot()
	switch channel {
	case "webhook":
		return notify.SendTestWebhook(ctx, cfg.WebhookURL)
	case "log":
		return notify.WriteTestLog(cfg.LogPath)
	case "email":
		return notify.SendTestEmail(ctx, &cfg.Graph, cfg.StationName)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
}
