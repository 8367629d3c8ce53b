package control

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-soundwatch/internal/analyzer"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

// BuildAlert composes the alert for a crossing event: the amplitude plot, the
// most recent seconds of audio (which drains the ring) and the bell marker.
// Missing plot or audio is logged and left out.
func (h *Handler) BuildAlert(ctx context.Context, ev analyzer.Event, seconds int) (*types.Alert, []Reply) {
	alert := &types.Alert{
		ID:            uuid.NewString(),
		At:            ev.At,
		Threshold:     ev.Threshold,
		MaxAmplitudes: ev.MaxAmplitudes,
	}
	var replies []Reply

	if plotReply, err := h.plotReply(); err != nil {
		slog.Warn("alert plot failed", "alert_id", alert.ID, "error", err)
	} else {
		alert.Plot = plotReply.Data
		replies = append(replies, plotReply)
	}

	clipReply, clipSeconds, err := h.recentAudio(ctx, seconds)
	switch {
	case errors.Is(err, analyzer.ErrNoAudio):
		slog.Info("alert without audio", "alert_id", alert.ID)
	case err != nil:
		slog.Warn("alert audio failed", "alert_id", alert.ID, "error", err)
	default:
		alert.Clip = &types.Clip{
			Data:     clipReply.Data,
			Filename: clipReply.Filename,
			MIME:     clipReply.MIME,
			Seconds:  clipSeconds,
		}
		replies = append(replies, clipReply)
	}

	replies = append(replies, Text(MsgBell))
	return alert, replies
}
