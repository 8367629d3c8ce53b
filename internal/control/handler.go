package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-soundwatch/internal/analyzer"
	"github.com/oszuidwest/zwfm-soundwatch/internal/audio"
	"github.com/oszuidwest/zwfm-soundwatch/internal/encoding"
	"github.com/oszuidwest/zwfm-soundwatch/internal/plot"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// validate checks command arguments.
var validate = validator.New()

// Engine is the subset of the analyzer the handlers use.
type Engine interface {
	Snapshot() analyzer.Snapshot
	TakeRecentAudio(seconds int) ([]int16, error)
	SetThreshold(v float64)
	Threshold() float64
	Reset()
	Status() analyzer.Status
	Format() audio.Format
	Capacity() int
}

// Renderer turns the amplitude series into an image.
type Renderer interface {
	Render(series analyzer.Series, threshold float64) ([]byte, error)
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Engine   Engine
	Encoder  encoding.Encoder
	Renderer Renderer
	// PersistThreshold stores a new threshold; nil keeps changes in memory only.
	PersistThreshold func(v float64) error
	// Version reports the running and latest release.
	Version func() types.VersionInfo
	// MonitorStatus reports lifecycle information for /status.
	MonitorStatus func() types.MonitorStatus
}

type handlerFunc func(h *Handler, ctx context.Context, arg string) ([]Reply, error)

// handlers is the static dispatch table.
var handlers = map[Command]handlerFunc{
	CommandPing:      (*Handler).ping,
	CommandListen:    (*Handler).listen,
	CommandPlot:      (*Handler).plot,
	CommandThreshold: (*Handler).threshold,
	CommandReset:     (*Handler).reset,
	CommandStatus:    (*Handler).status,
}

// Handler executes control commands.
type Handler struct {
	deps Deps
}

// NewHandler returns a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Handle parses text and runs the matching command. It returns nil for
// messages that are not commands. Handler failures and panics become a short
// failure reply; the detail is logged.
func (h *Handler) Handle(ctx context.Context, text string) (replies []Reply) {
	req, ok := Parse(text)
	if !ok {
		return nil
	}
	return h.Dispatch(ctx, req)
}

// Dispatch runs an already parsed request.
func (h *Handler) Dispatch(ctx context.Context, req Request) (replies []Reply) {
	fn, known := handlers[req.Command]
	if !known {
		slog.Info("unknown command", "command", req.Word)
		return []Reply{Text(unknownLabel + req.Word)}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in command handler", "command", req.Word, "panic", r)
			replies = []Reply{Text(failureText(req.Word, errors.New("internal error")))}
		}
	}()

	replies, err := fn(h, ctx, req.Arg)
	if err != nil {
		slog.Error("command failed", "command", req.Word, "arg", req.Arg, "error", err)
		return []Reply{Text(failureText(req.Word, err))}
	}
	return replies
}

func failureText(word string, err error) string {
	return fmt.Sprintf("%s /%s failed: %s", errorMarker, word, util.ShortReason(err))
}

func (h *Handler) ping(_ context.Context, _ string) ([]Reply, error) {
	msg := MsgHello
	if h.deps.Version != nil {
		if v := h.deps.Version(); v.UpdateAvail {
			msg += fmt.Sprintf("\nupdate available: `%s` (running `%s`)", v.Latest, v.Current)
		}
	}
	return []Reply{Text(msg)}, nil
}

func (h *Handler) listen(ctx context.Context, arg string) ([]Reply, error) {
	seconds := 0
	if arg != "" {
		// Zero or a negative count takes the whole buffer.
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("seconds must be a whole number, got %q", arg)
		}
		seconds = n
	}

	reply, _, err := h.recentAudio(ctx, seconds)
	if errors.Is(err, analyzer.ErrNoAudio) {
		return []Reply{Text(MsgNoAudio)}, nil
	}
	if err != nil {
		return nil, err
	}
	return []Reply{reply}, nil
}

// recentAudio drains the ring and encodes the result. It also returns the
// duration of the encoded audio.
func (h *Handler) recentAudio(ctx context.Context, seconds int) (Reply, float64, error) {
	samples, err := h.deps.Engine.TakeRecentAudio(seconds)
	if err != nil {
		return Reply{}, 0, err
	}
	f := h.deps.Engine.Format()
	payload, err := h.deps.Encoder.Encode(ctx, samples, f.SampleRate, f.Channels)
	if err != nil {
		return Reply{}, 0, err
	}
	kind := ReplyAudio
	if payload.Voice {
		kind = ReplyVoice
	}
	return Reply{
		Kind:     kind,
		Data:     payload.Data,
		Filename: payload.Filename,
		MIME:     payload.MIME,
	}, f.Seconds(len(samples)), nil
}

func (h *Handler) plot(_ context.Context, _ string) ([]Reply, error) {
	reply, err := h.plotReply()
	if errors.Is(err, plot.ErrNoData) {
		return []Reply{Text(MsgNoData)}, nil
	}
	if err != nil {
		return nil, err
	}
	return []Reply{reply}, nil
}

func (h *Handler) plotReply() (Reply, error) {
	snap := h.deps.Engine.Snapshot()
	png, err := h.deps.Renderer.Render(snap.Series, snap.Threshold)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: ReplyPhoto, Data: png, Filename: "plot.png", MIME: "image/png"}, nil
}

func (h *Handler) threshold(_ context.Context, arg string) ([]Reply, error) {
	if err := validate.Var(arg, "required,numeric"); err != nil {
		return nil, errors.New("usage: /threshold <amplitude>")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("threshold must be an integer, got %q", arg)
	}
	if err := validate.Var(n, "gte=0"); err != nil {
		return nil, fmt.Errorf("threshold must be greater than or equal to 0, got %d", n)
	}

	v := float64(n)
	h.deps.Engine.SetThreshold(v)
	if h.deps.PersistThreshold != nil {
		if err := h.deps.PersistThreshold(v); err != nil {
			slog.Warn("failed to persist threshold", "threshold", v, "error", err)
		}
	}
	slog.Info("threshold changed", "threshold", v)
	return []Reply{Text(fmt.Sprintf("%s `threshold = %s`", MsgOK, formatAmplitude(v)))}, nil
}

func (h *Handler) reset(_ context.Context, _ string) ([]Reply, error) {
	h.deps.Engine.Reset()
	slog.Info("buffers reset")
	return []Reply{Text(MsgOK)}, nil
}

func (h *Handler) status(_ context.Context, _ string) ([]Reply, error) {
	st := h.deps.Engine.Status()
	f := h.deps.Engine.Format()

	var b strings.Builder
	fmt.Fprintf(&b, "threshold: `%s`\n", formatAmplitude(st.Threshold))
	fmt.Fprintf(&b, "buffered: `%ds` of `%ds`\n", st.BufferedSeconds, h.deps.Engine.Capacity()*f.ChunkDuration)
	fmt.Fprintf(&b, "series: `%d` entries\n", st.SeriesLength)
	if !st.LastIngest.IsZero() {
		fmt.Fprintf(&b, "last chunk: `%s` ago\n", time.Since(st.LastIngest).Round(time.Second))
	}
	if h.deps.MonitorStatus != nil {
		ms := h.deps.MonitorStatus()
		fmt.Fprintf(&b, "state: `%s`", ms.State)
		if ms.Uptime != "" {
			fmt.Fprintf(&b, ", up `%s`", ms.Uptime)
		}
		b.WriteString("\n")
		if ms.LastError != "" {
			fmt.Fprintf(&b, "last error: %s\n", ms.LastError)
		}
	}
	if h.deps.Version != nil {
		fmt.Fprintf(&b, "version: `%s`", h.deps.Version().Current)
	}
	return []Reply{Text(strings.TrimRight(b.String(), "\n"))}, nil
}

func formatAmplitude(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
