// Package monitor runs the capture pipeline: a producer records chunks into
// an unbounded queue, a consumer feeds them to the analyzer, and an error
// loop reports every failure to the operator chat.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-soundwatch/internal/analyzer"
	"github.com/oszuidwest/zwfm-soundwatch/internal/audio"
	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/observe"
	"github.com/oszuidwest/zwfm-soundwatch/internal/queue"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("monitor already running")

// repeatWindow suppresses chat reports of an identical error within this window.
const repeatWindow = time.Minute

// Messenger delivers replies to the operator chat. *chat.Session satisfies it.
type Messenger interface {
	Send(ctx context.Context, replies ...control.Reply) error
	ReportError(ctx context.Context, err error) error
}

// Notifier delivers alerts to secondary channels. *notify.AlertNotifier satisfies it.
type Notifier interface {
	HandleAlert(ctx context.Context, alert *types.Alert)
}

// Deps are the collaborators of a Monitor. Chat, Notifier and Metrics may be nil.
type Deps struct {
	Source   audio.Source
	Analyzer *analyzer.Analyzer
	Handler  *control.Handler
	Chat     Messenger
	Notifier Notifier
	Metrics  *observe.Metrics
	// NotifyPlayback returns the clip length attached to alerts, read per alert.
	NotifyPlayback func() int
	// ReportSchedule is a cron spec for the plot digest; empty disables it.
	ReportSchedule string
	// OnAlert is called after an alert was composed.
	OnAlert func(*types.Alert)
}

// Monitor owns the capture pipeline. It is safe for concurrent use.
type Monitor struct {
	deps    Deps
	chunks  *queue.Queue[audio.Chunk]
	errs    *queue.Queue[error]
	backoff *util.Backoff
	alerts  atomic.Int64

	mu         sync.RWMutex
	state      types.MonitorState
	startTime  time.Time
	lastError  string
	retries    int
	levels     audio.Levels
	lastReport map[string]time.Time
}

// New returns a Monitor and registers its alert callback with the analyzer.
func New(deps Deps) *Monitor {
	m := &Monitor{
		deps:       deps,
		chunks:     queue.New[audio.Chunk](),
		errs:       queue.New[error](),
		backoff:    util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
		state:      types.StateStopped,
		levels:     audio.Levels{RMS: audio.MinDB, Peak: audio.MinDB},
		lastReport: make(map[string]time.Time),
	}
	deps.Analyzer.RegisterCallback(m.handleEvent)
	return m
}

// Run starts all loops and blocks until ctx is cancelled and every loop has
// finished its shutdown work.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.state != types.StateStopped {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.state = types.StateRunning
	m.startTime = time.Now()
	m.mu.Unlock()
	m.backoff.Reset()

	slog.Info("monitor started", "format", m.deps.Analyzer.Format(), "capacity", m.deps.Analyzer.Capacity())

	// Shutdown runs in stages: the producer stops, the consumer drains the
	// chunk queue, the dispatcher drains queued events, then the error loop
	// drains whatever the earlier stages reported.
	produced := make(chan struct{})
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	reportCtx, stopReport := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	defer stopReport()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(produced)
		return m.produce(gctx)
	})
	g.Go(func() error {
		defer stopDispatch()
		return m.consume(gctx, produced)
	})
	g.Go(func() error {
		defer stopReport()
		return m.deps.Analyzer.DispatchNotifications(dispatchCtx)
	})
	g.Go(func() error { return m.reportErrors(reportCtx) })
	if m.deps.ReportSchedule != "" {
		g.Go(func() error { return m.runDigest(gctx) })
	}

	<-gctx.Done()
	m.setState(types.StateStopping)
	err := g.Wait()
	m.setState(types.StateStopped)
	slog.Info("monitor stopped")
	return err
}

func (m *Monitor) setState(s types.MonitorState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// produce records chunks until ctx is cancelled. It never blocks on the
// queue; failures are reported and retried after a capped backoff.
func (m *Monitor) produce(ctx context.Context) error {
	for ctx.Err() == nil {
		start := time.Now()
		chunk, err := m.deps.Source.NextChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.recordCaptureFailure(ctx, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.backoff.Next()):
			}
			continue
		}

		m.backoff.Reset()
		m.mu.Lock()
		m.retries = 0
		m.mu.Unlock()
		m.deps.Metrics.RecordCapture(ctx, time.Since(start).Seconds())
		m.chunks.Push(chunk)
	}
	return nil
}

func (m *Monitor) recordCaptureFailure(ctx context.Context, err error) {
	m.mu.Lock()
	m.retries++
	retries := m.retries
	m.mu.Unlock()

	slog.Warn("capture failed", "error", err, "attempt", retries)
	m.deps.Metrics.RecordError(ctx, "capture")
	m.ReportError(err)
}

// consume feeds queued chunks to the analyzer. After cancellation it waits
// for the producer to exit and ingests whatever is still queued.
func (m *Monitor) consume(ctx context.Context, produced <-chan struct{}) error {
	for {
		chunk, err := m.chunks.Pop(ctx)
		if err != nil {
			break
		}
		m.ingest(ctx, chunk)
	}

	<-produced
	pending := m.chunks.Drain()
	if len(pending) > 0 {
		slog.Info("ingesting queued chunks before shutdown", "count", len(pending))
	}
	for _, chunk := range pending {
		m.ingest(context.WithoutCancel(ctx), chunk)
	}
	return nil
}

func (m *Monitor) ingest(ctx context.Context, chunk audio.Chunk) {
	if err := m.deps.Analyzer.Ingest(chunk); err != nil {
		m.deps.Metrics.RecordError(ctx, "ingest")
		m.ReportError(err)
		return
	}
	levels := audio.CalculateLevels(chunk)
	m.mu.Lock()
	m.levels = levels
	m.mu.Unlock()
	m.deps.Metrics.RecordChunk(ctx, levels.Peak)
	m.deps.Metrics.RecordThreshold(ctx, m.deps.Analyzer.Threshold())
}

// ReportError queues err for the error reporting loop. It never blocks.
func (m *Monitor) ReportError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
	m.errs.Push(err)
}

// reportErrors sends queued errors to the chat. Errors that cannot be
// delivered, and errors still queued at shutdown, are logged instead.
func (m *Monitor) reportErrors(ctx context.Context) error {
	for {
		err, perr := m.errs.Pop(ctx)
		if perr != nil {
			break
		}
		m.report(ctx, err)
	}
	for _, err := range m.errs.Drain() {
		slog.Error("unreported error at shutdown", "error", err)
	}
	return nil
}

func (m *Monitor) report(ctx context.Context, err error) {
	if m.deps.Chat == nil || m.isRepeat(err) {
		slog.Error("monitor error", "error", err)
		return
	}
	if serr := m.deps.Chat.ReportError(ctx, err); serr != nil {
		slog.Error("failed to report error to chat", "error", err, "send_error", serr)
	}
}

// isRepeat reports whether the same message was sent within repeatWindow.
func (m *Monitor) isRepeat(err error) bool {
	msg := err.Error()
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, at := range m.lastReport {
		if now.Sub(at) > repeatWindow {
			delete(m.lastReport, k)
		}
	}
	if _, seen := m.lastReport[msg]; seen {
		return true
	}
	m.lastReport[msg] = now
	return false
}

// handleEvent is the analyzer callback: it composes the alert, sends it to
// the chat and hands it to the secondary notifiers.
func (m *Monitor) handleEvent(ctx context.Context, ev analyzer.Event) {
	m.alerts.Add(1)
	m.deps.Metrics.RecordAlert(ctx)

	seconds := 0
	if m.deps.NotifyPlayback != nil {
		seconds = m.deps.NotifyPlayback()
	}
	alert, replies := m.deps.Handler.BuildAlert(ctx, ev, seconds)
	slog.Info("threshold exceeded", "alert_id", alert.ID, "peak", alert.Peak(), "threshold", alert.Threshold)

	if m.deps.Chat != nil {
		if err := m.deps.Chat.Send(ctx, replies...); err != nil {
			m.ReportError(util.WrapError("deliver alert", err))
		}
	}
	if m.deps.Notifier != nil {
		m.deps.Notifier.HandleAlert(ctx, alert)
	}
	if m.deps.OnAlert != nil {
		m.deps.OnAlert(alert)
	}
}

// runDigest sends the amplitude plot to the chat on the configured schedule.
func (m *Monitor) runDigest(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(m.deps.ReportSchedule, func() { m.sendDigest(ctx) }); err != nil {
		return util.WrapError("schedule digest", err)
	}
	slog.Info("plot digest scheduled", "schedule", m.deps.ReportSchedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (m *Monitor) sendDigest(ctx context.Context) {
	if m.deps.Chat == nil || ctx.Err() != nil {
		return
	}
	replies := m.deps.Handler.Dispatch(ctx, control.Request{Command: control.CommandPlot, Word: "plot"})
	if err := m.deps.Chat.Send(ctx, replies...); err != nil {
		m.ReportError(util.WrapError("send digest", err))
	}
}

// LastChunk returns the time of the last successful ingest.
func (m *Monitor) LastChunk() time.Time {
	return m.deps.Analyzer.Status().LastIngest
}

// Levels returns the levels of the last ingested chunk.
func (m *Monitor) Levels() audio.Levels {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels
}

// Status returns the current monitor status.
func (m *Monitor) Status() types.MonitorStatus {
	st := m.deps.Analyzer.Status()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := types.MonitorStatus{
		State:           m.state,
		LastError:       m.lastError,
		Threshold:       st.Threshold,
		BufferedSeconds: st.BufferedSeconds,
		SeriesLength:    st.SeriesLength,
		CaptureRetries:  m.retries,
		Alerts:          m.alerts.Load(),
		RMSDB:           m.levels.RMS,
		PeakDB:          m.levels.Peak,
		Clipped:         m.levels.Clipped,
	}
	if m.state == types.StateRunning {
		out.Uptime = util.FormatDuration(time.Since(m.startTime))
	}
	if !st.LastIngest.IsZero() {
		out.LastChunkAt = st.LastIngest.Format(time.RFC3339)
	}
	return out
}
