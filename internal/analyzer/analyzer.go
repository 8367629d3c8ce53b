// Package analyzer implements the streaming amplitude engine: it ingests
// fixed-duration chunks, keeps a bounded ring of recent raw audio and an
// amplitude history, and raises notification events when a chunk crosses
// the trigger threshold.
//
// All state lives behind a single mutex. Every read path hands out copies,
// and callbacks never run while the lock is held.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/audio"
	"github.com/oszuidwest/zwfm-soundwatch/internal/queue"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

var (
	// ErrShapeMismatch is returned when a chunk does not hold exactly
	// sample_rate * chunk_duration * channels samples.
	ErrShapeMismatch = errors.New("chunk shape mismatch")
	// ErrNoAudio is returned by TakeRecentAudio when nothing is buffered.
	ErrNoAudio = errors.New("no audio recorded yet")
	// ErrInvalidConfig is returned by New for unusable dimensions.
	ErrInvalidConfig = errors.New("invalid analyzer config")
)

// Config holds the fixed dimensions of the engine.
type Config struct {
	Format audio.Format
	// MaxPlayback is the number of seconds of raw audio retained.
	MaxPlayback int
	// MaxSeriesEntries caps the amplitude history; 0 keeps it unbounded.
	MaxSeriesEntries int
	// Threshold is the initial trigger threshold.
	Threshold float64
}

// Event is raised once for every chunk whose loudest second exceeds the threshold.
type Event struct {
	MaxAmplitudes []float64
	Threshold     float64
	At            time.Time
}

// Callback receives notification events on the dispatcher goroutine.
type Callback func(ctx context.Context, ev Event)

// Snapshot is a point-in-time deep copy of the analyzer state.
type Snapshot struct {
	Audio     [][]int16
	Series    Series
	Threshold float64
}

// Status is a cheap summary of the analyzer state.
type Status struct {
	Chunks          int
	BufferedSeconds int
	SeriesLength    int
	Threshold       float64
	LastIngest      time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithDrainTimeout bounds how long queued events are still delivered after shutdown.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.drainTimeout = d }
}

// Analyzer is the amplitude engine. It is safe for concurrent use.
type Analyzer struct {
	format           audio.Format
	chunkLen         int
	maxSeriesEntries int
	now              func() time.Time
	drainTimeout     time.Duration

	events *queue.Queue[Event]

	mu         sync.Mutex
	ring       *chunkRing
	series     Series
	threshold  float64
	callbacks  []Callback
	lastIngest time.Time
}

// New returns an Analyzer with empty buffers.
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	f := cfg.Format
	if f.SampleRate < 1 || f.Channels < 1 || f.ChunkDuration < 1 {
		return nil, fmt.Errorf("%w: sample_rate=%d channels=%d chunk_duration=%d",
			ErrInvalidConfig, f.SampleRate, f.Channels, f.ChunkDuration)
	}
	if cfg.MaxSeriesEntries < 0 {
		return nil, fmt.Errorf("%w: max_series_entries=%d", ErrInvalidConfig, cfg.MaxSeriesEntries)
	}

	a := &Analyzer{
		format:           f,
		chunkLen:         f.ChunkLen(),
		maxSeriesEntries: cfg.MaxSeriesEntries,
		now:              time.Now,
		drainTimeout:     types.ShutdownTimeout,
		events:           queue.New[Event](),
		ring:             newChunkRing(cfg.MaxPlayback / f.ChunkDuration),
		threshold:        cfg.Threshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Format returns the chunk format the analyzer was built for.
func (a *Analyzer) Format() audio.Format {
	return a.format
}

// Capacity returns the number of chunks the ring retains.
func (a *Analyzer) Capacity() int {
	return a.ring.capacity()
}

// Ingest appends chunk to the ring and its per-second statistics to the
// series. If any second is louder than the threshold, one Event carrying
// every per-second maximum of the chunk is queued for dispatch.
func (a *Analyzer) Ingest(chunk []int16) error {
	if len(chunk) != a.chunkLen {
		return fmt.Errorf("%w: got %d samples, want %d", ErrShapeMismatch, len(chunk), a.chunkLen)
	}

	// The statistics only depend on the chunk, so compute them before locking.
	mono := audio.MonoMagnitude(chunk, a.format.Channels)
	maxes, means := audio.WindowStats(mono, a.format.SampleRate)

	a.mu.Lock()
	now := a.now()
	a.ring.push(chunk)
	a.appendSeriesLocked(now, maxes, means)
	threshold := a.threshold
	a.lastIngest = now
	a.mu.Unlock()

	slog.Debug("chunk analyzed", "max", maxes, "mean", means)

	if slices.ContainsFunc(maxes, func(v float64) bool { return v > threshold }) {
		a.events.Push(Event{
			MaxAmplitudes: maxes,
			Threshold:     threshold,
			At:            now,
		})
	}
	return nil
}

// appendSeriesLocked back-fills one timestamp per window from now, the last
// window getting now-1s. A timestamp that does not advance past the previous
// entry is moved to previous+1s.
func (a *Analyzer) appendSeriesLocked(now time.Time, maxes, means []float64) {
	n := len(maxes)
	for k := range n {
		ts := now.Add(-time.Duration(n-k) * time.Second)
		if last := len(a.series.Timestamps); last > 0 {
			if prev := a.series.Timestamps[last-1]; !ts.After(prev) {
				ts = prev.Add(time.Second)
			}
		}
		a.series.Timestamps = append(a.series.Timestamps, ts)
	}
	a.series.Max = append(a.series.Max, maxes...)
	a.series.Mean = append(a.series.Mean, means...)

	if a.maxSeriesEntries > 0 {
		a.series.dropOldest(a.series.Len() - a.maxSeriesEntries)
	}
}

// Snapshot returns a deep copy of the buffered audio, the series and the threshold.
func (a *Analyzer) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunks := a.ring.tail(a.ring.len())
	audioCopy := make([][]int16, len(chunks))
	for i, c := range chunks {
		audioCopy[i] = slices.Clone(c)
	}
	return Snapshot{
		Audio:     audioCopy,
		Series:    a.series.clone(),
		Threshold: a.threshold,
	}
}

// TakeRecentAudio returns the most recent seconds of audio as one sample
// sequence and clears the whole ring. seconds <= 0, or fewer seconds than one
// chunk, takes everything buffered.
func (a *Analyzer) TakeRecentAudio(seconds int) ([]int16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ring.len() == 0 {
		return nil, ErrNoAudio
	}

	count := a.ring.len()
	if want := seconds / a.format.ChunkDuration; seconds > 0 && want > 0 {
		count = min(want, count)
	}

	chunks := a.ring.tail(count)
	out := make([]int16, 0, len(chunks)*a.chunkLen)
	for _, c := range chunks {
		out = append(out, c...)
	}
	a.ring.clear()
	return out, nil
}

// SetThreshold replaces the trigger threshold for all later ingestions.
func (a *Analyzer) SetThreshold(v float64) {
	a.mu.Lock()
	a.threshold = v
	a.mu.Unlock()
}

// Threshold returns the current trigger threshold.
func (a *Analyzer) Threshold() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threshold
}

// Reset clears the ring and the series. The threshold and callbacks are kept.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.ring.clear()
	a.series.reset()
	a.mu.Unlock()
}

// Status returns buffer sizes and the threshold without copying any samples.
func (a *Analyzer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Chunks:          a.ring.len(),
		BufferedSeconds: a.ring.len() * a.format.ChunkDuration,
		SeriesLength:    a.series.Len(),
		Threshold:       a.threshold,
		LastIngest:      a.lastIngest,
	}
}

// RegisterCallback appends fn to the callback list. Callbacks run in
// registration order; registering the same function twice runs it twice.
func (a *Analyzer) RegisterCallback(fn Callback) {
	a.mu.Lock()
	a.callbacks = append(a.callbacks, fn)
	a.mu.Unlock()
}

// PendingEvents returns the number of events waiting for dispatch.
func (a *Analyzer) PendingEvents() int {
	return a.events.Len()
}

// DispatchNotifications delivers queued events to the callbacks until ctx is
// cancelled. Events still queued at that point are delivered with a context
// bounded by the drain timeout.
func (a *Analyzer) DispatchNotifications(ctx context.Context) error {
	for ctx.Err() == nil {
		ev, err := a.events.Pop(ctx)
		if err != nil {
			break
		}
		a.dispatch(ctx, ev)
	}

	pending := a.events.Drain()
	if len(pending) == 0 {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.drainTimeout)
	defer cancel()
	slog.Info("delivering queued notifications before shutdown", "count", len(pending))
	for _, ev := range pending {
		if drainCtx.Err() != nil {
			slog.Warn("notification drain timed out", "dropped", len(pending))
			return nil
		}
		a.dispatch(drainCtx, ev)
		pending = pending[1:]
	}
	return nil
}

func (a *Analyzer) dispatch(ctx context.Context, ev Event) {
	a.mu.Lock()
	callbacks := slices.Clone(a.callbacks)
	a.mu.Unlock()

	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("notification callback panicked", "index", i, "panic", r)
				}
			}()
			cb(ctx, ev)
		}()
	}
}
