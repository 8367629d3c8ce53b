package analyzer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-soundwatch/internal/audio"
)

// fakeClock advances by one chunk duration on every call.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestAnalyzer(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	clock := &fakeClock{
		t:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		step: time.Duration(cfg.Format.ChunkDuration) * time.Second,
	}
	a, err := New(cfg, WithClock(clock.Now), WithDrainTimeout(time.Second))
	require.NoError(t, err)
	return a
}

// exampleConfig is three one-second windows of two mono samples.
func exampleConfig() Config {
	return Config{
		Format:      audio.Format{SampleRate: 2, Channels: 1, ChunkDuration: 3},
		MaxPlayback: 9,
		Threshold:   5,
	}
}

func constChunk(cfg Config, v int16) []int16 {
	c := make([]int16, cfg.Format.ChunkLen())
	for i := range c {
		c[i] = v
	}
	return c
}

// collect starts the dispatcher and returns a channel of delivered events.
func collect(t *testing.T, a *Analyzer) <-chan Event {
	t.Helper()
	ch := make(chan Event, 16)
	a.RegisterCallback(func(_ context.Context, ev Event) { ch <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.DispatchNotifications(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ch
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero rate", Config{Format: audio.Format{SampleRate: 0, Channels: 1, ChunkDuration: 1}}},
		{"zero channels", Config{Format: audio.Format{SampleRate: 1, Channels: 0, ChunkDuration: 1}}},
		{"zero duration", Config{Format: audio.Format{SampleRate: 1, Channels: 1, ChunkDuration: 0}}},
		{"negative cap", Config{Format: audio.Format{SampleRate: 1, Channels: 1, ChunkDuration: 1}, MaxSeriesEntries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestIngestWorkedExample(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)
	events := collect(t, a)

	require.NoError(t, a.Ingest([]int16{1, 1, 2, 2, 9, 1}))

	snap := a.Snapshot()
	assert.Equal(t, []float64{1, 2, 9}, snap.Series.Max)
	assert.Equal(t, []float64{1, 2, 5}, snap.Series.Mean)
	assert.Len(t, snap.Audio, 1)

	select {
	case ev := <-events:
		assert.Equal(t, []float64{1, 2, 9}, ev.MaxAmplitudes)
		assert.Equal(t, 5.0, ev.Threshold)
	case <-time.After(time.Second):
		t.Fatal("no notification for crossing chunk")
	}
}

func TestIngestGrowsSeriesAndCapsRing(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)
	capacity := cfg.MaxPlayback / cfg.Format.ChunkDuration

	for i := 1; i <= 10; i++ {
		require.NoError(t, a.Ingest(constChunk(cfg, int16(i))))

		st := a.Status()
		assert.Equal(t, i*cfg.Format.ChunkDuration, st.SeriesLength)
		assert.Equal(t, min(i, capacity), st.Chunks)
		assert.LessOrEqual(t, st.Chunks, capacity)
	}

	snap := a.Snapshot()
	require.Len(t, snap.Audio, capacity)
	// Oldest evicted first; remaining chunks in chronological order.
	assert.Equal(t, int16(8), snap.Audio[0][0])
	assert.Equal(t, int16(9), snap.Audio[1][0])
	assert.Equal(t, int16(10), snap.Audio[2][0])
}

func TestIngestRejectsShapeMismatch(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, exampleConfig())
	err := a.Ingest([]int16{1, 2, 3})
	require.ErrorIs(t, err, ErrShapeMismatch)

	snap := a.Snapshot()
	assert.Empty(t, snap.Audio)
	assert.Zero(t, snap.Series.Len())
	assert.Zero(t, a.PendingEvents())
}

func TestIngestStereoAveragesMagnitudes(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Format:      audio.Format{SampleRate: 2, Channels: 2, ChunkDuration: 1},
		MaxPlayback: 1,
		Threshold:   100,
	}
	a := newTestAnalyzer(t, cfg)
	// Frames (4,-4) and (-32768,-32768): |x| averaged per frame is 4 and 32768.
	require.NoError(t, a.Ingest([]int16{4, -4, -32768, -32768}))

	snap := a.Snapshot()
	assert.Equal(t, []float64{32768}, snap.Series.Max)
	assert.Equal(t, []float64{16386}, snap.Series.Mean)
}

func TestNoEventAtOrBelowThreshold(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)

	require.NoError(t, a.Ingest(constChunk(cfg, 5)))
	require.NoError(t, a.Ingest(constChunk(cfg, -5)))
	assert.Zero(t, a.PendingEvents())

	require.NoError(t, a.Ingest(constChunk(cfg, 6)))
	assert.Equal(t, 1, a.PendingEvents(), "one event per crossing chunk, not per window")
}

func TestTimestampsBackfilledAndIncreasing(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// A frozen clock simulates a queue backlog processed in the same instant.
	a, err := New(cfg, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, a.Ingest(constChunk(cfg, 1)))
	require.NoError(t, a.Ingest(constChunk(cfg, 1)))

	ts := a.Snapshot().Series.Timestamps
	require.Len(t, ts, 6)
	assert.Equal(t, now.Add(-3*time.Second), ts[0])
	assert.Equal(t, now.Add(-1*time.Second), ts[2])
	for i := 1; i < len(ts); i++ {
		assert.True(t, ts[i].After(ts[i-1]), "timestamp %d not increasing", i)
	}
	assert.Equal(t, now.Add(2*time.Second), ts[5])
}

func TestSeriesCap(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	cfg.MaxSeriesEntries = 4
	a := newTestAnalyzer(t, cfg)

	require.NoError(t, a.Ingest([]int16{1, 1, 2, 2, 3, 3}))
	require.NoError(t, a.Ingest([]int16{4, 4, 5, 5, 6, 6}))

	snap := a.Snapshot()
	assert.Equal(t, []float64{3, 4, 5, 6}, snap.Series.Max)
	assert.Len(t, snap.Series.Timestamps, 4)
	assert.Len(t, snap.Series.Mean, 4)
}

func TestResetClearsBuffersOnly(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)
	events := collect(t, a)

	require.NoError(t, a.Ingest(constChunk(cfg, 1)))
	a.SetThreshold(0.5)
	a.Reset()

	snap := a.Snapshot()
	assert.Empty(t, snap.Audio)
	assert.Zero(t, snap.Series.Len())
	assert.Equal(t, 0.5, snap.Threshold)

	// Callbacks survive a reset.
	require.NoError(t, a.Ingest(constChunk(cfg, 1)))
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("callback lost after reset")
	}
}

func TestTakeRecentAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seconds int
		want    []int16 // first sample of each returned chunk
	}{
		{"zero takes all", 0, []int16{1, 2, 3}},
		{"negative takes all", -1, []int16{1, 2, 3}},
		{"below one chunk takes all", 2, []int16{1, 2, 3}},
		{"one chunk", 3, []int16{3}},
		{"floor of partial chunks", 7, []int16{2, 3}},
		{"more than buffered", 60, []int16{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := exampleConfig()
			a := newTestAnalyzer(t, cfg)
			for i := int16(1); i <= 3; i++ {
				require.NoError(t, a.Ingest(constChunk(cfg, i)))
			}

			got, err := a.TakeRecentAudio(tt.seconds)
			require.NoError(t, err)

			chunkLen := cfg.Format.ChunkLen()
			require.Len(t, got, len(tt.want)*chunkLen)
			for i, first := range tt.want {
				assert.Equal(t, first, got[i*chunkLen])
				assert.Equal(t, first, got[(i+1)*chunkLen-1])
			}

			// The whole ring is cleared, not only the taken chunks.
			assert.Zero(t, a.Status().Chunks)
			assert.Equal(t, 9, a.Status().SeriesLength)
		})
	}
}

func TestTakeRecentAudioEmpty(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, exampleConfig())
	_, err := a.TakeRecentAudio(0)
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)
	require.NoError(t, a.Ingest(constChunk(cfg, 2)))

	snap := a.Snapshot()
	snap.Audio[0][0] = 99
	snap.Series.Max[0] = 99

	again := a.Snapshot()
	assert.Equal(t, int16(2), again.Audio[0][0])
	assert.Equal(t, 2.0, again.Series.Max[0])
}

func TestSnapshotAtomicUnderConcurrentIngest(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 500 {
			_ = a.Ingest(constChunk(cfg, 1))
		}
	})
	wg.Go(func() {
		for range 500 {
			a.SetThreshold(10)
			_, _ = a.TakeRecentAudio(0)
		}
	})

	for range 500 {
		snap := a.Snapshot()
		n := snap.Series.Len()
		assert.Zero(t, n%cfg.Format.ChunkDuration, "partial chunk observed")
		assert.Len(t, snap.Series.Max, n)
		assert.Len(t, snap.Series.Mean, n)
	}
	wg.Wait()
}

func TestThresholdChangeAffectsLaterIngest(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)
	events := collect(t, a)

	require.NoError(t, a.Ingest(constChunk(cfg, 7)))
	a.SetThreshold(100)
	require.NoError(t, a.Ingest(constChunk(cfg, 7)))

	select {
	case ev := <-events:
		assert.Equal(t, 5.0, ev.Threshold)
	case <-time.After(time.Second):
		t.Fatal("expected event for the first chunk")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after raising threshold: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 100.0, a.Threshold())
}

func TestCallbacksRunInOrderAndSurvivePanics(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)

	var mu sync.Mutex
	var order []string
	record := func(name string) Callback {
		return func(context.Context, Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	a.RegisterCallback(record("first"))
	a.RegisterCallback(func(context.Context, Event) { panic("boom") })
	a.RegisterCallback(record("second"))
	a.RegisterCallback(record("second"))

	require.NoError(t, a.Ingest(constChunk(cfg, 9)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.DispatchNotifications(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"first", "second", "second"}, order)
}

func TestDispatchDrainsQueuedEventsOnShutdown(t *testing.T) {
	t.Parallel()

	cfg := exampleConfig()
	a := newTestAnalyzer(t, cfg)

	var got int
	a.RegisterCallback(func(ctx context.Context, _ Event) {
		assert.NoError(t, ctx.Err())
		got++
	})

	require.NoError(t, a.Ingest(constChunk(cfg, 9)))
	require.NoError(t, a.Ingest(constChunk(cfg, 9)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.DispatchNotifications(ctx))
	assert.Equal(t, 2, got)
	assert.Zero(t, a.PendingEvents())
}
