package neuro

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.ZThreshold = 3
	cfg.CooldownSeconds = 3
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

// feedSine pushes seconds worth of a 10 Hz sine with synthetic
// timestamps, optionally adding impulses at the given offsets (seconds
// from the start of this call).
func feedSine(e *Engine, startAt, seconds float64, impulses ...float64) {
	rate := e.Config().SampleRate
	n := int(seconds * rate)
	for i := 0; i < n; i++ {
		t := float64(i) / rate
		v := math.Sin(2 * math.Pi * 10 * t)
		for _, at := range impulses {
			if i == int(at*rate) {
				v += 1000
			}
		}
		e.Feed(v, startAt+t)
	}
}

func TestEngineInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BandpassHighHz = 200 // above Nyquist at 250 Hz
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.DetectionWindow = 1
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestEngineLifecycle(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())

	assert.False(t, e.IsStreaming())
	require.NoError(t, e.Start())
	assert.True(t, e.IsStreaming())

	assert.ErrorIs(t, e.Start(), ErrAlreadyStreaming)

	require.NoError(t, e.Stop())
	assert.False(t, e.IsStreaming())

	// Stop while idle is a no-op.
	require.NoError(t, e.Stop())

	// A new stream can begin.
	require.NoError(t, e.Start())
	require.NoError(t, e.Stop())
}

func TestEngineDropsSamplesWhileIdle(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())

	e.Feed(1.0, 0.004)
	e.Feed(2.0, 0.008)

	snap := e.Snapshot()
	assert.Equal(t, uint64(0), snap.TotalSamples)
	assert.Equal(t, uint64(2), snap.DroppedSamples)
}

func TestEngineCleanSignalNoEvents(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start())
	defer e.Stop()

	feedSine(e, 0, 4)

	assert.Equal(t, uint64(0), e.EventCount())
	snap := e.Snapshot()
	assert.Equal(t, uint64(1000), snap.TotalSamples)
	assert.Equal(t, uint64(0), snap.DroppedEvents)
}

func TestEngineDetectsImpulse(t *testing.T) {
	cfg := testEngineConfig()
	e := newTestEngine(t, cfg)
	require.NoError(t, e.Start())

	feedSine(e, 0, 5, 1.0)
	require.NoError(t, e.Stop())

	require.Equal(t, uint64(1), e.EventCount())

	events := e.Events(0)
	require.Len(t, events, 1)
	rec := events[0]
	assert.Equal(t, uint64(1), rec.Number)
	assert.Greater(t, rec.MaxZ, cfg.ZThreshold)

	// The triggering sample lies within one detection window of the
	// impulse itself.
	impulseSeq := uint64(1.0 * cfg.SampleRate)
	assert.GreaterOrEqual(t, rec.Sequence, impulseSeq)
	assert.Less(t, rec.Sequence, impulseSeq+uint64(cfg.DetectionWindow))
}

func TestEngineCooldownSuppressesSecondImpulse(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start())

	// Two impulses 0.2s apart, cooldown 3s: only the first fires.
	feedSine(e, 0, 6, 1.0, 1.2)
	require.NoError(t, e.Stop())

	assert.Equal(t, uint64(1), e.EventCount())
}

func TestEngineDetectsSeparatedImpulses(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start())

	feedSine(e, 0, 12, 1.0, 8.0)
	require.NoError(t, e.Stop())

	require.Equal(t, uint64(2), e.EventCount())
	events := e.Events(0)
	assert.Equal(t, uint64(1), events[0].Number)
	assert.Equal(t, uint64(2), events[1].Number)
	assert.InDelta(t, 7.0, events[1].Timestamp-events[0].Timestamp, 0.3)
}

func TestEngineRestartResetsStreamState(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start())
	feedSine(e, 0, 3, 1.0)
	require.NoError(t, e.Stop())

	// Counters survive Stop for post-run inspection.
	snap := e.Snapshot()
	assert.False(t, snap.Streaming)
	assert.Equal(t, uint64(1), snap.EventCount)
	assert.Equal(t, uint64(750), snap.TotalSamples)
	assert.NotEmpty(t, snap.Window)

	// Start wipes history but sequences stay monotonic.
	require.NoError(t, e.Start())
	defer e.Stop()

	snap = e.Snapshot()
	assert.Equal(t, uint64(0), snap.EventCount)
	assert.Equal(t, 0, snap.BufferedSamples)
	assert.Empty(t, snap.Window)

	feedSine(e, 10, 1)
	window := e.ExportWindow(10)
	require.NotEmpty(t, window)
	assert.GreaterOrEqual(t, window[0].Sequence, uint64(750))
}

func TestEngineSnapshotWindowIsOneSecond(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start())
	defer e.Stop()

	feedSine(e, 0, 3)

	snap := e.Snapshot()
	assert.Len(t, snap.Window, 250)
	assert.Equal(t, 750, snap.BufferedSamples)
}

func TestEngineObserverReceivesEvents(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())

	var mu sync.Mutex
	var got []EventRecord
	e.RegisterObserver(func(rec EventRecord) {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	})

	require.NoError(t, e.Start())
	feedSine(e, 0, 12, 1.0, 8.0)
	require.NoError(t, e.Stop()) // waits for dispatch to drain

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Number)
	assert.Equal(t, uint64(2), got[1].Number)
}

func TestEngineSlowObserverDoesNotBlockFeed(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())

	block := make(chan struct{})
	e.RegisterObserver(func(rec EventRecord) {
		<-block
	})

	require.NoError(t, e.Start())

	start := time.Now()
	feedSine(e, 0, 5, 1.0)
	elapsed := time.Since(start)

	// The producer path never waits on the observer.
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, uint64(1), e.EventCount())

	close(block)
	require.NoError(t, e.Stop())
}

func TestEngineSetThreshold(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())

	assert.Error(t, e.SetThreshold(0))
	assert.Error(t, e.SetThreshold(-1))

	require.NoError(t, e.SetThreshold(7.5))
	assert.Equal(t, 7.5, e.Threshold())

	assert.Error(t, e.SetCooldown(-0.1))
	require.NoError(t, e.SetCooldown(1.25))
	assert.Equal(t, 1.25, e.Snapshot().Cooldown)
}

func TestEngineStopWithError(t *testing.T) {
	e := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start())

	require.NoError(t, e.StopWithError(assert.AnError))

	snap := e.Snapshot()
	assert.False(t, snap.Streaming)
	assert.Equal(t, assert.AnError.Error(), snap.LastError)

	// The error clears on the next Start.
	require.NoError(t, e.Start())
	assert.Empty(t, e.Snapshot().LastError)
	require.NoError(t, e.Stop())
}
