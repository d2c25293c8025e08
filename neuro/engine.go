package neuro

import (
	"fmt"
	"sync"
	"time"

	"github.com/cwsl/ubereeg/dsp"
)

// eventQueueCap bounds the observer delivery queue. The producer never
// blocks on a slow observer: if the queue is full the event is dropped and
// counted instead.
const eventQueueCap = 64

// Engine owns the acquisition pipeline: filter, ring buffer and detector.
// One producer (the device transport) calls Feed once per raw sample; any
// number of goroutines may concurrently call the lifecycle, snapshot and
// configuration methods. The engine mutex is the single synchronization
// boundary: each sample is processed to completion under it, and every
// value crossing to a reader is a copy.
type Engine struct {
	cfg Config

	mu              sync.RWMutex
	buffer          *SampleBuffer
	pipeline        *dsp.Pipeline
	detector        *Detector
	thresholdPolicy ThresholdPolicy

	streaming bool
	startTime float64
	lastError error

	calibration *CalibrationResult

	observer func(EventRecord)
	events   chan EventRecord
	dispatch sync.WaitGroup

	droppedSamples uint64
	droppedEvents  uint64
}

// EngineSnapshot is a consistent copy of the engine state, safe to hold
// and serialize while acquisition continues.
type EngineSnapshot struct {
	Streaming       bool               `json:"streaming"`
	StartTime       float64            `json:"start_time"`
	Config          Config             `json:"config"`
	Threshold       float64            `json:"threshold"`
	Cooldown        float64            `json:"cooldown"`
	EventCount      uint64             `json:"event_count"`
	LastEvents      []EventRecord      `json:"last_events"`
	Window          []Sample           `json:"window"`
	TotalSamples    uint64             `json:"total_samples"`
	BufferedSamples int                `json:"buffered_samples"`
	DroppedSamples  uint64             `json:"dropped_samples"`
	DroppedEvents   uint64             `json:"dropped_events"`
	Calibration     *CalibrationResult `json:"calibration,omitempty"`
	LastError       string             `json:"last_error,omitempty"`
}

// NewEngine validates the configuration, designs the filter chain and
// allocates the sample buffer. Invalid filter parameters fail here, before
// any sample is processed.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	pipeline, err := dsp.NewPipeline(cfg.filterConfig())
	if err != nil {
		return nil, fmt.Errorf("filter design: %w", err)
	}
	return &Engine{
		cfg:             cfg,
		buffer:          NewSampleBuffer(cfg.BufferCapacity()),
		pipeline:        pipeline,
		detector:        NewDetector(cfg.DetectionWindow, cfg.ZThreshold, cfg.CooldownSeconds),
		thresholdPolicy: FixedThresholdPolicy(cfg.CalibrationThreshold),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start transitions Idle -> Streaming: buffer history is discarded, filter
// delay lines are zeroed and detector counters reset. Returns
// ErrAlreadyStreaming when called twice without an intervening Stop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.streaming {
		return ErrAlreadyStreaming
	}

	now := unixNow()
	e.buffer.Reset()
	e.pipeline.Reset()
	e.detector.Reset(now)
	e.startTime = now
	e.lastError = nil

	e.events = make(chan EventRecord, eventQueueCap)
	e.dispatch.Add(1)
	go e.dispatchLoop(e.events)

	e.streaming = true
	return nil
}

// Stop transitions Streaming -> Idle and waits until the producer path is
// quiescent and all queued event notifications have been delivered.
// Calling Stop while Idle is a no-op. Buffer contents and detector
// counters survive until the next Start, so snapshots taken between Stop
// and Start still reflect the finished stream.
func (e *Engine) Stop() error {
	return e.stop(nil)
}

// StopWithError stops the engine and records a terminal cause, used by the
// transport when a systemic failure (closed port, repeated decode errors)
// ends acquisition. The cause appears in subsequent snapshots.
func (e *Engine) StopWithError(cause error) error {
	return e.stop(cause)
}

func (e *Engine) stop(cause error) error {
	e.mu.Lock()
	if cause != nil {
		e.lastError = cause
	}
	if !e.streaming {
		e.mu.Unlock()
		return nil
	}
	e.streaming = false
	ch := e.events
	e.events = nil
	close(ch)
	e.mu.Unlock()

	e.dispatch.Wait()
	return nil
}

// IsStreaming reports whether the engine is in the Streaming state.
func (e *Engine) IsStreaming() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.streaming
}

// Feed ingests one raw sample with its acquisition timestamp (unix
// seconds). It is the single ingestion point and must be called by exactly
// one producer goroutine, in sample order. Samples fed while the engine is
// not streaming are dropped and counted.
func (e *Engine) Feed(raw, timestamp float64) {
	e.mu.Lock()

	if !e.streaming {
		e.droppedSamples++
		e.mu.Unlock()
		return
	}

	filtered := e.pipeline.Process(raw)
	s := e.buffer.Append(raw, filtered, timestamp)

	if e.buffer.Size() >= e.cfg.DetectionWindow {
		window := e.buffer.ReadFiltered(e.cfg.DetectionWindow)
		if rec, fired := e.detector.Evaluate(window, s.Sequence, timestamp); fired {
			// Non-blocking enqueue: delivery order is preserved, a full
			// queue drops the event rather than stalling acquisition.
			select {
			case e.events <- rec:
			default:
				e.droppedEvents++
			}
		}
	}

	e.mu.Unlock()
}

// RegisterObserver installs the event callback. The callback runs on a
// dedicated dispatch goroutine, one event at a time, in detection order.
// The callback must not call Stop or StopWithError: Stop waits for the
// dispatch goroutine to drain, so a lifecycle call from inside the
// callback deadlocks. Publish, log or signal another goroutine instead.
func (e *Engine) RegisterObserver(fn func(EventRecord)) {
	e.mu.Lock()
	e.observer = fn
	e.mu.Unlock()
}

func (e *Engine) dispatchLoop(ch chan EventRecord) {
	defer e.dispatch.Done()
	for rec := range ch {
		e.mu.RLock()
		fn := e.observer
		e.mu.RUnlock()
		if fn != nil {
			fn(rec)
		}
	}
}

// Snapshot returns a copy of the live engine state: the most recent second
// of samples, detector counters, recent events and active configuration.
// Available in any state.
func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := EngineSnapshot{
		Streaming:       e.streaming,
		StartTime:       e.startTime,
		Config:          e.cfg,
		Threshold:       e.detector.Threshold(),
		Cooldown:        e.detector.Cooldown(),
		EventCount:      e.detector.Count(),
		LastEvents:      e.detector.Events(10),
		Window:          e.buffer.ReadWindow(int(e.cfg.SampleRate)),
		TotalSamples:    e.buffer.Total(),
		BufferedSamples: e.buffer.Size(),
		DroppedSamples:  e.droppedSamples,
		DroppedEvents:   e.droppedEvents,
	}
	if e.calibration != nil {
		c := *e.calibration
		snap.Calibration = &c
	}
	if e.lastError != nil {
		snap.LastError = e.lastError.Error()
	}
	return snap
}

// ExportWindow returns copies of the n most recent samples for the
// persistence collaborator. The engine itself performs no file I/O.
func (e *Engine) ExportWindow(n int) []Sample {
	return e.buffer.ReadWindow(n)
}

// EventCount returns the number of events detected in the current stream.
func (e *Engine) EventCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detector.Count()
}

// Events returns a copy of the most recent n event records.
func (e *Engine) Events(n int) []EventRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detector.Events(n)
}

// SetThreshold updates the detection threshold; the next detector
// evaluation sees the new value.
func (e *Engine) SetThreshold(z float64) error {
	if z <= 0 {
		return fmt.Errorf("z threshold must be positive, got %.2f", z)
	}
	e.mu.Lock()
	e.detector.SetThreshold(z)
	e.mu.Unlock()
	return nil
}

// Threshold returns the active detection threshold.
func (e *Engine) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detector.Threshold()
}

// SetCooldown updates the minimum wall-clock interval between events.
func (e *Engine) SetCooldown(seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("cooldown must not be negative, got %.2f", seconds)
	}
	e.mu.Lock()
	e.detector.SetCooldown(seconds)
	e.mu.Unlock()
	return nil
}

// SetThresholdPolicy replaces the calibration threshold derivation. The
// default policy returns the configured fixed z-score regardless of the
// measured baseline.
func (e *Engine) SetThresholdPolicy(p ThresholdPolicy) {
	e.mu.Lock()
	e.thresholdPolicy = p
	e.mu.Unlock()
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
