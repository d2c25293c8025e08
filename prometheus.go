package main

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"gonum.org/v1/gonum/stat"

	"github.com/cwsl/ubereeg/neuro"
)

// PrometheusMetrics holds all metric collectors for the acquisition engine
// and the host it runs on
type PrometheusMetrics struct {
	// Engine metrics
	samplesTotal   prometheus.Gauge // Samples acquired in the current stream
	droppedSamples prometheus.Gauge // Samples fed while the engine was idle
	eventsTotal    prometheus.Gauge // Events detected in the current stream
	droppedEvents  prometheus.Gauge // Events dropped by a full observer queue
	eventRate      prometheus.Gauge // Events per minute since stream start
	bufferFill     prometheus.Gauge // Ring buffer fill ratio (0..1)
	streaming      prometheus.Gauge // 1 while the engine is streaming
	threshold      prometheus.Gauge // Active z-score detection threshold
	cooldown       prometheus.Gauge // Active cooldown in seconds
	lastEventZ     prometheus.Gauge // Peak |z| of the most recent event

	// Signal statistics over the most recent window
	signalMean prometheus.Gauge
	signalStd  prometheus.Gauge

	// Calibration gauges
	calibrationBaselineMean prometheus.Gauge
	calibrationBaselineStd  prometheus.Gauge
	calibrationSamples      prometheus.Gauge

	// WebSocket metrics
	wsConnections prometheus.Gauge
	wsFramesSent  prometheus.Counter
	wsDropped     prometheus.Counter

	// System metrics
	cpuPercent prometheus.Gauge
	memPercent prometheus.Gauge

	engine   *neuro.Engine
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewPrometheusMetrics registers all collectors with the default registry
func NewPrometheusMetrics(engine *neuro.Engine) *PrometheusMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return promauto.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return promauto.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}

	return &PrometheusMetrics{
		samplesTotal:   gauge("ubereeg_samples_total", "Samples acquired in the current stream"),
		droppedSamples: gauge("ubereeg_samples_dropped_total", "Samples dropped while the engine was idle"),
		eventsTotal:    gauge("ubereeg_events_total", "Neural events detected in the current stream"),
		droppedEvents:  gauge("ubereeg_events_dropped_total", "Events dropped by a full observer queue"),
		eventRate:      gauge("ubereeg_event_rate_per_minute", "Events per minute since stream start"),
		bufferFill:     gauge("ubereeg_buffer_fill_ratio", "Sample buffer fill ratio (0..1)"),
		streaming:      gauge("ubereeg_streaming", "1 while acquisition is active"),
		threshold:      gauge("ubereeg_detection_threshold", "Active z-score detection threshold"),
		cooldown:       gauge("ubereeg_cooldown_seconds", "Active event cooldown in seconds"),
		lastEventZ:     gauge("ubereeg_last_event_max_z", "Peak |z| of the most recent event"),

		signalMean: gauge("ubereeg_signal_mean", "Mean filtered value over the last second"),
		signalStd:  gauge("ubereeg_signal_std", "Stddev of filtered values over the last second"),

		calibrationBaselineMean: gauge("ubereeg_calibration_baseline_mean", "Baseline mean from the last calibration"),
		calibrationBaselineStd:  gauge("ubereeg_calibration_baseline_std", "Baseline stddev from the last calibration"),
		calibrationSamples:      gauge("ubereeg_calibration_samples", "Samples collected during the last calibration"),

		wsConnections: gauge("ubereeg_ws_connections", "Active WebSocket clients"),
		wsFramesSent:  counter("ubereeg_ws_frames_sent_total", "WebSocket frames sent"),
		wsDropped:     counter("ubereeg_ws_frames_dropped_total", "WebSocket frames dropped on slow clients"),

		cpuPercent: gauge("ubereeg_cpu_percent", "Process host CPU utilization percent"),
		memPercent: gauge("ubereeg_memory_percent", "Host memory utilization percent"),

		engine:   engine,
		stopChan: make(chan struct{}),
	}
}

// Start launches the periodic collection loop
func (pm *PrometheusMetrics) Start() {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.updateLoop()
	log.Printf("Prometheus: metrics collection started")
}

// Stop terminates the collection loop
func (pm *PrometheusMetrics) Stop() {
	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = false
	close(pm.stopChan)
	pm.mu.Unlock()
	pm.wg.Wait()
}

func (pm *PrometheusMetrics) updateLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopChan:
			return
		case <-ticker.C:
			pm.collect()
		}
	}
}

func (pm *PrometheusMetrics) collect() {
	snap := pm.engine.Snapshot()

	pm.samplesTotal.Set(float64(snap.TotalSamples))
	pm.droppedSamples.Set(float64(snap.DroppedSamples))
	pm.eventsTotal.Set(float64(snap.EventCount))
	pm.droppedEvents.Set(float64(snap.DroppedEvents))
	pm.threshold.Set(snap.Threshold)
	pm.cooldown.Set(snap.Cooldown)

	if snap.Streaming {
		pm.streaming.Set(1)
	} else {
		pm.streaming.Set(0)
	}

	if capacity := snap.Config.BufferCapacity(); capacity > 0 {
		pm.bufferFill.Set(float64(snap.BufferedSamples) / float64(capacity))
	}

	if snap.Streaming && snap.StartTime > 0 {
		elapsedMin := (float64(time.Now().UnixNano())/1e9 - snap.StartTime) / 60
		if elapsedMin > 0 {
			pm.eventRate.Set(float64(snap.EventCount) / elapsedMin)
		}
	}

	if n := len(snap.LastEvents); n > 0 {
		pm.lastEventZ.Set(snap.LastEvents[n-1].MaxZ)
	}

	if len(snap.Window) > 1 {
		mean, std := windowStats(snap.Window)
		pm.signalMean.Set(mean)
		pm.signalStd.Set(std)
	}

	if snap.Calibration != nil {
		pm.calibrationBaselineMean.Set(snap.Calibration.BaselineMean)
		pm.calibrationBaselineStd.Set(snap.Calibration.BaselineStd)
		pm.calibrationSamples.Set(float64(snap.Calibration.Samples))
	}

	// Host metrics (non-fatal if unavailable)
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		pm.cpuPercent.Set(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		pm.memPercent.Set(vm.UsedPercent)
	}
}

func windowStats(window []neuro.Sample) (mean, std float64) {
	values := make([]float64, len(window))
	for i, s := range window {
		values[i] = s.Filtered
	}
	return stat.Mean(values, nil), stat.PopStdDev(values, nil)
}
