package neuro

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// eventLogCap bounds the in-memory event log. Older events are discarded
// once the cap is reached; long-running sessions should export events via
// the observer or snapshot before they rotate out.
const eventLogCap = 1024

// Detector runs threshold-based event detection over a trailing window of
// filtered samples. All mutation happens on the producer path (one
// Evaluate call per newly written sample), so the detector itself carries
// no lock; the engine serializes access.
type Detector struct {
	window    int
	threshold float64
	cooldown  float64

	startTime     float64
	lastEventTime float64
	hasFired      bool
	count         uint64
	log           []EventRecord
}

// NewDetector creates a detector with the configured window, z-score
// threshold and wall-clock cooldown.
func NewDetector(window int, threshold, cooldown float64) *Detector {
	return &Detector{
		window:    window,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Reset clears counters, the event log and cooldown state for a new stream
// starting at startTime. The configured threshold and cooldown survive.
func (d *Detector) Reset(startTime float64) {
	d.startTime = startTime
	d.lastEventTime = 0
	d.hasFired = false
	d.count = 0
	d.log = nil
}

// Evaluate inspects the trailing window of filtered values ending at
// sequence seq. An event fires when the peak |z| of the window exceeds the
// threshold and the cooldown since the previous event has elapsed. A
// constant window (zero standard deviation) can never fire.
func (d *Detector) Evaluate(window []float64, seq uint64, now float64) (EventRecord, bool) {
	if len(window) < d.window {
		return EventRecord{}, false
	}

	mean := stat.Mean(window, nil)
	std := stat.PopStdDev(window, nil)
	if std == 0 || math.IsNaN(std) {
		return EventRecord{}, false
	}

	maxZ := 0.0
	for _, v := range window {
		if z := math.Abs((v - mean) / std); z > maxZ {
			maxZ = z
		}
	}

	if maxZ <= d.threshold {
		return EventRecord{}, false
	}
	if d.hasFired && now-d.lastEventTime <= d.cooldown {
		return EventRecord{}, false
	}

	d.count++
	d.lastEventTime = now
	d.hasFired = true

	rec := EventRecord{
		Number:    d.count,
		Sequence:  seq,
		Timestamp: now,
		Elapsed:   now - d.startTime,
		MaxZ:      maxZ,
	}

	if len(d.log) >= eventLogCap {
		copy(d.log, d.log[1:])
		d.log = d.log[:eventLogCap-1]
	}
	d.log = append(d.log, rec)

	return rec, true
}

// Count returns the number of events detected since the last Reset.
func (d *Detector) Count() uint64 {
	return d.count
}

// Events returns a copy of the most recent n log entries in detection
// order. n <= 0 returns the whole retained log.
func (d *Detector) Events(n int) []EventRecord {
	if n <= 0 || n > len(d.log) {
		n = len(d.log)
	}
	out := make([]EventRecord, n)
	copy(out, d.log[len(d.log)-n:])
	return out
}

// SetThreshold updates the z-score threshold; takes effect on the next
// Evaluate call.
func (d *Detector) SetThreshold(z float64) {
	d.threshold = z
}

// Threshold returns the active z-score threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// SetCooldown updates the minimum wall-clock interval between events.
func (d *Detector) SetCooldown(seconds float64) {
	d.cooldown = seconds
}

// Cooldown returns the active cooldown in seconds.
func (d *Detector) Cooldown() float64 {
	return d.cooldown
}
