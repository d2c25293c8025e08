package neuro

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Calibrate records a baseline for the given duration and derives a new
// detection threshold from its statistics via the installed threshold
// policy. If the engine is idle it is started for the calibration window
// and stopped again afterwards; an engine that was already streaming keeps
// streaming. On ErrInsufficientData the threshold is left untouched.
//
// Collection is bounded by buffer capacity: calibrating for longer than
// the buffer holds uses only the most recent buffer's worth of samples.
func (e *Engine) Calibrate(duration float64) (CalibrationResult, error) {
	if duration <= 0 {
		return CalibrationResult{}, fmt.Errorf("calibration duration must be positive, got %.2f", duration)
	}

	wasStreaming := e.IsStreaming()
	if !wasStreaming {
		if err := e.Start(); err != nil {
			return CalibrationResult{}, err
		}
	}

	start := e.buffer.Total()
	time.Sleep(time.Duration(duration * float64(time.Second)))
	end := e.buffer.Total()

	result, err := e.calibrateRange(start, end, duration)

	if !wasStreaming {
		e.Stop()
	}
	return result, err
}

// calibrateRange computes baseline statistics over the samples written
// between the two sequence marks and applies the threshold policy.
func (e *Engine) calibrateRange(start, end uint64, duration float64) (CalibrationResult, error) {
	// Read exactly the marked interval; samples arriving after the end
	// mark must not leak into the baseline. The buffer clamps away
	// anything that rotated out while calibrating.
	baseline := e.buffer.ReadFilteredRange(start, end)
	// At least one full second of samples is required.
	if float64(len(baseline)) < e.cfg.SampleRate {
		return CalibrationResult{}, ErrInsufficientData
	}

	mean := stat.Mean(baseline, nil)
	std := stat.PopStdDev(baseline, nil)

	e.mu.Lock()
	threshold := e.thresholdPolicy(mean, std)
	e.detector.SetThreshold(threshold)
	result := CalibrationResult{
		BaselineMean: mean,
		BaselineStd:  std,
		Threshold:    threshold,
		Duration:     duration,
		Samples:      uint64(len(baseline)),
		CompletedAt:  unixNow(),
	}
	e.calibration = &result
	e.mu.Unlock()

	return result, nil
}
