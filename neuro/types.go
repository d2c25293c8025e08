package neuro

import (
	"errors"
	"fmt"

	"github.com/cwsl/ubereeg/dsp"
)

// Engine state machine errors
var (
	ErrAlreadyStreaming = errors.New("engine is already streaming")
	ErrNotStreaming     = errors.New("engine is not streaming")
	ErrInsufficientData = errors.New("insufficient data for calibration")
)

// Sample is one acquired value after filtering. Samples are immutable once
// written; Sequence increases monotonically for the lifetime of the engine
// and never resets, even though buffer storage wraps.
type Sample struct {
	Sequence  uint64  `json:"sequence"`
	Raw       float64 `json:"raw"`
	Filtered  float64 `json:"filtered"`
	Timestamp float64 `json:"timestamp"`
}

// EventRecord describes one detected neural event.
type EventRecord struct {
	Number    uint64  `json:"number"`    // 1-based event count at time of firing
	Sequence  uint64  `json:"sequence"`  // sample sequence that triggered detection
	Timestamp float64 `json:"timestamp"` // unix seconds
	Elapsed   float64 `json:"elapsed"`   // seconds since stream start
	MaxZ      float64 `json:"max_z"`     // peak |z| within the detection window
}

// CalibrationResult holds the statistics measured during a baseline
// recording and the threshold derived from them.
type CalibrationResult struct {
	BaselineMean float64 `json:"baseline_mean"`
	BaselineStd  float64 `json:"baseline_std"`
	Threshold    float64 `json:"threshold"`
	Duration     float64 `json:"duration"`
	Samples      uint64  `json:"samples"`
	CompletedAt  float64 `json:"completed_at"`
}

// ThresholdPolicy derives a detection threshold from measured baseline
// statistics. The default policy ignores the statistics and returns a fixed
// z-score, but callers may install an adaptive policy instead.
type ThresholdPolicy func(baselineMean, baselineStd float64) float64

// FixedThresholdPolicy returns a policy that always yields z regardless of
// the measured baseline.
func FixedThresholdPolicy(z float64) ThresholdPolicy {
	return func(_, _ float64) float64 { return z }
}

// Config holds the acquisition engine parameters. Everything except the
// detection threshold and cooldown is immutable after construction.
type Config struct {
	SampleRate           float64 `json:"sample_rate"`
	BufferSeconds        float64 `json:"buffer_seconds"`
	BandpassLowHz        float64 `json:"bandpass_low_hz"`
	BandpassHighHz       float64 `json:"bandpass_high_hz"`
	NotchHz              float64 `json:"notch_hz"`
	NotchQ               float64 `json:"notch_q"`
	DetectionWindow      int     `json:"detection_window"`
	ZThreshold           float64 `json:"z_threshold"`
	CooldownSeconds      float64 `json:"cooldown_seconds"`
	CalibrationThreshold float64 `json:"calibration_threshold"`
}

// DefaultConfig returns the standard single-channel EEG configuration:
// 250 Hz sampling, 5 second buffer, 1-45 Hz bandpass, 60 Hz notch,
// 200 ms detection window.
func DefaultConfig() Config {
	return Config{
		SampleRate:           250,
		BufferSeconds:        5,
		BandpassLowHz:        1,
		BandpassHighHz:       45,
		NotchHz:              60,
		NotchQ:               30,
		DetectionWindow:      50,
		ZThreshold:           50,
		CooldownSeconds:      0.5,
		CalibrationThreshold: 5,
	}
}

// Validate checks the engine parameters, delegating filter design limits to
// the dsp package.
func (c Config) Validate() error {
	if err := c.filterConfig().Validate(); err != nil {
		return err
	}
	if c.BufferSeconds <= 0 {
		return fmt.Errorf("buffer seconds must be positive, got %.2f", c.BufferSeconds)
	}
	if c.DetectionWindow < 2 {
		return fmt.Errorf("detection window must be at least 2 samples, got %d", c.DetectionWindow)
	}
	if float64(c.DetectionWindow) > c.BufferSeconds*c.SampleRate {
		return fmt.Errorf("detection window (%d samples) exceeds buffer capacity (%.0f samples)",
			c.DetectionWindow, c.BufferSeconds*c.SampleRate)
	}
	if c.ZThreshold <= 0 {
		return fmt.Errorf("z threshold must be positive, got %.2f", c.ZThreshold)
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown must not be negative, got %.2f", c.CooldownSeconds)
	}
	return nil
}

func (c Config) filterConfig() dsp.PipelineConfig {
	return dsp.PipelineConfig{
		SampleRate:     c.SampleRate,
		BandpassLowHz:  c.BandpassLowHz,
		BandpassHighHz: c.BandpassHighHz,
		NotchHz:        c.NotchHz,
		NotchQ:         c.NotchQ,
	}
}

// BufferCapacity returns the ring buffer slot count for this configuration.
func (c Config) BufferCapacity() int {
	return int(c.BufferSeconds * c.SampleRate)
}
