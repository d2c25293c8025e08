package neuro

import (
	"math"
	"math/rand"
	"sync"
)

// Simulator generates a synthetic single-channel EEG-like signal: an
// alpha-band oscillation with slower drift, mains hum and Gaussian noise.
// Spikes of configurable amplitude can be injected to exercise event
// detection without hardware. Deterministic for a given seed.
type Simulator struct {
	mu         sync.Mutex
	sampleRate float64
	amplitude  float64
	noise      float64
	rng        *rand.Rand
	n          uint64
	spikeGain  float64
	spikeLeft  int
}

// NewSimulator creates a simulator producing samples at the given rate.
// amplitude scales the baseline oscillation, noise the additive Gaussian
// component.
func NewSimulator(sampleRate, amplitude, noise float64, seed int64) *Simulator {
	return &Simulator{
		sampleRate: sampleRate,
		amplitude:  amplitude,
		noise:      noise,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next synthetic sample and advances time.
func (s *Simulator) Next() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := float64(s.n) / s.sampleRate
	s.n++

	// 10 Hz alpha rhythm with slow 0.3 Hz drift and residual 60 Hz hum.
	v := s.amplitude * math.Sin(2*math.Pi*10*t)
	v += 0.3 * s.amplitude * math.Sin(2*math.Pi*0.3*t)
	v += 0.1 * s.amplitude * math.Sin(2*math.Pi*60*t)
	v += s.noise * s.rng.NormFloat64()

	if s.spikeLeft > 0 {
		v += s.spikeGain * s.amplitude
		s.spikeLeft--
	}
	return v
}

// InjectSpike adds a transient of gain x amplitude lasting the given
// number of samples, starting at the next Next call.
func (s *Simulator) InjectSpike(gain float64, samples int) {
	s.mu.Lock()
	s.spikeGain = gain
	s.spikeLeft = samples
	s.mu.Unlock()
}
