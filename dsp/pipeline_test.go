package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() PipelineConfig {
	return PipelineConfig{
		SampleRate:     250,
		BandpassLowHz:  1,
		BandpassHighHz: 45,
		NotchHz:        60,
		NotchQ:         30,
	}
}

func sine(freq, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
	}
	return out
}

func rms(data []float64) float64 {
	sum := 0.0
	for _, v := range data {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(data)))
}

func TestPipelineConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PipelineConfig)
	}{
		{"zero sample rate", func(c *PipelineConfig) { c.SampleRate = 0 }},
		{"negative low cutoff", func(c *PipelineConfig) { c.BandpassLowHz = -1 }},
		{"high cutoff below low", func(c *PipelineConfig) { c.BandpassHighHz = 0.5 }},
		{"high cutoff at Nyquist", func(c *PipelineConfig) { c.BandpassHighHz = 125 }},
		{"notch above Nyquist", func(c *PipelineConfig) { c.NotchHz = 130 }},
		{"zero notch Q", func(c *PipelineConfig) { c.NotchQ = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewPipeline(cfg)
			assert.Error(t, err)
		})
	}

	assert.NoError(t, testConfig().Validate())
}

func TestPipelineDeterministic(t *testing.T) {
	input := sine(10, 250, 500)

	p1, err := NewPipeline(testConfig())
	require.NoError(t, err)
	p2, err := NewPipeline(testConfig())
	require.NoError(t, err)

	for i, v := range input {
		assert.Equal(t, p1.Process(v), p2.Process(v), "sample %d", i)
	}
}

func TestPipelineResetClearsState(t *testing.T) {
	input := sine(10, 250, 500)

	p, err := NewPipeline(testConfig())
	require.NoError(t, err)

	first := make([]float64, len(input))
	for i, v := range input {
		first[i] = p.Process(v)
	}

	p.Reset()
	for i, v := range input {
		assert.Equal(t, first[i], p.Process(v), "sample %d after reset", i)
	}
}

// The output at sample n must depend only on samples 0..n: processing a
// prefix of the input yields exactly the same outputs as processing the
// whole input.
func TestPipelineCausal(t *testing.T) {
	input := sine(25, 250, 400)

	full, err := NewPipeline(testConfig())
	require.NoError(t, err)
	prefix, err := NewPipeline(testConfig())
	require.NoError(t, err)

	fullOut := make([]float64, len(input))
	for i, v := range input {
		fullOut[i] = full.Process(v)
	}
	for i := 0; i < 200; i++ {
		assert.Equal(t, fullOut[i], prefix.Process(input[i]), "sample %d", i)
	}
}

func TestPipelineRejectsDC(t *testing.T) {
	p, err := NewPipeline(testConfig())
	require.NoError(t, err)

	// 10 seconds of constant input; the step transient has long decayed.
	var out float64
	for i := 0; i < 2500; i++ {
		out = p.Process(1.0)
	}
	assert.Less(t, math.Abs(out), 1e-6)
}

func TestPipelineNotchAttenuation(t *testing.T) {
	// Widen the passband so only the notch acts on 60 Hz.
	cfg := testConfig()
	cfg.BandpassHighHz = 100

	const n = 2500 // 10 seconds
	measure := func(freq float64) float64 {
		p, err := NewPipeline(cfg)
		require.NoError(t, err)
		out := make([]float64, 0, 250)
		for i, v := range sine(freq, cfg.SampleRate, n) {
			y := p.Process(v)
			if i >= n-250 {
				out = append(out, y)
			}
		}
		return rms(out)
	}

	passband := measure(10)
	notched := measure(60)

	// 10 Hz passes near unity, 60 Hz is suppressed by orders of magnitude.
	assert.InDelta(t, 1/math.Sqrt2, passband, 0.07)
	assert.Less(t, notched, passband/20)
}

func TestPipelineAttenuatesAboveBand(t *testing.T) {
	p, err := NewPipeline(testConfig())
	require.NoError(t, err)

	const n = 2500
	out := make([]float64, 0, 250)
	for i, v := range sine(90, 250, n) {
		y := p.Process(v)
		if i >= n-250 {
			out = append(out, y)
		}
	}
	// 90 Hz is an octave above the 45 Hz cutoff: a 4th-order rolloff
	// leaves well under a tenth of the input energy.
	assert.Less(t, rms(out), 0.1)
}

func TestFiltFilt(t *testing.T) {
	input := sine(60, 250, 1000)

	out, err := FiltFilt(testConfig(), input)
	require.NoError(t, err)
	require.Len(t, out, len(input))

	// Two passes through the notch leave essentially nothing of 60 Hz.
	assert.Less(t, rms(out[250:750]), 0.05)
}
