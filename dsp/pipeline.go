package dsp

import "fmt"

// Butterworth Q values for a 4th-order filter realized as two cascaded
// second-order sections.
const (
	butterworthQ1 = 0.54119610
	butterworthQ2 = 1.30656296
)

// PipelineConfig holds the filter chain parameters. All frequencies are in Hz.
type PipelineConfig struct {
	SampleRate     float64
	BandpassLowHz  float64
	BandpassHighHz float64
	NotchHz        float64
	NotchQ         float64
}

// Validate checks the configuration against the sample rate. Construction
// must fail here, not at the first sample.
func (c PipelineConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %.2f Hz", c.SampleRate)
	}
	nyquist := c.SampleRate / 2.0
	if c.BandpassLowHz <= 0 {
		return fmt.Errorf("bandpass low cutoff must be positive, got %.2f Hz", c.BandpassLowHz)
	}
	if c.BandpassHighHz <= c.BandpassLowHz {
		return fmt.Errorf("bandpass high cutoff (%.2f Hz) must be above low cutoff (%.2f Hz)",
			c.BandpassHighHz, c.BandpassLowHz)
	}
	if c.BandpassHighHz >= nyquist {
		return fmt.Errorf("bandpass high cutoff (%.2f Hz) must be below Nyquist (%.2f Hz)",
			c.BandpassHighHz, nyquist)
	}
	if c.NotchHz <= 0 || c.NotchHz >= nyquist {
		return fmt.Errorf("notch frequency (%.2f Hz) must be between 0 and Nyquist (%.2f Hz)",
			c.NotchHz, nyquist)
	}
	if c.NotchQ <= 0 {
		return fmt.Errorf("notch Q must be positive, got %.2f", c.NotchQ)
	}
	return nil
}

// Pipeline is the streaming filter chain applied to every raw sample:
// a 4th-order Butterworth bandpass (two highpass sections at the low cutoff
// cascaded with two lowpass sections at the high cutoff) followed by a
// narrow notch at the mains frequency. It is causal and single-pass; the
// persistent section state means Process must only ever be called from one
// goroutine, once per sample, in arrival order.
type Pipeline struct {
	sections []*Biquad
}

// NewPipeline designs the filter coefficients and returns a pipeline with
// zeroed state. Returns an error for configurations that cannot produce a
// stable filter.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		sections: []*Biquad{
			NewBiquad(BiquadHighpass, cfg.BandpassLowHz, cfg.SampleRate, butterworthQ1),
			NewBiquad(BiquadHighpass, cfg.BandpassLowHz, cfg.SampleRate, butterworthQ2),
			NewBiquad(BiquadLowpass, cfg.BandpassHighHz, cfg.SampleRate, butterworthQ1),
			NewBiquad(BiquadLowpass, cfg.BandpassHighHz, cfg.SampleRate, butterworthQ2),
			NewBiquad(BiquadNotch, cfg.NotchHz, cfg.SampleRate, cfg.NotchQ),
		},
	}, nil
}

// Process filters one raw sample, advancing the state of every section.
func (p *Pipeline) Process(raw float64) float64 {
	v := raw
	for _, s := range p.sections {
		v = s.Process(v)
	}
	return v
}

// Reset zeroes all section delay lines. Called at stream start so no state
// bleeds from a previous acquisition.
func (p *Pipeline) Reset() {
	for _, s := range p.sections {
		s.Reset()
	}
}
