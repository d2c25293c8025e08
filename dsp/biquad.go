package dsp

import "math"

// BiquadType selects the frequency response of a biquad section
type BiquadType int

const (
	BiquadLowpass BiquadType = iota
	BiquadHighpass
	BiquadNotch
)

// Biquad implements a second-order IIR filter section (RBJ cookbook
// coefficients). The delay line persists across calls, so a Biquad is a
// causal streaming filter: each Process call consumes exactly one input
// sample and produces exactly one output sample.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// NewBiquad creates a biquad section for the given type, center/corner
// frequency and Q at the given sample rate. Coefficients are computed once
// here and never change afterwards.
func NewBiquad(filterType BiquadType, freq, sampleRate, q float64) *Biquad {
	f := &Biquad{}
	f.configure(filterType, freq, sampleRate, q)
	return f
}

func (f *Biquad) configure(filterType BiquadType, freq, sampleRate, q float64) {
	omega := 2.0 * math.Pi * freq / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	alpha := sinOmega / (2.0 * q)

	var b0, b1, b2, a0, a1, a2 float64

	switch filterType {
	case BiquadLowpass:
		b0 = (1.0 - cosOmega) / 2.0
		b1 = 1.0 - cosOmega
		b2 = (1.0 - cosOmega) / 2.0
		a0 = 1.0 + alpha
		a1 = -2.0 * cosOmega
		a2 = 1.0 - alpha

	case BiquadHighpass:
		b0 = (1.0 + cosOmega) / 2.0
		b1 = -(1.0 + cosOmega)
		b2 = (1.0 + cosOmega) / 2.0
		a0 = 1.0 + alpha
		a1 = -2.0 * cosOmega
		a2 = 1.0 - alpha

	case BiquadNotch:
		b0 = 1.0
		b1 = -2.0 * cosOmega
		b2 = 1.0
		a0 = 1.0 + alpha
		a1 = -2.0 * cosOmega
		a2 = 1.0 - alpha
	}

	// Normalize so a0 == 1
	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0
}

// Process runs one sample through the section and advances the delay line.
func (f *Biquad) Process(input float64) float64 {
	output := f.b0*input + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2

	f.x2 = f.x1
	f.x1 = input
	f.y2 = f.y1
	f.y1 = output

	return output
}

// Reset clears the delay line without touching the coefficients.
func (f *Biquad) Reset() {
	f.x1, f.x2 = 0, 0
	f.y1, f.y2 = 0, 0
}
