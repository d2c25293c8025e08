package dsp

// FiltFilt applies the configured filter chain forward and then backward
// over a complete recording, cancelling the phase delay of the IIR stages.
// This needs the whole signal up front, so it is strictly an offline/export
// utility; the streaming path always uses Pipeline.Process.
func FiltFilt(cfg PipelineConfig, data []float64) ([]float64, error) {
	forward, err := NewPipeline(cfg)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = forward.Process(v)
	}

	backward, err := NewPipeline(cfg)
	if err != nil {
		return nil, err
	}
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = backward.Process(out[i])
	}
	return out, nil
}
