package audio

// downmixMono averages all channels per frame. Input is interleaved;
// len(samples) must be a multiple of channels.
func downmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += samples[base+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// resampleLinear converts mono samples from one sample rate to another
// using linear interpolation. The output length is exactly
// ceil(len(in) * to / from). Equal rates return the input unchanged.
func resampleLinear(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}

	// ceil(len(in) * to / from) without floating-point length drift
	outLen := (len(in)*to + from - 1) / from
	out := make([]float32, outLen)

	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
