package audio

// Resample converts p to outRate using linear interpolation.
func Resample(p PCM, outRate int) PCM {
	return PCM{Samples: ResampleLinear(p.Samples, p.Rate, outRate), Rate: outRate}
}

// ResampleLinear resamples samples from inRate to outRate. Equal rates
// return a copy.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(samples) == 0 {
		return append([]float32(nil), samples...)
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := max(1, int(float64(len(samples))*ratio))
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		s0, s1 := samples[i0], samples[i0+1]
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}
