package audio

// Helpers for audio that does not come off the wire: synthesized speech and
// device buffers, which may arrive at any rate or channel count.

// ResampleMono resamples mono float samples from srcRate to dstRate using
// linear interpolation. It works in both directions and is meant for local
// speech output; outgoing capture audio goes through [Downsample] instead.
// If the rates match or either is not positive, samples is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Downmix averages interleaved multi-channel samples into a single channel.
// A trailing partial frame is dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ToFormat converts interleaved samples in format from to a mono stream at
// rate. It is the single entry point backends use to adapt a decoded clip to
// the playback device.
func ToFormat(samples []float32, from Format, rate int) []float32 {
	return ResampleMono(Downmix(samples, from.Channels), from.SampleRate, rate)
}
