package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfiguration is returned when a conversion is requested that this
// package does not support, such as upsampling outgoing capture audio.
var ErrInvalidConfiguration = errors.New("audio: invalid configuration")

// Downsample converts a block of capture-rate float samples to 16-bit samples
// at targetRate using box-filter decimation.
//
// The ratio sourceRate/targetRate is kept real-valued. Output length is
// round(len(samples)/ratio). Output sample i is the mean of the input window
// [round(i*ratio), round((i+1)*ratio)), clipped to the input length, so drift
// across a block stays under one sample and independently resampled blocks
// tile without clicks. The mean is clamped to [-1, 1] and scaled by 32767.
//
// When the rates are equal the samples are only scaled, never reshaped.
// Downsample returns [ErrInvalidConfiguration] if targetRate > sourceRate or
// either rate is not positive. It allocates only the returned slice.
func Downsample(samples []float32, sourceRate, targetRate int) ([]int16, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("%w: sample rates must be positive (source %d, target %d)",
			ErrInvalidConfiguration, sourceRate, targetRate)
	}
	if targetRate > sourceRate {
		return nil, fmt.Errorf("%w: target rate %d exceeds source rate %d",
			ErrInvalidConfiguration, targetRate, sourceRate)
	}

	if targetRate == sourceRate {
		out := make([]int16, len(samples))
		for i, s := range samples {
			out[i] = toInt16(float64(s))
		}
		return out, nil
	}

	ratio := float64(sourceRate) / float64(targetRate)
	out := make([]int16, int(math.Round(float64(len(samples))/ratio)))

	prev := 0
	for i := range out {
		next := int(math.Round(float64(i+1) * ratio))
		if next > len(samples) {
			next = len(samples)
		}
		var sum float64
		count := 0
		for j := prev; j < next; j++ {
			sum += float64(samples[j])
			count++
		}
		if count > 0 {
			out[i] = toInt16(sum / float64(count))
		}
		if next > prev {
			prev = next
		}
	}
	return out, nil
}

// toInt16 clamps v to [-1, 1] and scales it to the int16 range, rounding to
// the nearest integer.
func toInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * math.MaxInt16))
}
