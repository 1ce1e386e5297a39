package audio

import "fmt"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// CaptureBlock is one buffer of microphone samples as delivered by a capture
// device callback. Samples are normalised floats in [-1.0, 1.0] at SampleRate.
//
// A block is consumed exactly once by [Downsample] and must not be retained
// by the consumer after the callback returns; devices reuse the backing array.
type CaptureBlock struct {
	Samples    []float32
	SampleRate int
}

// Chunk is one decoded unit of playback audio: mono normalised floats at
// SampleRate. Its length is whatever the remote sender chose to frame.
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the chunk in seconds.
func (c Chunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
