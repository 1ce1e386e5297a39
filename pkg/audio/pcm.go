package audio

import (
	"encoding/binary"
	"errors"
)

// ErrOddLength is returned by [DecodeInt16LE] when the payload does not hold a
// whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM payload")

// EncodeInt16LE serialises samples as consecutive little-endian int16 values.
// There is no header; the output length is always 2*len(samples).
func EncodeInt16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeInt16LE interprets pcm as little-endian int16 samples and normalises
// each one by 32768 so the result lies in [-1.0, 1.0).
func DecodeInt16LE(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}
