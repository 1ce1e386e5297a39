package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV is a decoded RIFF/WAVE clip with 16-bit PCM payload.
type WAV struct {
	Format Format
	// Samples are interleaved and normalised to [-1.0, 1.0).
	Samples []float32
}

// ParseWAV walks the RIFF chunks of a 16-bit PCM WAV file and decodes its data
// chunk. Unknown chunks (LIST, fact, ...) are skipped.
func ParseWAV(data []byte) (WAV, error) {
	if len(data) < 12 {
		return WAV{}, errors.New("audio: WAV data too short to be a RIFF file")
	}
	if string(data[0:4]) != "RIFF" {
		return WAV{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return WAV{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	var (
		format   Format
		bits     = 16
		foundFmt bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return WAV{}, errors.New("audio: WAV fmt chunk truncated")
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAV{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			if bits != 16 {
				return WAV{}, fmt.Errorf("audio: unsupported WAV bit depth %d", bits)
			}
			end := min(body+size, len(data))
			pcm := data[body:end]
			if len(pcm)%2 != 0 {
				pcm = pcm[:len(pcm)-1]
			}
			samples, err := DecodeInt16LE(pcm)
			if err != nil {
				return WAV{}, err
			}
			return WAV{Format: format, Samples: samples}, nil
		}

		// Chunks are word-aligned.
		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAV{}, errors.New("audio: WAV data missing data chunk")
}
