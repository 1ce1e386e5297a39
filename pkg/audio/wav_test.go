package audio_test

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// buildWAV assembles a RIFF/WAVE file. A LIST chunk with an odd payload is
// inserted before fmt so that padding is exercised.
func buildWAV(rate, channels, bits int, samples []int16) []byte {
	var b []byte
	u16 := func(v int) { b = binary.LittleEndian.AppendUint16(b, uint16(v)) }
	u32 := func(v int) { b = binary.LittleEndian.AppendUint32(b, uint32(v)) }

	b = append(b, "RIFF"...)
	u32(0) // patched below
	b = append(b, "WAVE"...)

	b = append(b, "LIST"...)
	u32(3)
	b = append(b, 'a', 'b', 'c', 0)

	b = append(b, "fmt "...)
	u32(16)
	u16(1)
	u16(channels)
	u32(rate)
	u32(rate * channels * bits / 8)
	u16(channels * bits / 8)
	u16(bits)

	b = append(b, "data"...)
	u32(len(samples) * 2)
	b = append(b, audio.EncodeInt16LE(samples)...)

	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	return b
}

func TestParseWAV(t *testing.T) {
	wav, err := audio.ParseWAV(buildWAV(22050, 1, 16, []int16{0, 16384, -16384}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wav.Format.SampleRate != 22050 || wav.Format.Channels != 1 {
		t.Errorf("format = %v, want 22050Hz mono", wav.Format)
	}
	want := []float32{0, 0.5, -0.5}
	if len(wav.Samples) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(wav.Samples), len(want))
	}
	for i := range want {
		if wav.Samples[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, wav.Samples[i], want[i])
		}
	}
}

func TestParseWAV_Stereo(t *testing.T) {
	wav, err := audio.ParseWAV(buildWAV(44100, 2, 16, []int16{100, 200, 300, 400}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wav.Format.Channels != 2 {
		t.Errorf("channels = %d, want 2", wav.Format.Channels)
	}
	if len(wav.Samples) != 4 {
		t.Errorf("samples = %d, want 4 interleaved", len(wav.Samples))
	}
}

func TestParseWAV_Errors(t *testing.T) {
	valid := buildWAV(16000, 1, 16, []int16{1, 2})
	noData := valid[:len(valid)-12]

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"too short", []byte("RIFF"), "too short"},
		{"not riff", append([]byte("RIFX"), valid[4:]...), "missing RIFF"},
		{"not wave", append(append([]byte{}, valid[:8]...), append([]byte("AVI "), valid[12:]...)...), "missing WAVE"},
		{"no data chunk", noData, "missing data chunk"},
		{"8-bit", buildWAV(16000, 1, 8, []int16{1}), "bit depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := audio.ParseWAV(tt.data)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
