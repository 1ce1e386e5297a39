package miniaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// PlaybackDevice is a malgo-backed speaker. It implements
// [audio.PlaybackDevice]. Completions fire on a separate goroutine once the
// last sample of a chunk has been copied into a device period.
type PlaybackDevice struct {
	device     *malgo.Device
	sampleRate int

	mu      sync.Mutex
	pending []pendingChunk
}

type pendingChunk struct {
	samples    []float32
	pos        int
	onComplete func()
}

var _ audio.PlaybackDevice = (*PlaybackDevice)(nil)

func newPlaybackDevice(ctx *malgo.AllocatedContext, sampleRate int) (*PlaybackDevice, error) {
	p := &PlaybackDevice{sampleRate: sampleRate}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(sampleRate / 50) // 20ms
	cfg.Periods = 3

	var err error
	p.device, err = malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: p.process})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init playback device: %w", err)
	}
	if err := p.device.Start(); err != nil {
		p.device.Uninit()
		return nil, fmt.Errorf("miniaudio: start playback device: %w", err)
	}
	return p, nil
}

// Submit implements [audio.PlaybackDevice].
func (p *PlaybackDevice) Submit(chunk audio.Chunk, onComplete func()) error {
	if len(chunk.Samples) == 0 {
		return errors.New("miniaudio: empty chunk")
	}
	samples := chunk.Samples
	if chunk.SampleRate != 0 && chunk.SampleRate != p.sampleRate {
		samples = audio.ResampleMono(samples, chunk.SampleRate, p.sampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return errors.New("miniaudio: playback device closed")
	}
	p.pending = append(p.pending, pendingChunk{samples: samples, onComplete: onComplete})
	return nil
}

// Flush implements [audio.PlaybackDevice].
func (p *PlaybackDevice) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
}

func (p *PlaybackDevice) process(pOutput, _ []byte, frameCount uint32) {
	var done []func()

	p.mu.Lock()
	out := 0
	for out < int(frameCount) && len(p.pending) > 0 {
		head := &p.pending[0]
		for head.pos < len(head.samples) && out < int(frameCount) {
			binary.LittleEndian.PutUint32(pOutput[out*4:], math.Float32bits(head.samples[head.pos]))
			head.pos++
			out++
		}
		if head.pos == len(head.samples) {
			if head.onComplete != nil {
				done = append(done, head.onComplete)
			}
			p.pending = p.pending[1:]
		}
	}
	p.mu.Unlock()

	// Silence for the rest of the period.
	clear(pOutput[out*4 : int(frameCount)*4])

	if len(done) > 0 {
		go func() {
			for _, fn := range done {
				fn()
			}
		}()
	}
}

func (p *PlaybackDevice) uninit() error {
	p.mu.Lock()
	dev := p.device
	p.device = nil
	p.pending = nil
	p.mu.Unlock()

	if dev == nil {
		return nil
	}
	if err := dev.Stop(); err != nil {
		dev.Uninit()
		return fmt.Errorf("miniaudio: stop playback device: %w", err)
	}
	dev.Uninit()
	return nil
}
