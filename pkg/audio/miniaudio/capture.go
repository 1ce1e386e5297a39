package miniaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// CaptureDevice is a malgo-backed microphone. It implements
// [audio.CaptureDevice].
type CaptureDevice struct {
	device     *malgo.Device
	sampleRate int

	mu      sync.Mutex
	onBlock func(audio.CaptureBlock)
	muted   atomic.Bool

	// buf is reused across callbacks; blocks are only valid during onBlock.
	buf []float32
}

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

func newCaptureDevice(ctx *malgo.AllocatedContext, sampleRate, blockSize int) (*CaptureDevice, error) {
	c := &CaptureDevice{
		sampleRate: sampleRate,
		buf:        make([]float32, blockSize),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(blockSize)
	cfg.Periods = 2

	var err error
	c.device, err = malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: c.process})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init capture device: %w", err)
	}
	return c, nil
}

func (c *CaptureDevice) process(_, pInput []byte, frameCount uint32) {
	if c.muted.Load() {
		return
	}
	n := int(frameCount)
	if n == 0 || len(pInput) < n*4 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onBlock == nil {
		return
	}
	if cap(c.buf) < n {
		c.buf = make([]float32, n)
	}
	samples := c.buf[:n]
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pInput[i*4:]))
	}
	c.onBlock(audio.CaptureBlock{Samples: samples, SampleRate: c.sampleRate})
}

// Start implements [audio.CaptureDevice].
func (c *CaptureDevice) Start(onBlock func(audio.CaptureBlock)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errors.New("miniaudio: capture device not initialised")
	}
	c.onBlock = onBlock
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		c.onBlock = nil
		return fmt.Errorf("miniaudio: start capture device: %w", err)
	}
	return nil
}

// SetMuted implements [audio.CaptureDevice]. A muted device keeps running
// but drops its buffers before they reach the callback.
func (c *CaptureDevice) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Stop implements [audio.CaptureDevice].
func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	c.onBlock = nil
	dev := c.device
	c.mu.Unlock()

	if dev == nil || !dev.IsStarted() {
		return nil
	}
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("miniaudio: stop capture device: %w", err)
	}
	return nil
}

// SampleRate returns the capture rate the device was opened with.
func (c *CaptureDevice) SampleRate() int { return c.sampleRate }

func (c *CaptureDevice) uninit() error {
	if err := c.Stop(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return nil
}
