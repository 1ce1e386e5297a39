// Package miniaudio implements [audio.CaptureDevice] and [audio.PlaybackDevice]
// on top of miniaudio via github.com/gen2brain/malgo.
//
// Both devices run 32-bit float mono. Capture delivers blocks of
// Config.BlockSize frames at Config.CaptureRate; playback renders chunks at
// Config.PlaybackRate, resampling any chunk submitted at another rate.
package miniaudio

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"
)

// Config selects device parameters. Zero fields take the defaults listed.
type Config struct {
	// CaptureRate is the microphone sample rate in Hz. Default: 48000.
	CaptureRate int

	// PlaybackRate is the speaker sample rate in Hz. Default: 16000.
	PlaybackRate int

	// BlockSize is the capture period in frames. Default: 4096.
	BlockSize int
}

func (c *Config) applyDefaults() {
	if c.CaptureRate <= 0 {
		c.CaptureRate = 48000
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = 16000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 4096
	}
}

// Client owns one malgo context and the capture and playback devices opened
// on it. Use [Client.Capture] and [Client.Playback] to obtain the audio
// interfaces.
type Client struct {
	// audioContext is kept so it can be released in Close.
	audioContext *malgo.AllocatedContext

	capture  *CaptureDevice
	playback *PlaybackDevice
}

// NewClient initialises the default capture and playback devices. The
// playback device is started immediately and renders silence until a chunk is
// submitted; capture starts on [CaptureDevice.Start].
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	c := &Client{audioContext: audioCtx}

	c.playback, err = newPlaybackDevice(audioCtx, cfg.PlaybackRate)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.capture, err = newCaptureDevice(audioCtx, cfg.CaptureRate, cfg.BlockSize)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Capture returns the microphone device.
func (c *Client) Capture() *CaptureDevice { return c.capture }

// Playback returns the speaker device.
func (c *Client) Playback() *PlaybackDevice { return c.playback }

// Close uninitialises both devices and releases the context.
func (c *Client) Close() error {
	var errs []error
	if c.capture != nil {
		errs = append(errs, c.capture.uninit())
	}
	if c.playback != nil {
		errs = append(errs, c.playback.uninit())
	}
	if c.audioContext != nil {
		errs = append(errs, c.audioContext.Uninit())
		c.audioContext.Free()
		c.audioContext = nil
	}
	return errors.Join(errs...)
}
