package main

import (
	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/pkg/audio/miniaudio"
	"github.com/MrWong99/voxlink/pkg/audio/portaudio"
	"github.com/MrWong99/voxlink/pkg/speech"
	"github.com/MrWong99/voxlink/pkg/speech/coqui"
)

// registerBuiltinBackends wires the audio backends and synthesizers that
// ship with voxlink into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterAudio("miniaudio", func(cfg config.AudioConfig, playbackRate int) (*config.AudioDevices, error) {
		c, err := miniaudio.NewClient(miniaudio.Config{
			CaptureRate:  cfg.CaptureRate,
			PlaybackRate: playbackRate,
			BlockSize:    cfg.BlockSize,
		})
		if err != nil {
			return nil, err
		}
		return &config.AudioDevices{Capture: c.Capture(), Playback: c.Playback(), Close: c.Close}, nil
	})

	reg.RegisterAudio("portaudio", func(cfg config.AudioConfig, playbackRate int) (*config.AudioDevices, error) {
		c, err := portaudio.NewClient(portaudio.Config{
			CaptureRate:  cfg.CaptureRate,
			PlaybackRate: playbackRate,
			BlockSize:    cfg.BlockSize,
		})
		if err != nil {
			return nil, err
		}
		return &config.AudioDevices{Capture: c.Capture(), Playback: c.Playback(), Close: c.Close}, nil
	})

	reg.RegisterSynthesizer("coqui", func(cfg config.SynthesizerConfig, deps config.SynthesizerDeps) (speech.Synthesizer, error) {
		opts := []coqui.Option{coqui.WithTimeout(cfg.Timeout)}
		if cfg.Language != "" {
			opts = append(opts, coqui.WithLanguage(cfg.Language))
		}
		if cfg.SpeakerID != "" {
			opts = append(opts, coqui.WithSpeakerID(cfg.SpeakerID))
		}
		if deps.Breaker != nil {
			opts = append(opts, coqui.WithBreaker(deps.Breaker))
		}
		if deps.Metrics != nil {
			opts = append(opts, coqui.WithMetrics(deps.Metrics))
		}
		if deps.Logger != nil {
			opts = append(opts, coqui.WithLogger(deps.Logger))
		}
		s, err := coqui.New(cfg.BaseURL, deps.Playback, deps.Rate, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
