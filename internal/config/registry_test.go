package config_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/pkg/audio"
	audiomock "github.com/MrWong99/voxlink/pkg/audio/mock"
	"github.com/MrWong99/voxlink/pkg/speech"
	speechmock "github.com/MrWong99/voxlink/pkg/speech/mock"
)

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateAudio(config.AudioConfig{Backend: "miniaudio"}, 16000)
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateAudio error = %v, want ErrBackendNotRegistered", err)
	}
	_, err = reg.CreateSynthesizer(config.SynthesizerConfig{Name: "coqui"}, config.SynthesizerDeps{})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateSynthesizer error = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_CreateAudio(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotRate int
	var gotCfg config.AudioConfig
	reg.RegisterAudio("fake", func(cfg config.AudioConfig, playbackRate int) (*config.AudioDevices, error) {
		gotCfg, gotRate = cfg, playbackRate
		return &config.AudioDevices{
			Capture:  &audiomock.CaptureDevice{},
			Playback: &audiomock.PlaybackDevice{},
			Close:    func() error { return nil },
		}, nil
	})
	reg.RegisterAudio("another", func(config.AudioConfig, int) (*config.AudioDevices, error) {
		return nil, errors.New("unused")
	})

	devs, err := reg.CreateAudio(config.AudioConfig{Backend: "fake", CaptureRate: 48000}, 16000)
	if err != nil {
		t.Fatalf("CreateAudio: %v", err)
	}
	if devs.Capture == nil || devs.Playback == nil {
		t.Error("devices not returned")
	}
	if gotRate != 16000 || gotCfg.CaptureRate != 48000 {
		t.Errorf("factory got cfg=%+v rate=%d", gotCfg, gotRate)
	}
	if got := reg.AudioBackends(); !slices.Equal(got, []string{"another", "fake"}) {
		t.Errorf("AudioBackends = %v", got)
	}
}

func TestRegistry_CreateSynthesizer(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	playback := &audiomock.PlaybackDevice{}

	var got config.SynthesizerDeps
	reg.RegisterSynthesizer("fake", func(_ config.SynthesizerConfig, deps config.SynthesizerDeps) (speech.Synthesizer, error) {
		got = deps
		return &speechmock.Synthesizer{}, nil
	})

	synth, err := reg.CreateSynthesizer(config.SynthesizerConfig{Name: "fake"}, config.SynthesizerDeps{
		Playback: playback,
		Rate:     16000,
	})
	if err != nil {
		t.Fatalf("CreateSynthesizer: %v", err)
	}
	if got.Playback != audio.PlaybackDevice(playback) || got.Rate != 16000 {
		t.Errorf("deps not forwarded: %+v", got)
	}
	if err := synth.Speak(context.Background(), "hi", nil, nil); err != nil {
		t.Errorf("Speak: %v", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	first := errors.New("first")
	second := errors.New("second")
	reg.RegisterAudio("x", func(config.AudioConfig, int) (*config.AudioDevices, error) { return nil, first })
	reg.RegisterAudio("x", func(config.AudioConfig, int) (*config.AudioDevices, error) { return nil, second })

	_, err := reg.CreateAudio(config.AudioConfig{Backend: "x"}, 16000)
	if !errors.Is(err, second) {
		t.Errorf("err = %v, want second registration", err)
	}
}
