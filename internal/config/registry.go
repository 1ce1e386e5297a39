package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/speech"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// AudioDevices is an opened capture/playback pair. Close releases both.
type AudioDevices struct {
	Capture  audio.CaptureDevice
	Playback audio.PlaybackDevice
	Close    func() error
}

// AudioFactory opens the devices of one audio backend. playbackRate is the
// rate chunks are submitted at.
type AudioFactory func(cfg AudioConfig, playbackRate int) (*AudioDevices, error)

// SynthesizerDeps are the runtime collaborators a synthesizer needs.
type SynthesizerDeps struct {
	Playback audio.PlaybackDevice
	Rate     int
	Breaker  *resilience.CircuitBreaker
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// SynthesizerFactory constructs an on-device synthesizer.
type SynthesizerFactory func(cfg SynthesizerConfig, deps SynthesizerDeps) (speech.Synthesizer, error)

// Registry maps backend names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	audio       map[string]AudioFactory
	synthesizer map[string]SynthesizerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:       make(map[string]AudioFactory),
		synthesizer: make(map[string]SynthesizerFactory),
	}
}

// RegisterAudio registers an audio backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterSynthesizer registers a synthesizer factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory SynthesizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer[name] = factory
}

// CreateAudio opens the backend registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateAudio(cfg AudioConfig, playbackRate int) (*AudioDevices, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg, playbackRate)
}

// CreateSynthesizer constructs the synthesizer registered under cfg.Name.
func (r *Registry) CreateSynthesizer(cfg SynthesizerConfig, deps SynthesizerDeps) (speech.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.synthesizer[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer/%q", ErrBackendNotRegistered, cfg.Name)
	}
	return factory(cfg, deps)
}

// AudioBackends returns the registered audio backend names, sorted.
func (r *Registry) AudioBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.audio))
	for name := range r.audio {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
