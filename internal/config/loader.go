package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known backend names per backend kind.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"audio":       {"miniaudio", "portaudio"},
	"synthesizer": {"coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url %q is invalid: %w", cfg.Server.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server.url %q must use ws:// or wss://", cfg.Server.URL))
	}
	if cfg.Server.TransportRate <= 0 {
		errs = append(errs, fmt.Errorf("server.transport_rate %d must be positive", cfg.Server.TransportRate))
	}
	if cfg.Server.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.dial_timeout %v must not be negative", cfg.Server.DialTimeout))
	}
	if cfg.Server.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("server.send_queue %d must not be negative", cfg.Server.SendQueue))
	}

	// Audio
	validateBackendName("audio", cfg.Audio.Backend)
	if cfg.Audio.CaptureRate < cfg.Server.TransportRate {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d is below server.transport_rate %d; capture audio is only ever downsampled",
			cfg.Audio.CaptureRate, cfg.Server.TransportRate))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", cfg.Audio.BlockSize))
	}

	// Speech
	if !cfg.Speech.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("speech.mode %q is invalid; valid values: server, on_device", cfg.Speech.Mode))
	}
	if cfg.Speech.Mode == SpeechModeOnDevice {
		synth := cfg.Speech.Synthesizer
		if synth.Name == "" {
			errs = append(errs, errors.New("speech.synthesizer.name is required when speech.mode is on_device"))
		}
		if synth.BaseURL == "" {
			errs = append(errs, errors.New("speech.synthesizer.base_url is required when speech.mode is on_device"))
		}
		validateBackendName("synthesizer", synth.Name)
	} else if cfg.Speech.Synthesizer.Name != "" {
		slog.Warn("speech.synthesizer is configured but speech.mode is server; it will not be used")
	}
	if cfg.Speech.Synthesizer.Timeout < 0 {
		errs = append(errs, fmt.Errorf("speech.synthesizer.timeout %v must not be negative", cfg.Speech.Synthesizer.Timeout))
	}
	if cfg.Speech.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("speech.breaker.max_failures %d must not be negative", cfg.Speech.Breaker.MaxFailures))
	}

	// Render
	if cfg.Render.Width < 20 {
		errs = append(errs, fmt.Errorf("render.width %d is too narrow; minimum is 20", cfg.Render.Width))
	}

	// Observe
	if !cfg.Observe.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("observe.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Observe.LogLevel))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or a third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
