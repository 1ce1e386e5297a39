// Package config provides the configuration schema, loader, hot-reload
// watcher, and backend registry for voxlink.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SpeechMode selects where speech audio comes from.
type SpeechMode string

const (
	// SpeechModeServer plays audio streamed by the server.
	SpeechModeServer SpeechMode = "server"

	// SpeechModeOnDevice speaks transcripts with a local synthesizer.
	SpeechModeOnDevice SpeechMode = "on_device"
)

// IsValid reports whether m is a recognised speech mode.
func (m SpeechMode) IsValid() bool {
	return m == SpeechModeServer || m == SpeechModeOnDevice
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultTransportRate    = 16000
	DefaultDialTimeout      = 10 * time.Second
	DefaultSendQueue        = 64
	DefaultAudioBackend     = "miniaudio"
	DefaultCaptureRate      = 48000
	DefaultBlockSize        = 4096
	DefaultAssistantSpeaker = "Fawkes"
	DefaultSynthTimeout     = 30 * time.Second
	DefaultBreakerFailures  = 3
	DefaultBreakerReset     = 30 * time.Second
	DefaultRenderWidth      = 100
)

// Config is the root configuration structure for voxlink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Speech  SpeechConfig  `yaml:"speech"`
	Render  RenderConfig  `yaml:"render"`
	Observe ObserveConfig `yaml:"observe"`
}

// ServerConfig describes the streaming server connection.
type ServerConfig struct {
	// URL is the ws:// or wss:// endpoint. Required.
	URL string `yaml:"url"`

	// TransportRate is the PCM sample rate both ends agree on.
	TransportRate int `yaml:"transport_rate"`

	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// SendQueue is the number of outbound messages buffered before capture
	// blocks are dropped.
	SendQueue int `yaml:"send_queue"`

	// Headers are added to the websocket handshake request.
	Headers map[string]string `yaml:"headers"`
}

// AudioConfig selects the device backend.
type AudioConfig struct {
	// Backend names a registered audio backend ("miniaudio", "portaudio").
	Backend string `yaml:"backend"`

	// CaptureRate is the microphone rate in Hz. It must not be below the
	// transport rate.
	CaptureRate int `yaml:"capture_rate"`

	// BlockSize is the capture period in frames.
	BlockSize int `yaml:"block_size"`
}

// SpeechConfig configures the speech path.
type SpeechConfig struct {
	Mode SpeechMode `yaml:"mode"`

	// AssistantSpeaker is the speaker whose final lines are spoken in
	// on-device mode. An explicit empty string speaks every final line.
	AssistantSpeaker *string `yaml:"assistant_speaker"`

	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Breaker     BreakerConfig     `yaml:"breaker"`
}

// Speaker returns the effective assistant speaker filter.
func (s SpeechConfig) Speaker() string {
	if s.AssistantSpeaker == nil {
		return DefaultAssistantSpeaker
	}
	return *s.AssistantSpeaker
}

// SynthesizerConfig selects and configures the on-device synthesizer. The
// Name field is used to look up the constructor in the [Registry].
type SynthesizerConfig struct {
	Name      string        `yaml:"name"`
	BaseURL   string        `yaml:"base_url"`
	Language  string        `yaml:"language"`
	SpeakerID string        `yaml:"speaker_id"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BreakerConfig tunes the circuit breaker guarding the synthesizer.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// RenderConfig controls terminal output.
type RenderConfig struct {
	// Color enables styled output. Default: true.
	Color *bool `yaml:"color"`

	// Width is the wrap width for transcript lines.
	Width int `yaml:"width"`
}

// ColorEnabled returns the effective color setting.
func (r RenderConfig) ColorEnabled() bool {
	return r.Color == nil || *r.Color
}

// ObserveConfig holds logging and status endpoint settings.
type ObserveConfig struct {
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr serves /metrics, /healthz and /readyz. Empty disables the
	// HTTP server.
	ListenAddr string `yaml:"listen_addr"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.TransportRate == 0 {
		cfg.Server.TransportRate = DefaultTransportRate
	}
	if cfg.Server.DialTimeout == 0 {
		cfg.Server.DialTimeout = DefaultDialTimeout
	}
	if cfg.Server.SendQueue == 0 {
		cfg.Server.SendQueue = DefaultSendQueue
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultAudioBackend
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Speech.Mode == "" {
		cfg.Speech.Mode = SpeechModeServer
	}
	if cfg.Speech.Synthesizer.Timeout == 0 {
		cfg.Speech.Synthesizer.Timeout = DefaultSynthTimeout
	}
	if cfg.Speech.Breaker.MaxFailures == 0 {
		cfg.Speech.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if cfg.Speech.Breaker.ResetTimeout == 0 {
		cfg.Speech.Breaker.ResetTimeout = DefaultBreakerReset
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = DefaultRenderWidth
	}
	if cfg.Observe.LogLevel == "" {
		cfg.Observe.LogLevel = LogInfo
	}
}
