package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls when no interval is set.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc is called with the previous config, the newly loaded one and
// what differs between them.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// Watcher polls a config file and reports validated changes. Files that fail
// to parse or validate are logged and skipped; the last good config stays
// current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	hash    [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload diagnostics.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and returns a watcher seeded with it. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.hash, w.mtime = cfg, hash, mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil so it can sit in an
// errgroup next to the session without cancelling it.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check performs a single poll. It reports whether a new config was
// accepted.
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	if hash == w.hash {
		// Touched, same content.
		w.mtime = mtime
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.hash, w.mtime = cfg, hash, mtime
	w.mu.Unlock()

	diff := Diff(old, cfg)
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", diff.LogLevelChanged,
		"restart_required", diff.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
	return true
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
