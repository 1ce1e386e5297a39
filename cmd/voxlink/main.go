// Command voxlink streams microphone audio to a speech server and renders
// the transcripts and speech it sends back.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/health"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/playback"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/internal/transcript"
	"github.com/MrWong99/voxlink/pkg/speech"
	"github.com/MrWong99/voxlink/pkg/transport/websocket"
	"github.com/MrWong99/voxlink/pkg/wire"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

// errDisconnected ends the run group when the server drops the connection.
var errDisconnected = errors.New("server closed the connection")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxlink.yaml", "path to the YAML configuration file")
	printSchema := flag.Bool("control-schema", false, "print the JSON schema of server control events and exit")
	flag.Parse()

	if *printSchema {
		if err := writeSchema(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "voxlink: %v\n", err)
			return 1
		}
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlink: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Observe.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("voxlink starting",
		"version", version,
		"config", *configPath,
		"server", cfg.Server.URL,
		"mode", cfg.Speech.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(sigCtx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	devices, err := reg.CreateAudio(cfg.Audio, cfg.Server.TransportRate)
	if err != nil {
		slog.Error("failed to open audio devices", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}
	defer func() {
		if err := devices.Close(); err != nil {
			slog.Warn("audio backend close error", "err", err)
		}
	}()

	mode, err := session.ParseMode(string(cfg.Speech.Mode))
	if err != nil {
		slog.Error("invalid speech mode", "err", err)
		return 1
	}

	var (
		synth   speech.Synthesizer
		breaker *resilience.CircuitBreaker
	)
	if mode == session.ModeOnDevice {
		breaker = resilience.NewCircuitBreaker(resilience.Config{
			Name:         cfg.Speech.Synthesizer.Name,
			MaxFailures:  cfg.Speech.Breaker.MaxFailures,
			ResetTimeout: cfg.Speech.Breaker.ResetTimeout,
			Logger:       logger,
		})
		synth, err = reg.CreateSynthesizer(cfg.Speech.Synthesizer, config.SynthesizerDeps{
			Playback: devices.Playback,
			Rate:     cfg.Server.TransportRate,
			Breaker:  breaker,
			Metrics:  metrics,
			Logger:   logger,
		})
		if err != nil {
			slog.Error("failed to create synthesizer", "name", cfg.Speech.Synthesizer.Name, "err", err)
			return 1
		}
	}

	// ── Session ───────────────────────────────────────────────────────────────
	tr := websocket.New(cfg.Server.URL,
		websocket.WithDialTimeout(cfg.Server.DialTimeout),
		websocket.WithSendQueue(cfg.Server.SendQueue),
		websocket.WithHTTPHeader(httpHeader(cfg.Server.Headers)),
	)
	player := playback.New(devices.Playback, playback.WithMetrics(metrics), playback.WithLogger(logger))
	renderer := transcript.New(os.Stdout,
		transcript.WithColor(cfg.Render.ColorEnabled()),
		transcript.WithWidth(cfg.Render.Width),
	)

	opts := []session.Option{
		session.WithSink(renderer),
		session.WithMetrics(metrics),
		session.WithLogger(logger),
	}
	if synth != nil {
		opts = append(opts, session.WithSynthesizer(synth))
	}
	sess, err := session.New(session.Config{
		Mode:             mode,
		TransportRate:    cfg.Server.TransportRate,
		AssistantSpeaker: cfg.Speech.Speaker(),
	}, tr, devices.Capture, player, opts...)
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	if err := sess.Open(sigCtx); err != nil {
		slog.Error("failed to open session", "err", err)
		_ = sess.Close()
		return 1
	}
	slog.Info("session open; type p + Enter to pause, q + Enter to quit", "session_id", sess.ID())

	// ── Run group ─────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Observe.ListenAddr != "" {
		checkers := []health.Checker{health.Transport(tr.IsOpen), health.Session(sess.Done())}
		if breaker != nil {
			checkers = append(checkers, health.Breaker("synthesizer", breaker))
		}
		srv := newHTTPServer(cfg.Observe.ListenAddr, metrics, health.New(checkers...))
		g.Go(func() error {
			slog.Info("status server listening", "addr", cfg.Observe.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return superviseSession(gctx, sess, func() bool {
			return player.IsPlaying() || (synth != nil && synth.Busy())
		})
	})

	commands := readCommands(os.Stdin)
	g.Go(func() error {
		return handleCommands(gctx, sess, commands)
	})

	if watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(diff.NewLogLevel.Level())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("configuration changed; restart voxlink to apply", "sections", diff.RestartRequired)
		}
	}, config.WithWatcherLogger(logger)); err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping…")
	exit := 0
	if err := sess.Close(); err != nil {
		slog.Warn("session close error", "err", err)
	}
	if err := renderer.Err(); err != nil {
		slog.Warn("transcript output failed", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		exit = 1
	}
	slog.Info("goodbye")
	return exit
}

// superviseSession returns when the session ends. After a dropped connection
// it first waits until busy reports false, so queued playback and pending
// on-device speech finish.
func superviseSession(ctx context.Context, sess *session.Session, busy func() bool) error {
	select {
	case <-ctx.Done():
		return nil
	case <-sess.Done():
		return nil
	case <-sess.Disconnected():
	}

	slog.Warn("connection lost; finishing queued playback and speech")
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for busy() {
		select {
		case <-ctx.Done():
			return errDisconnected
		case <-ticker.C:
		}
	}
	return errDisconnected
}

// readCommands forwards trimmed stdin lines. The goroutine lives until stdin
// closes since a blocked read cannot be cancelled.
func readCommands(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- strings.ToLower(strings.TrimSpace(sc.Text()))
		}
	}()
	return ch
}

func handleCommands(ctx context.Context, sess *session.Session, commands <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				// stdin closed (e.g. running under a supervisor); keep streaming.
				<-ctx.Done()
				return nil
			}
			switch cmd {
			case "p", "pause":
				paused, err := sess.TogglePause()
				if err != nil {
					slog.Warn("cannot toggle pause", "err", err)
					continue
				}
				slog.Debug("pause toggled", "paused", paused)
			case "q", "quit":
				return sess.Close()
			case "":
			default:
				slog.Warn("unknown command; use p (pause/resume) or q (quit)", "command", cmd)
			}
		}
	}
}

func newHTTPServer(addr string, m *observe.Metrics, h *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler())
	h.Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func httpHeader(headers map[string]string) http.Header {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return h
}

func writeSchema(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(wire.Schema())
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        voxlink startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Server", cfg.Server.URL)
	printRow(w, "Rate", fmt.Sprintf("%d → %d Hz", cfg.Audio.CaptureRate, cfg.Server.TransportRate))
	printRow(w, "Audio", cfg.Audio.Backend)
	if cfg.Speech.Mode == config.SpeechModeOnDevice {
		printRow(w, "Speech", "on device / "+cfg.Speech.Synthesizer.Name)
	} else {
		printRow(w, "Speech", "server")
	}
	if cfg.Observe.ListenAddr != "" {
		printRow(w, "Status addr", cfg.Observe.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 23 {
		value = string(r[:22]) + "…"
	}
	fmt.Fprintf(w, "║  %-11s : %-23s ║\n", label, value)
}
