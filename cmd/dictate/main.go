// Command dictate runs the live dictation pipeline from a terminal. It
// captures microphone audio, streams it through the configured
// transcription backend and prints the committed transcript as it grows.
//
// The terminal stands in for the input surface: simple line commands
// toggle dictation and simulate focus changes.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/prepstage/dictation/internal/config"
	"github.com/prepstage/dictation/internal/health"
	"github.com/prepstage/dictation/internal/observe"
	"github.com/prepstage/dictation/internal/recognizer"
	"github.com/prepstage/dictation/internal/recognizer/whisperengine"
	"github.com/prepstage/dictation/internal/remote"
	"github.com/prepstage/dictation/internal/session"
	"github.com/prepstage/dictation/internal/transcript"
	"github.com/prepstage/dictation/internal/transcript/phonetic"
	"github.com/prepstage/dictation/pkg/audio/portaudio"
	"github.com/prepstage/dictation/pkg/transcribe"
)

// defaultRemoteEndpoint is used when remote.endpoint is not configured.
const defaultRemoteEndpoint = "wss://api.deepgram.com/v1/listen"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dictate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dictate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dictate starting",
		"config", *configPath,
		"backend", cfg.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Audio device ──────────────────────────────────────────────────────────
	device := portaudio.New()
	defer func() {
		if err := device.Terminate(); err != nil {
			slog.Warn("audio device terminate error", "err", err)
		}
	}()

	// ── Backends ──────────────────────────────────────────────────────────────
	var local transcribe.Backend
	if cfg.Local.ModelPath != "" {
		factory, err := whisperengine.NewFactory(cfg.Local.ModelPath, device,
			whisperengine.WithLanguage(cfg.Input.Language),
			whisperengine.WithSilenceThreshold(cfg.Local.SilenceThreshold()),
			whisperengine.WithMaxBufferDuration(cfg.Local.MaxBufferDuration()),
		)
		if err != nil {
			slog.Error("failed to load local recognition model", "path", cfg.Local.ModelPath, "err", err)
			return 1
		}
		defer factory.Close()
		local = recognizer.New(factory, recognizer.WithRestartDelay(cfg.Local.RestartDelay()))
	}

	var remoteBackend transcribe.Backend
	if cfg.Remote.APIKey != "" {
		endpoint := cfg.Remote.Endpoint
		if endpoint == "" {
			endpoint = defaultRemoteEndpoint
		}
		opts := []remote.Option{
			remote.WithLanguage(cfg.Input.Language),
			remote.WithChunkDuration(cfg.Remote.ChunkMs),
			remote.WithBackoff(cfg.Remote.ReconnectBaseDelay(), cfg.Remote.ReconnectMaxDelay()),
			remote.WithHeartbeat(cfg.Remote.HeartbeatInterval(), cfg.Remote.IdleThreshold()),
		}
		if cfg.Remote.Model != "" {
			opts = append(opts, remote.WithModel(cfg.Remote.Model))
		}
		remoteBackend = remote.New(endpoint, cfg.Remote.APIKey, device, opts...)
	}

	if local == nil && remoteBackend == nil {
		fmt.Fprintln(os.Stderr, "dictate: no backend available — set local.model_path or remote.api_key")
		return 1
	}

	// ── Correction + merger ───────────────────────────────────────────────────
	correctorOpts := []transcript.Option{
		transcript.WithPhrases(cfg.Correction.Phrases...),
	}
	if cfg.Correction.PhoneticEnabled() {
		correctorOpts = append(correctorOpts, transcript.WithPhoneticMatcher(phonetic.New()))
	}
	merger := transcript.NewMerger(transcript.NewCorrector(correctorOpts...))

	// ── Controller ────────────────────────────────────────────────────────────
	stream := transcribe.StreamConfig{
		SampleRate: cfg.Input.SampleRate,
		Channels:   cfg.Input.Channels,
		Language:   cfg.Input.Language,
	}
	ctl := session.NewController(ctx, session.ControllerConfig{
		Local:  local,
		Remote: remoteBackend,
		Merger: merger,
		Stream: stream,
		OnText: func(text string) {
			// Redraw the transcript on a single line.
			fmt.Printf("\r\033[K> %s", text)
		},
		OnNotice: func(message string) {
			fmt.Printf("\n! %s\n", message)
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	// ── Metrics endpoint ──────────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		var backends []string
		if local != nil {
			backends = append(backends, "local")
		}
		if remoteBackend != nil {
			backends = append(backends, "remote")
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(
			func() string { return ctl.State().String() },
			func() string { return ctl.Backend().String() },
			backends,
		).Register(mux)
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(closeCtx)
		})
	}

	// ── Command loop ──────────────────────────────────────────────────────────
	g.Go(func() error {
		return commandLoop(gctx, ctl, defaultBackendKind(cfg))
	})

	fmt.Println("dictate ready — commands: start [local|remote], stop, focus, blur, state, quit")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	ctl.StopDictation()
	slog.Info("goodbye")
	return 0
}

// commandLoop reads line commands from stdin and drives the controller.
// The surface starts focused, matching a terminal in the foreground.
func commandLoop(ctx context.Context, ctl *session.Controller, defaultKind session.BackendKind) error {
	ctl.Focus()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fields := strings.Fields(strings.ToLower(line))
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "start":
				kind := defaultKind
				if len(fields) > 1 {
					switch fields[1] {
					case "local":
						kind = session.BackendLocal
					case "remote":
						kind = session.BackendRemote
					default:
						fmt.Printf("unknown backend %q\n", fields[1])
						continue
					}
				}
				ctl.StartDictation(kind)
			case "stop":
				ctl.StopDictation()
				fmt.Println()
			case "focus":
				ctl.Focus()
			case "blur":
				ctl.Blur()
				fmt.Println()
			case "show", "visible":
				ctl.VisibilityRegained()
			case "state":
				fmt.Printf("state=%s backend=%s\n", ctl.State(), ctl.Backend())
			case "quit", "exit":
				return nil
			default:
				fmt.Printf("unknown command %q\n", fields[0])
			}
		}
	}
}

func defaultBackendKind(cfg *config.Config) session.BackendKind {
	if cfg.Backend == config.BackendRemote {
		return session.BackendRemote
	}
	return session.BackendLocal
}

// newLogger builds the process-wide structured logger.
func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level.SlogLevel(),
	}))
}
