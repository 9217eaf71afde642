// Command kioskvoice runs a hands-free voice conversation between the local
// microphone and speaker and a realtime conversation service.
//
// Sessions are started and stopped from the console: type "start", "stop",
// or "quit" followed by Enter. The YAML config is watched while the process
// runs; session settings changed on disk apply to the next session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kioskvoice/internal/config"
	"github.com/MrWong99/kioskvoice/internal/engine"
	"github.com/MrWong99/kioskvoice/internal/health"
	"github.com/MrWong99/kioskvoice/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	recordDir := flag.String("record-dir", "", "write capture and playback WAV files for every session into this directory")
	autostart := flag.Bool("autostart", false, "start a session immediately")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Configuration ─────────────────────────────────────────────────────────
	ready := health.NewFlag("config")
	audioReady := health.NewFlag("audio")

	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kioskvoice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kioskvoice: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))
	ready.Set()

	slog.Info("kioskvoice starting",
		"version", version,
		"config", *configPath,
		"transport", cfg.Providers.Transport.Name,
		"audio", cfg.Providers.Audio.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	transport, err := reg.CreateTransport(cfg.Providers.Transport)
	if err != nil {
		slog.Error("failed to create transport provider", "name", cfg.Providers.Transport.Name, "err", err)
		return 1
	}
	drv, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		slog.Error("failed to create audio provider", "name", cfg.Providers.Audio.Name, "err", err)
		return 1
	}
	if c, ok := drv.(interface{ Close() error }); ok {
		defer c.Close()
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	con := newConsole(os.Stdout)
	eng := engine.New(engine.Deps{
		Provider:       transport,
		Audio:          drv,
		Metrics:        metrics,
		RecordDir:      *recordDir,
		OnDeviceOpened: audioReady.Set,
	}, con.callbacks())

	startSession := func() error {
		sc, err := watcher.Current().SessionConfig(filepath.Dir(watcher.Path()))
		if err != nil {
			return err
		}
		return eng.Start(ctx, sc)
	}

	// ── Operator HTTP ─────────────────────────────────────────────────────────
	var srv *http.Server
	if addr := cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", tel.MetricsHandler())
		health.New(ready.Checker(), audioReady.Checker()).
			WithInfo(func() map[string]string {
				return map[string]string{
					"version": version,
					"state":   eng.State().String(),
					"session": eng.SessionID(),
				}
			}).
			Register(mux)
		srv = &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return watcher.Run(gctx) })

	if srv != nil {
		g.Go(func() error {
			slog.Info("operator endpoints listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return commandLoop(gctx, readCommands(os.Stdin), commandHandlers{
			start: startSession,
			stop:  eng.Stop,
		}, con)
	})

	if *autostart {
		if err := startSession(); err != nil {
			con.errorf("start: %v", err)
		}
	}

	con.printf("kioskvoice ready: type start, stop, or quit")

	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	if serr := eng.Shutdown(); serr != nil {
		slog.Warn("session teardown error", "err", serr)
	}
	<-eng.Done()
	if err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
