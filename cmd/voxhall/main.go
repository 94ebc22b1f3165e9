// Command voxhall is the Voxhall voice conversation client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxhall/voxhall/internal/app"
	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/pkg/agent"
	geminilive "github.com/voxhall/voxhall/pkg/agent/gemini"
	"github.com/voxhall/voxhall/pkg/agent/mock"
	oairealtime "github.com/voxhall/voxhall/pkg/agent/openai"
)

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
			fmt.Fprintf(os.Stderr, "voxhall: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxhall: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxhall starting",
		"config", *configPath,
		"provider", cfg.Agent.Provider,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxhall",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Agent provider ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.Create(cfg.Agent)
	if err != nil {
		slog.Error("failed to create agent provider", "provider", cfg.Agent.Provider, "err", err)
		return 1
	}
	slog.Info("agent provider created", "provider", cfg.Agent.Provider, "model", cfg.Agent.Model)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, provider)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready — press Ctrl+C to hang up")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the agent provider factories that ship with
// Voxhall into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini-live", func(entry config.AgentConfig) (agent.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.Register("openai-realtime", func(entry config.AgentConfig) (agent.Provider, error) {
		var opts []oairealtime.Option
		if entry.Model != "" {
			opts = append(opts, oairealtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oairealtime.WithBaseURL(entry.BaseURL))
		}
		return oairealtime.New(entry.APIKey, opts...), nil
	})

	// mock talks to nothing; useful for wiring checks and demos.
	reg.Register("mock", func(config.AgentConfig) (agent.Provider, error) {
		return mock.New(), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
