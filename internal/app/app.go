// Package app wires all Voxhall subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes one conversation session until it ends or the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSink, WithSourceFactory, etc.). When an option is not provided, New
// creates real SDL-backed implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxhall/voxhall/internal/capture"
	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/directory"
	"github.com/voxhall/voxhall/internal/dispatch"
	"github.com/voxhall/voxhall/internal/health"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/playback"
	"github.com/voxhall/voxhall/internal/session"
	"github.com/voxhall/voxhall/internal/transcript"
	"github.com/voxhall/voxhall/internal/turndetect"
	"github.com/voxhall/voxhall/pkg/agent"
	sdlaudio "github.com/voxhall/voxhall/pkg/audio/sdl"
)

// App owns all subsystem lifetimes for one Voxhall conversation client.
type App struct {
	cfg      *config.Config
	provider agent.Provider
	log      *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	newSource  func() (capture.Source, error)
	sink       playback.Sink
	scheduler  *playback.Scheduler
	directory  *directory.Directory
	dispatcher *dispatch.Dispatcher
	transcript *transcript.Log
	metrics    *observe.Metrics
	machine    *session.Machine

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects a playback sink instead of opening an SDL output device.
func WithSink(s playback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithSourceFactory injects a capture source factory instead of opening SDL
// input devices.
func WithSourceFactory(f func() (capture.Source, error)) Option {
	return func(a *App) { a.newSource = f }
}

// WithMetrics injects a metrics bundle instead of using the global provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The agent provider
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(cfg *config.Config, provider agent.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, fmt.Errorf("app: agent provider is required")
	}
	a := &App{
		cfg:      cfg,
		provider: provider,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Staff directory ───────────────────────────────────────────────
	dir, err := directory.New(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("app: build directory: %w", err)
	}
	a.directory = dir

	// ── 2. Tool dispatcher ───────────────────────────────────────────────
	// The handlers capture a.endSession, which resolves the machine lazily;
	// tools only fire once a session is live, well after New returns.
	a.dispatcher, err = dispatch.New(a.log,
		dispatch.NewTransferHandler(dir, a.transferCall),
		dispatch.NewEndCallHandler(func() { a.endSession("caller ended the call") }),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build dispatcher: %w", err)
	}

	// ── 3. Playback ──────────────────────────────────────────────────────
	if a.sink == nil {
		sink := sdlaudio.NewPlayback(cfg.Audio.PlaybackDevice)
		a.sink = sink
		a.closers = append(a.closers, sink.Close)
	}
	a.scheduler = playback.New(playback.NewWallClock(), a.sink, a.log)
	a.closers = append(a.closers, a.scheduler.Close)

	// ── 4. Capture ───────────────────────────────────────────────────────
	if a.newSource == nil {
		audioCfg := cfg.Audio
		a.newSource = func() (capture.Source, error) {
			return sdlaudio.NewCapture(sdlaudio.CaptureConfig{
				Device:     audioCfg.CaptureDevice,
				SampleRate: audioCfg.SampleRate,
				FrameSize:  audioCfg.FrameSize,
			}), nil
		}
	}

	// ── 5. Transcript ────────────────────────────────────────────────────
	a.transcript = transcript.NewLog(a.onTranscript)

	// ── 6. Session machine ───────────────────────────────────────────────
	a.machine, err = session.New(session.Params{
		Provider:   a.provider,
		NewSource:  a.newSource,
		Playback:   a.scheduler,
		Dispatcher: a.dispatcher,
		Transcript: a.transcript,
		Detector: turndetect.New(turndetect.Config{
			Threshold: cfg.Audio.TurnSilenceThreshold,
			Hangover:  cfg.Audio.TurnSilenceHangover,
		}),
		Metrics: a.metrics,
		Log:     a.log,
		Config: session.Config{
			Voice:               cfg.Agent.Voice,
			SystemPrompt:        cfg.Agent.SystemPrompt,
			Caller:              cfg.Caller,
			InputTranscription:  cfg.Agent.InputTranscriptionEnabled(),
			OutputTranscription: cfg.Agent.OutputTranscriptionEnabled(),
			ResponseTimeout:     cfg.Session.ResponseTimeout,
			AutoRelisten:        cfg.Session.AutoRelisten,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: build session: %w", err)
	}

	return a, nil
}

// Session returns the conversation state machine.
func (a *App) Session() *session.Machine { return a.machine }

// Transcript returns a snapshot of the conversation so far.
func (a *App) Transcript() []transcript.Message { return a.transcript.Messages() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the conversation session (and the metrics endpoint, when
// configured) and blocks until the session ends or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		a.runMetricsServer(ctx, g, addr)
	}

	g.Go(func() error {
		if err := a.machine.Start(ctx); err != nil {
			return fmt.Errorf("app: start session: %w", err)
		}
		a.log.Info("session running", "session_id", a.machine.ID().String())

		select {
		case <-ctx.Done():
			_ = a.machine.Stop()
			return ctx.Err()
		case <-a.machine.Done():
			return a.machine.Err()
		}
	})

	return g.Wait()
}

// runMetricsServer serves the Prometheus scrape endpoint and the health
// probes until ctx is done.
func (a *App) runMetricsServer(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(health.SessionChecker(a.machine.Err)).Register(mux)

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	g.Go(func() error {
		a.log.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ─── Tool callbacks ──────────────────────────────────────────────────────────

// transferCall runs after the transfer result has been delivered to the
// agent. The actual handoff is external to this process; the session ends so
// the telephony layer can bridge the call.
func (a *App) transferCall(entry directory.Entry) {
	a.log.Info("transferring call",
		"staff_id", entry.ID,
		"staff_name", entry.DisplayName,
		"extension", entry.Extension,
	)
	a.endSession("transferred to " + entry.DisplayName)
}

// endSession asks the live session to close cleanly.
func (a *App) endSession(reason string) {
	a.log.Info("ending session", "reason", reason)
	a.machine.RequestClose()
}

// onTranscript receives every transcript change; finalized messages are
// logged, partials stay at debug.
func (a *App) onTranscript(msg transcript.Message) {
	if msg.Final {
		a.log.Info("transcript", "speaker", string(msg.Speaker), "text", msg.Text)
		return
	}
	a.log.Debug("transcript partial", "speaker", string(msg.Speaker), "text", msg.Text)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.machine.Stop(); err != nil {
			a.log.Warn("session stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
