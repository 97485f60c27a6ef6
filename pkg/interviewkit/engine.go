// Package interviewkit assembles a complete mock-interview session
// stack from configuration: backend client, voice manager, transcript
// orchestrator, and lifecycle runner.
package interviewkit

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/prepdeck/interviewkit/pkg/backend"
	"github.com/prepdeck/interviewkit/pkg/backend/httpapi"
	"github.com/prepdeck/interviewkit/pkg/logging"
	"github.com/prepdeck/interviewkit/pkg/metrics"
	"github.com/prepdeck/interviewkit/pkg/orchestrator"
	"github.com/prepdeck/interviewkit/pkg/permissions"
	"github.com/prepdeck/interviewkit/pkg/redact"
	"github.com/prepdeck/interviewkit/pkg/resilience"
	"github.com/prepdeck/interviewkit/pkg/runner"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// EngineOptions customizes assembly. Everything except Config is
// optional; nil fields fall back to the config-driven defaults.
type EngineOptions struct {
	Config     Config
	Backend    backend.Client
	Gate       permissions.MicrophoneGate
	Transports *TransportRegistry
	Observer   metrics.Observer
}

type Engine struct {
	cfg      Config
	logger   *slog.Logger
	backend  backend.Client
	voiceMgr *voice.Manager
	orch     *orchestrator.Orchestrator
	asyncObs *metrics.AsyncObserver
	runner   *runner.LifecycleRunner
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("interviewkit_init",
		slog.String("environment", cfg.Environment),
		slog.String("backend", cfg.Backend.BaseURL),
		slog.String("voice_provider", cfg.Voice.Provider))

	inner := opts.Observer
	if inner == nil {
		inner = metrics.NewLoggerObserver(logger)
	}
	asyncObs := metrics.NewAsyncObserver(inner, 2048)

	be := opts.Backend
	if be == nil {
		client, err := httpapi.New(httpapi.Options{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: msDuration(cfg.Backend.TimeoutMS),
			Retry:   resilience.NewRetryPolicy(cfg.Backend.Retries, msDuration(cfg.Backend.RetryBackoffMS)),
			Logger:  logger,
		})
		if err != nil {
			asyncObs.Close()
			return nil, err
		}
		be = client
	}

	gate := opts.Gate
	if gate == nil {
		gate = permissions.AlwaysGranted()
	}

	registry := opts.Transports
	if registry == nil {
		registry = DefaultTransportRegistry()
	}

	voiceMgr := voice.NewManager(voice.ManagerOptions{
		Tokens:         be,
		Factory:        transportFactory(registry, cfg, logger),
		Logger:         logger,
		Observer:       asyncObs,
		ConnectTimeout: msDuration(cfg.Voice.ConnectTimeoutMS),
		TokenRetry:     resilience.NewRetryPolicy(cfg.Voice.TokenRetries, msDuration(cfg.Voice.TokenRetryBackoffMS)),
		Breaker:        resilience.NewCircuitBreaker(cfg.Voice.BreakerThreshold, msDuration(cfg.Voice.BreakerCooldownMS)),
	})

	orch := orchestrator.New(orchestrator.Options{
		Backend:              be,
		Gate:                 gate,
		Voice:                voiceMgr,
		Logger:               logger,
		Observer:             asyncObs,
		DedupWindow:          msDuration(cfg.Session.DedupWindowMS),
		PollInterval:         msDuration(cfg.Session.PollIntervalMS),
		TextOnlyPollInterval: msDuration(cfg.Session.TextOnlyPollIntervalMS),
		RequestTimeout:       msDuration(cfg.Session.RequestTimeoutMS),
	})

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		backend:  be,
		voiceMgr: voiceMgr,
		orch:     orch,
		asyncObs: asyncObs,
	}

	hooks := runner.Hooks{
		OnStart: func() {
			logger.Info("engine_ready",
				slog.String("environment", cfg.Environment),
				slog.String("voice_provider", cfg.Voice.Provider))
		},
		OnStop: func() {
			logger.Info("shutdown", slog.Int("goroutines", runtime.NumGoroutine()))
		},
	}
	drainer := runner.DrainerFunc(func() error {
		orch.Close()
		asyncObs.Close()
		return nil
	})
	e.runner = runner.NewLifecycleRunner(drainer, hooks, 30*time.Second)

	return e, nil
}

func transportFactory(registry *TransportRegistry, cfg Config, logger *slog.Logger) voice.TransportFactory {
	return func(grant voice.Grant) (voice.Transport, error) {
		return registry.Build(cfg.Voice.Provider, cfg, grant, logger)
	}
}

// Orchestrator exposes the session orchestrator for the embedding app.
func (e *Engine) Orchestrator() *orchestrator.Orchestrator { return e.orch }

// Run blocks until ctx is cancelled or Stop is called, then drains.
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
