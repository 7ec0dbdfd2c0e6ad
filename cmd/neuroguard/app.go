package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/neuroguard/neuroguard/config"
	"github.com/neuroguard/neuroguard/pkg/analysis"
	"github.com/neuroguard/neuroguard/pkg/api"
	"github.com/neuroguard/neuroguard/pkg/api/handlers"
	"github.com/neuroguard/neuroguard/pkg/completion"
	"github.com/neuroguard/neuroguard/pkg/ethics"
	"github.com/neuroguard/neuroguard/pkg/eventbus"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/metrics"
	"github.com/neuroguard/neuroguard/pkg/orchestrator"
	"github.com/neuroguard/neuroguard/pkg/pattern"
	"github.com/neuroguard/neuroguard/pkg/record"
	"github.com/neuroguard/neuroguard/pkg/record/badger"
	"github.com/neuroguard/neuroguard/pkg/record/memory"
	"github.com/neuroguard/neuroguard/pkg/record/sqlite"
	"github.com/neuroguard/neuroguard/pkg/telemetry/tracing"
	"github.com/neuroguard/neuroguard/pkg/version"
)

// app holds every long-lived component of a running process.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	tracing *tracing.Provider
	metrics *metrics.Manager
	store   *record.Store
	bus     eventbus.Bus
	redis   *redis.Client
	stream  *handlers.StreamHandler
	server  *api.HTTPServer
	orch    *orchestrator.Orchestrator
}

// newApp builds the component graph from cfg. Background work started
// here stops when ctx is canceled.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.tracing, err = tracing.Init(ctx, cfg.Tracing,
		tracing.WithService(cfg.App.Name, version.Version),
		tracing.WithLogger(log.With("component", "tracing")),
	)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	defaults := metrics.DefaultConfig()
	a.metrics = metrics.NewManager(metrics.Config{
		Enabled:                   cfg.Metrics.Enabled,
		Port:                      cfg.Metrics.Port,
		Path:                      cfg.Metrics.Path,
		StoreDurationBuckets:      defaults.StoreDurationBuckets,
		CompletionDurationBuckets: defaults.CompletionDurationBuckets,
		PipelineDurationBuckets:   defaults.PipelineDurationBuckets,
		HTTPDurationBuckets:       defaults.HTTPDurationBuckets,
	})

	backend, err := openBackend(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	storeOpts := []record.Option{
		record.WithLogger(log.With("component", "store")),
		record.WithMetrics(a.metrics),
	}
	if cfg.Events.Enabled {
		if err := a.openBus(cfg.Events); err != nil {
			_ = backend.Close()
			return nil, err
		}
		pub, err := eventbus.NewPublisher(cfg.Events.Type, a.bus,
			eventbus.WithTelemetry(a.metrics),
			eventbus.WithLogger(log.With("component", "events")),
			eventbus.WithSource(cfg.App.Name),
		)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		storeOpts = append(storeOpts, record.WithPublisher(pub))
	}

	a.store, err = record.Open(ctx, backend, storeOpts...)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open record store: %w", err)
	}

	completer, err := completion.New(completion.Config{
		Provider:     cfg.Completion.Provider,
		Model:        cfg.Completion.Model,
		BaseURL:      cfg.Completion.BaseURL,
		APIKey:       cfg.Completion.APIKey,
		MaxTokens:    cfg.Completion.MaxTokens,
		Timeout:      cfg.Completion.Timeout,
		MaxRetries:   cfg.Completion.MaxRetries,
		InitialDelay: cfg.Completion.InitialDelay,
		RateLimit:    cfg.Completion.RateLimit,
		Burst:        cfg.Completion.Burst,
	}, log.With("component", "completion"), a.metrics)
	if err != nil {
		return nil, fmt.Errorf("init completion: %w", err)
	}

	interp := pattern.NewInterpreter(a.store, completer, pattern.Config{
		ContextSize: cfg.Interpreter.ContextSize,
		Temperature: cfg.Completion.InterpretTemperature,
		Decode: pattern.DecodeConfig{
			MaxPatternLength: cfg.Interpreter.MaxPatternLength,
			MinBits:          cfg.Interpreter.MinBits,
			BurstRunLength:   cfg.Interpreter.BurstRunLength,
			OscillationRate:  cfg.Interpreter.OscillationRate,
		},
	}, log.With("component", "interpreter"))

	eval := ethics.NewEvaluator(a.store, completer, ethics.Config{
		Temperature:     cfg.Completion.EthicsTemperature,
		MaxActionLength: cfg.Interpreter.MaxActionLength,
	}, log.With("component", "ethics"))

	a.orch = orchestrator.New(interp, eval, a.store,
		orchestrator.WithLogger(log.With("component", "orchestrator")),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracer(a.tracing.Tracer("neuroguard.orchestrator")),
		orchestrator.WithAnalysisConfig(analysis.Config{
			ActivationThreshold: cfg.Analysis.ActivationThreshold,
			StabilityThreshold:  cfg.Analysis.StabilityThreshold,
		}),
	)

	health := handlers.NewHealthHandler(a.store)
	if rb, ok := a.bus.(*eventbus.RedisBus); ok {
		health.AddCheck("events", func(ctx context.Context) error {
			if !rb.Healthy(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		})
	}

	h := &api.Handlers{
		Pipeline: handlers.NewPipelineHandler(a.orch, interp, eval, log),
		Records:  handlers.NewRecordHandler(a.store, log),
		Health:   health,
	}
	if a.metrics.Enabled() {
		h.Metrics = a.metrics
		if cfg.Metrics.Port == 0 {
			h.MetricsHandler = a.metrics.Handler()
		}
	}

	if a.bus != nil && cfg.Server.WebSocket.Enabled {
		a.stream = handlers.NewStreamHandler(log.With("component", "stream"), handlers.StreamConfig{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			MaxConnections: cfg.Server.WebSocket.MaxConnections,
			PingInterval:   cfg.Server.WebSocket.PingInterval,
			WriteTimeout:   cfg.Server.WebSocket.WriteTimeout,
		}, a.metrics)
		if err := a.stream.Start(ctx, a.bus); err != nil {
			return nil, fmt.Errorf("start record stream: %w", err)
		}
		h.Stream = a.stream
	}

	a.server = api.NewHTTPServer(cfg, log, h)
	return a, nil
}

func openBackend(cfg config.StorageConfig, log logger.Logger) (record.Backend, error) {
	switch cfg.Type {
	case "badger":
		b, err := badger.Open(&badger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
			Logger:            log.With("component", "badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger backend: %w", err)
		}
		log.Info("Initialized Badger record backend", "path", cfg.Badger.Path, "sync_writes", cfg.Badger.SyncWrites)
		return b, nil
	case "sqlite":
		b, err := sqlite.Open(&sqlite.Config{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		log.Info("Initialized SQLite record backend", "path", cfg.SQLite.Path)
		return b, nil
	case "memory", "":
		log.Warn("Using in-memory record backend; records are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func (a *app) openBus(cfg config.EventsConfig) error {
	switch cfg.Type {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		a.bus = eventbus.NewRedisBus(a.redis, cfg.Redis.ChannelPrefix)
		a.log.Info("Initialized Redis event bus", "address", cfg.Redis.Address)
	case "memory", "":
		a.bus = eventbus.NewMemoryBus()
	default:
		return fmt.Errorf("unknown events type %q", cfg.Type)
	}
	return nil
}

// close releases components in reverse construction order. It is safe on
// a partially built app.
func (a *app) close(ctx context.Context) {
	if a.stream != nil {
		a.stream.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("Error closing record store", "error", err)
		}
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Error("Error closing event bus", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.log.Error("Error shutting down tracing", "error", err)
		}
	}
}
