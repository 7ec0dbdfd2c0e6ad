package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neuroguard/neuroguard/config"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName     = flag.String("app-name", "", "Override app name")
	serverPort  = flag.Int("port", 0, "Override server port")
	logLevel    = flag.String("log-level", "", "Override log level")
	storageType = flag.String("storage", "", "Override storage type (memory, badger, sqlite)")
	provider    = flag.String("provider", "", "Override completion provider (openai, anthropic, none)")
	debugMode   = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	overrides := buildOverrides()

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	logger.SetDefault(log)
	defer log.Close()

	if err := run(cfg, log, overrides); err != nil {
		log.Error("neuroguard exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	return logger.New(logCfg)
}

func run(cfg *config.Config, log logger.Logger, overrides map[string]interface{}) error {
	log.Info("Starting neuroguard",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	if a.metrics.Enabled() && cfg.Metrics.Port != 0 {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := a.metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	if *configPath != "" {
		startWatcher(ctx, *configPath, overrides, log)
	}

	serverErrChan := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("neuroguard is running",
		"addr", a.server.Addr(),
		"storage", cfg.Storage.Type,
		"provider", cfg.Completion.Provider,
		"records", a.store.LastID(),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case runErr = <-serverErrChan:
		log.Error("HTTP server error", "error", runErr)
	}

	timeout := cfg.Server.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	a.close(shutdownCtx)

	log.Info("neuroguard stopped")
	return runErr
}

// startWatcher reloads the config file on change and applies the new log
// level. Failures only disable hot reload.
func startWatcher(ctx context.Context, path string, overrides map[string]interface{}, log logger.Logger) {
	loader := config.NewLoader()
	if _, err := loader.Load(path, overrides); err != nil {
		log.Warn("Config hot reload disabled", "error", err)
		return
	}
	w, err := config.NewWatcher(path, loader, config.WithWatcherLogger(log.With("component", "config")))
	if err != nil {
		log.Warn("Config hot reload disabled", "error", err)
		return
	}
	w.OnChange(config.LogLevelReloader(log))
	go func() {
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *storageType != "" {
		overrides["storage.type"] = *storageType
	}
	if *provider != "" {
		overrides["completion.provider"] = *provider
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("neuroguard - pattern interpretation with mandatory ethics review\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("neuroguard - pattern interpretation with mandatory ethics review\n\n")
	fmt.Printf("Usage: neuroguard [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  neuroguard                                  # Run with default config\n")
	fmt.Printf("  neuroguard -config config.yaml              # Use specific config file\n")
	fmt.Printf("  neuroguard -storage badger -provider none   # Durable store, degraded mode\n")
	fmt.Printf("  neuroguard -version                         # Print version info\n")
}
