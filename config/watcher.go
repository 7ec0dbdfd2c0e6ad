package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neuroguard/neuroguard/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a config file when it changes on disk and hands each
// valid result to the registered callbacks. The parent directory is watched
// so editors that save through rename are seen too.
type Watcher struct {
	path     string
	loader   *Loader
	log      logger.Logger
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu        sync.RWMutex
	callbacks []func(*Config)
	running   bool

	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger used for watch and reload failures.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher creates a watcher for path. The loader's overrides are reapplied
// on every reload.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required for watching")
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		log:      logger.Nop(),
		debounce: defaultDebounce,
		fs:       fs,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch blocks until ctx is canceled or Stop is called. It fails at once if
// the file does not exist.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.begin(); err != nil {
		return err
	}
	defer w.end()

	if _, err := os.Stat(w.path); err != nil {
		return fmt.Errorf("watch config file %s: %w", w.path, err)
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config dir for %s: %w", w.path, err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			w.reloadConfig(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err, "path", w.path)
		}
	}
}

func (w *Watcher) begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher is already running")
	}
	w.running = true
	return nil
}

func (w *Watcher) end() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reloadConfig loads the file with a fresh loader, so keys deleted from the
// file fall back to defaults. An invalid file keeps the previous config.
func (w *Watcher) reloadConfig(ctx context.Context) {
	var overrides map[string]interface{}
	if w.loader != nil {
		overrides = w.loader.overrides
	}
	cfg, err := NewLoader().Load(w.path, overrides)
	if err != nil {
		w.log.WarnContext(ctx, "config reload rejected; keeping previous", "error", err, "path", w.path)
		return
	}
	w.log.InfoContext(ctx, "config reloaded", "path", w.path)

	w.mu.RLock()
	callbacks := append([]func(*Config)(nil), w.callbacks...)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		go w.notify(cb, cfg)
	}
}

func (w *Watcher) notify(cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("config callback panic", "panic", r)
		}
	}()
	cb(cfg)
}

// OnChange registers a callback. Callbacks run concurrently, each in its own
// goroutine.
func (w *Watcher) OnChange(cb func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, cb)
	w.mu.Unlock()
}

// Stop ends Watch and releases the fsnotify handle. It is idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.fs.Close()
	})
	return err
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// ConfigPath returns the watched file.
func (w *Watcher) ConfigPath() string { return w.path }

// LogLevelReloader returns a callback that applies the reloaded log level
// to log.
func LogLevelReloader(log logger.Logger) func(*Config) {
	return func(cfg *Config) {
		level := logger.ParseLevel(cfg.Log.Level)
		if level == log.GetLevel() {
			return
		}
		log.SetLevel(level)
		log.Info("log level changed", "level", cfg.Log.Level)
	}
}
