package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file for changes and validates new configs.
type Watcher struct {
	mu     sync.RWMutex
	logger *slog.Logger

	path    string
	watcher *fsnotify.Watcher

	// Current valid config
	current *Config

	onReload func(cfg *Config)
	onError  func(err error)

	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewWatcher creates a Watcher for the given config path.
// An empty path watches the default config location.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ConfigPath()
	}
	return &Watcher{
		logger: logger,
		path:   path,
	}
}

// SetReloadCallback sets the callback invoked with each successfully reloaded config.
func (w *Watcher) SetReloadCallback(callback func(cfg *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// SetErrorCallback sets the callback invoked when a changed file fails to load or validate.
func (w *Watcher) SetErrorCallback(callback func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = callback
}

// Start begins watching the config file.
func (w *Watcher) Start(ctx context.Context, initial *Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory containing the file (more reliable for editors that rename)
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.watcher = fw
	w.current = initial
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.watch(ctx, fw, w.stopCh, w.doneCh)

	w.logger.Debug("config watcher started", "path", w.path)
	return nil
}

// Stop stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	<-doneCh
	if err := fw.Close(); err != nil {
		w.logger.Debug("failed to close file watcher", "error", err)
	}
	w.logger.Debug("config watcher stopped")
}

// Current returns the last valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) watch(ctx context.Context, fw *fsnotify.Watcher, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	filename := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload loads and validates the config file, then notifies callbacks.
func (w *Watcher) reload() {
	w.mu.RLock()
	reloadCallback := w.onReload
	errorCallback := w.onError
	w.mu.RUnlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config file changed but validation failed", "path", w.path, "error", err)
		if errorCallback != nil {
			errorCallback(err)
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if reloadCallback != nil {
		reloadCallback(cfg)
	}
}
