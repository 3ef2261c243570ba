package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const reloadDebounce = 500 * time.Millisecond

// ReloadFunc produces a fresh, validated configuration.
type ReloadFunc func() (*Config, error)

// ConfigWatcher watches the configuration directory and reloads on change.
// Only settings that are safe to change at runtime are acted on by
// callbacks; cache strategies stay fixed for the life of the process.
type ConfigWatcher struct {
	config    *Config
	reload    ReloadFunc
	callbacks []func(*Config)
	mu        sync.RWMutex
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// NewConfigWatcher starts watching initial.ConfigDir. When the directory does
// not exist the watcher only serves GetConfig.
func NewConfigWatcher(initial *Config, reload ReloadFunc, logger *zap.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &ConfigWatcher{
		config:   initial,
		reload:   reload,
		logger:   logger.With(zap.String("component", "config_watcher")),
		debounce: reloadDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	info, err := os.Stat(initial.ConfigDir)
	if initial.ConfigDir == "" || err != nil || !info.IsDir() {
		close(w.done)
		w.logger.Info("Configuration hot reloading disabled",
			zap.String("dir", initial.ConfigDir),
		)
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(initial.ConfigDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()

	w.logger.Info("Configuration hot reloading enabled",
		zap.String("dir", initial.ConfigDir),
		zap.String("environment", string(initial.Environment)),
	)
	return w, nil
}

// watchLoop debounces file events into reloads.
func (w *ConfigWatcher) watchLoop() {
	defer close(w.done)
	defer w.watcher.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isConfigFile(event.Name) {
				continue
			}
			w.logger.Debug("Configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reloadConfig)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

// reloadConfig loads, compares and publishes a new configuration. An invalid
// file keeps the current configuration.
func (w *ConfigWatcher) reloadConfig() {
	newConfig, err := w.reload()
	if err != nil {
		w.logger.Error("Invalid configuration after reload", zap.Error(err))
		return
	}

	w.mu.Lock()
	oldConfig := w.config
	if configsEqual(oldConfig, newConfig) {
		w.mu.Unlock()
		w.logger.Debug("Configuration unchanged after reload")
		return
	}
	w.config = newConfig
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logConfigChanges(oldConfig, newConfig)
	for i, cb := range callbacks {
		w.notify(i, cb, newConfig)
	}
	w.logger.Info("Configuration reloaded",
		zap.Int("callbacks_notified", len(callbacks)),
	)
}

func (w *ConfigWatcher) notify(idx int, cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Config callback panicked",
				zap.Int("callback_index", idx),
				zap.Any("panic", r),
			)
		}
	}()
	cb(cfg)
}

// OnChange registers a callback run after every effective reload.
func (w *ConfigWatcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// GetConfig returns the current configuration.
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop ends watching. It is safe to call more than once.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// configsEqual ignores load metadata.
func configsEqual(a, b *Config) bool {
	ac, bc := *a, *b
	ac.LoadedFrom, bc.LoadedFrom = nil, nil
	return reflect.DeepEqual(ac, bc)
}

func (w *ConfigWatcher) logConfigChanges(old, cur *Config) {
	changes := make([]string, 0)
	if old.Logging.Level != cur.Logging.Level {
		changes = append(changes, fmt.Sprintf("log level: %s -> %s", old.Logging.Level, cur.Logging.Level))
	}
	if old.Cache.Dedupe != cur.Cache.Dedupe {
		changes = append(changes, fmt.Sprintf("dedupe: %v -> %v", old.Cache.Dedupe, cur.Cache.Dedupe))
	}
	if old.Cache.Batch != cur.Cache.Batch {
		changes = append(changes, "loader batching")
	}
	if old.Cache.Redis != cur.Cache.Redis {
		changes = append(changes, "remote cache")
	}
	if len(changes) > 0 {
		w.logger.Info("Configuration changes detected", zap.Strings("changes", changes))
	}
}

// LogLevelUpdater returns a callback that applies the configured log level to
// level. Unknown levels are ignored.
func LogLevelUpdater(level zap.AtomicLevel, logger *zap.Logger) func(*Config) {
	return func(cfg *Config) {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			logger.Warn("Ignoring unknown log level", zap.String("level", cfg.Logging.Level))
			return
		}
		if level.Level() != l {
			level.SetLevel(l)
			logger.Info("Log level changed", zap.String("level", l.String()))
		}
	}
}

func isConfigFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
