// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/knadh/koanf/providers/file"
)

// Watcher reloads the configuration when its file changes on disk.
// Command-line overrides given to NewWatcher are re-applied on every reload.
type Watcher struct {
	path      string
	overrides []override
	provider  *file.File
	logger    *slog.Logger

	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the logger used to report reloads.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads the configuration selected by args (see LoadWithCLI).
// It fails when args name no config file.
func NewWatcher(args []string, opts ...WatcherOption) (*Watcher, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("config watcher requires --config")
	}

	w := &Watcher{
		path:      path,
		overrides: overrides,
		provider:  file.Provider(path),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := load(path, overrides)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn to receive every successfully reloaded configuration.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching the file. It may be called once.
func (w *Watcher) Start() error {
	return w.provider.Watch(func(_ any, err error) {
		if err != nil {
			w.logger.Warn("config watch failed", "path", w.path, "error", err)
			return
		}
		w.reload()
	})
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	return w.provider.Unwatch()
}

func (w *Watcher) reload() {
	cfg, err := load(w.path, w.overrides)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous settings", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, fn := range listeners {
		fn(cfg)
	}
}
