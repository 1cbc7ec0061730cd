// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the manifest file for changes and atomically swaps a
// freshly validated Registry into the Store. A manifest that fails to
// load leaves the active registry untouched.
type Watcher struct {
	path     string
	interval time.Duration
	store    *Store
	logger   *slog.Logger

	mu        sync.Mutex
	lastMod   time.Time
	listeners []func(*Registry)

	stopCh chan struct{}
	doneCh chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval for manifest changes.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher over the manifest backing the store.
func NewWatcher(path string, store *Store, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		interval: 2 * time.Second,
		store:    store,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
	}
	return w
}

// OnReload registers a callback invoked with each successfully swapped
// registry. Callbacks run on the watcher goroutine.
func (w *Watcher) OnReload(fn func(*Registry)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops the watcher and waits for the goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.changed() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) changed() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		return true
	}
	return false
}

func (w *Watcher) reload() {
	w.logger.Info("manifest changed, reloading", "path", w.path)

	reg, err := Load(w.path)
	if err != nil {
		w.logger.Error("manifest reload failed, keeping active registry", "error", err)
		return
	}

	w.store.Swap(reg)

	w.mu.Lock()
	listeners := make([]func(*Registry), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("manifest reloaded", "backends", len(reg.Descriptors()))
	for _, fn := range listeners {
		fn(reg)
	}
}
