// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SettingsWatcher reloads the governor's settings when the settings file
// changes on disk, so an operator edit takes effect without a restart.
//
// The parent directory is watched rather than the file itself: settings are
// written with the atomic temp-file+rename pattern, which replaces the inode
// a plain file watch would be pinned to.
type SettingsWatcher struct {
	governor *Governor
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSettingsWatcher creates a watcher for the governor's settings file.
// The governor must have been built with a settings path.
func NewSettingsWatcher(g *Governor, debounce time.Duration, logger *zap.Logger) (*SettingsWatcher, error) {
	if g.settingsPath == "" {
		return nil, fmt.Errorf("governor has no settings path to watch")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SettingsWatcher{
		governor: g,
		watcher:  watcher,
		debounce: debounce,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching. It returns after registering the watch; events are
// handled on background goroutines until Close.
func (w *SettingsWatcher) Watch() error {
	dir := filepath.Dir(w.governor.settingsPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.processEvents()
	go w.processPending()
	return nil
}

// Close stops watching and releases the underlying watcher.
func (w *SettingsWatcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *SettingsWatcher) processEvents() {
	target := filepath.Base(w.governor.settingsPath)
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// processPending debounces bursts of events into a single reload.
func (w *SettingsWatcher) processPending() {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.governor.ReloadSettings()
			}
		}
	}
}
