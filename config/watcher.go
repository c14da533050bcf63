package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/overdrive-engine/overdrive"
	"github.com/overdrive-engine/overdrive/core"
)

// OnReload is broadcast on the engine bus after the configuration file has
// been changed and decoded successfully. It is delivered on a background
// worker.
type OnReload struct {
	Config   UserConfig
	Previous UserConfig
}

// watchSlice bounds how long a single Update waits for file events, so the
// watcher shares its worker with other background tasks.
const watchSlice = 250 * time.Millisecond

// Watcher is a system that reloads a configuration file when it changes.
type Watcher struct {
	*overdrive.BaseSystem

	path string

	mu      sync.RWMutex
	current UserConfig
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewWatcher returns a watcher for the file at path. initial is the
// configuration that was loaded from it.
func NewWatcher(path string, initial UserConfig) *Watcher {
	return &Watcher{
		BaseSystem: overdrive.NewBaseSystem("config"),
		path:       filepath.Clean(path),
		current:    initial,
	}
}

// Current returns the last configuration loaded.
func (w *Watcher) Current() UserConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Initialize starts watching the directory of the file and schedules the
// watcher on the background queue. The directory is watched rather than the
// file so that editors replacing the file are noticed.
func (w *Watcher) Initialize(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.timer = time.NewTimer(watchSlice)
	w.mu.Unlock()

	w.Log().Info("watching config", core.F("path", w.path))
	if e := w.Engine(); e != nil {
		e.UpdateSystem(w, true, true)
	}
	return nil
}

// Update waits a short while for a change of the file and reloads it.
func (w *Watcher) Update(ctx context.Context) {
	w.mu.RLock()
	watcher, timer := w.watcher, w.timer
	w.mu.RUnlock()
	if watcher == nil {
		return
	}

	timer.Reset(watchSlice)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case event, ok := <-watcher.Events:
		if !ok {
			return
		}
		if filepath.Clean(event.Name) != w.path {
			return
		}
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		w.Reload()
	case err, ok := <-watcher.Errors:
		if !ok {
			return
		}
		w.Log().Warn("config watcher error", core.F("error", err))
	}
}

// Reload reads the file again and broadcasts OnReload if it decodes to a
// different configuration. A file that fails to decode leaves the current
// configuration in place.
func (w *Watcher) Reload() bool {
	c, err := Load(w.path)
	if err != nil {
		w.Log().Warn("config reload failed", core.F("path", w.path), core.F("error", err))
		return false
	}

	w.mu.Lock()
	previous := w.current
	if c == previous {
		w.mu.Unlock()
		return false
	}
	w.current = c
	w.mu.Unlock()

	w.Log().Info("config reloaded", core.F("path", w.path))
	if bus := w.Bus(); bus != nil {
		core.Broadcast(bus, OnReload{Config: c, Previous: previous})
	}
	return true
}

// Shutdown stops watching the file.
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	if err := watcher.Close(); err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}
