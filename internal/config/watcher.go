package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the camera section into a Registry when the config file
// changes. fsnotify drives reloads; a slow mtime poll covers missed events.
type Watcher struct {
	path     string
	registry *Registry
	poll     time.Duration

	mu      sync.Mutex
	lastMod time.Time
}

func NewWatcher(path string, registry *Registry, poll time.Duration) *Watcher {
	if poll == 0 {
		poll = 60 * time.Second
	}
	w := &Watcher{path: path, registry: registry, poll: poll}
	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
	}
	return w
}

func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("config watcher: fsnotify unavailable, polling only")
	} else if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		// Watch the directory so editors that replace the file are seen.
		log.Warn().Err(err).Str("path", w.path).Msg("config watcher: cannot watch directory, polling only")
		watcher.Close()
		watcher = nil
	}

	if watcher != nil {
		go func() {
			defer watcher.Close()
			target := filepath.Clean(w.path)
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
						continue
					}
					// let the writer finish
					time.Sleep(100 * time.Millisecond)
					w.reloadIfChanged()
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Warn().Err(err).Msg("config watcher error")
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reloadIfChanged()
			}
		}
	}()
}

// reloadIfChanged reloads only when the file mtime moved. Invalid files are
// logged and the previous camera set stays in force.
func (w *Watcher) reloadIfChanged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config watcher: stat failed")
		return false
	}
	if !info.ModTime().After(w.lastMod) {
		return false
	}

	cfg, err := Load(w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("config reload rejected")
		return false
	}
	w.lastMod = info.ModTime()
	w.registry.Replace(cfg.Cameras)
	log.Info().Int("cameras", len(cfg.Cameras)).Msg("camera configuration reloaded")
	return true
}
