package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// Watcher reloads the nameserver configuration when the resolver
// configuration file changes.
type Watcher struct {
	cfg      *Config
	onChange func(*NameServers)

	mu          sync.Mutex
	lastModTime time.Time

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher for cfg.ResolvConf. onChange is called from the
// watcher goroutine with every successfully reloaded configuration.
func NewWatcher(cfg *Config, onChange func(*NameServers)) (*Watcher, error) {
	w := &Watcher{
		cfg:      cfg,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}

	if info, err := os.Stat(cfg.ResolvConf); err == nil {
		w.lastModTime = info.ModTime()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	// resolv.conf is often replaced by rename, watch the directory
	if err := watcher.Add(filepath.Dir(cfg.ResolvConf)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch resolver configuration directory: %w", err)
	}

	go w.watch()

	return w, nil
}

func (w *Watcher) watch() {
	defer w.watcher.Close()

	// Also check periodically in case fsnotify misses events
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if w.isRelevantEvent(event) {
				zlog.Debug("Resolver configuration event", "event", event.String())
				w.checkAndReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Resolver configuration watcher error", "error", err.Error())

		case <-ticker.C:
			w.checkAndReload()
		}
	}
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	return event.Name == w.cfg.ResolvConf ||
		filepath.Base(event.Name) == filepath.Base(w.cfg.ResolvConf)
}

func (w *Watcher) checkAndReload() {
	info, err := os.Stat(w.cfg.ResolvConf)
	if err != nil {
		zlog.Error("Failed to stat resolver configuration", "path", w.cfg.ResolvConf, "error", err.Error())
		return
	}

	w.mu.Lock()
	changed := info.ModTime().After(w.lastModTime)
	if changed {
		w.lastModTime = info.ModTime()
	}
	w.mu.Unlock()

	if !changed {
		return
	}

	zlog.Info("Resolver configuration changed, reloading", "path", w.cfg.ResolvConf)

	if err := w.Reload(); err != nil {
		zlog.Error("Failed to reload resolver configuration", "error", err.Error())
	}
}

// Reload forces a reload of the nameserver configuration.
func (w *Watcher) Reload() error {
	ns, err := w.cfg.NameServers()
	if err != nil {
		return err
	}

	w.onChange(ns)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stopCh) })
}
