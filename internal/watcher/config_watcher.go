// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package watcher reloads the configuration file when it changes on disk.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/tramlinehq/buildkansen/internal/config"
)

const defaultDebounce = 100 * time.Millisecond

// ConfigWatcher watches the config file and hands every successfully parsed
// version to the reload callback. Invalid files are logged and skipped.
type ConfigWatcher struct {
	path     string
	onReload func(*config.Config)
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewConfigWatcher creates a watcher for path.
func NewConfigWatcher(path string, onReload func(*config.Config)) *ConfigWatcher {
	return &ConfigWatcher{path: path, onReload: onReload, debounce: defaultDebounce}
}

// Start begins watching. The parent directory is watched so editors that
// replace the file through a rename are still noticed.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	w.watcher = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(fsw, w.stop, w.done)

	log.Infof("watching %s for changes", w.path)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	fsw, stop, done := w.watcher, w.stop, w.done
	w.watcher = nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	close(stop)
	_ = fsw.Close()
	<-done
}

func (w *ConfigWatcher) loop(fsw *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors often emit several events per save.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", err)
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := config.LoadConfig(w.path)
	if err != nil {
		log.Errorf("failed to reload %s: %v", w.path, err)
		return
	}
	cfg.ApplyEnv(os.LookupEnv)
	log.Infof("config file changed, reloaded %s", w.path)
	w.onReload(cfg)
}
