package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "procode/pkg/logx"
)

// Watcher re-reads the config file when it changes and hands validated
// snapshots to subscribers. A broken edit is logged and ignored; the last
// good config stays in effect.
type Watcher struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cfg *Config

	onChange []func(*Config)
}

func NewWatcher(path string, initial *Config, log logx.Logger) *Watcher {
	return &Watcher{path: path, cfg: initial, log: log}
}

// OnChange registers a callback invoked with each committed config.
// Register everything before Start; the list is not guarded afterwards.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = append(w.onChange, fn)
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Start watches the config file's directory until ctx is cancelled.
// Watching the directory instead of the file survives editors that
// replace-on-save.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	go func() {
		defer fw.Close()

		var debounce *time.Timer
		reload := func() {
			w.reload()
		}
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Editors fire several events per save; coalesce them.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, reload)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("config watcher error", logx.Err(err))
			}
		}
	}()

	w.log.Info("config watcher started", logx.String("path", w.path))
	return nil
}

func (w *Watcher) reload() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config reload read failed", logx.Err(err))
		return
	}
	cfg, err := Parse(w.path, b)
	if err != nil {
		w.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	if err := Validate(cfg); err != nil {
		w.log.Warn("config reload invalid", logx.Err(err))
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()

	w.log.Info("config reloaded")
	for _, fn := range w.onChange {
		fn(cfg)
	}
}
