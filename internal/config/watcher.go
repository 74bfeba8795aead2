package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
)

// watchDebounce coalesces the event bursts editors produce on save
const watchDebounce = time.Second

// Watcher reloads the configuration when its file changes on disk. It
// watches the parent directory as well, so atomic save patterns
// (write-temp-then-rename) and recreated files keep working.
type Watcher struct {
	logger   *zap.Logger
	path     string
	onChange func()

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// NewWatcher creates a watcher for the given config file
func NewWatcher(logger *zap.Logger, path string, onChange func()) (*Watcher, error) {
	if onChange == nil {
		return nil, common.ErrNilInput
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		logger:   logger,
		path:     filepath.Clean(path),
		onChange: onChange,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return common.ErrAlreadyStarted
	}

	// The file itself may not exist yet; the directory watch catches its
	// creation.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	if err := w.watcher.Add(w.path); err != nil {
		w.logger.Debug("Config file not watchable yet", zap.String("path", w.path), zap.Error(err))
	}

	w.running = true
	w.wg.Add(1)
	go w.run()

	w.logger.Info("Config watcher started", zap.String("path", w.path))
	return nil
}

// Stop ends watching and discards any pending reload
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	w.watcher.Close()
	w.wg.Wait()

	w.logger.Info("Config watcher stopped")
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		// A create is how rename-based saves and re-created files appear;
		// the watch on the old inode is gone, so re-add.
		if event.Op&fsnotify.Create != 0 {
			if err := w.watcher.Add(w.path); err != nil {
				w.logger.Debug("Re-adding config watch failed", zap.Error(err))
			}
		}
		w.scheduleReload()

	case event.Op&fsnotify.Remove != 0:
		w.logger.Warn("Config file removed", zap.String("path", w.path))

	case event.Op&fsnotify.Rename != 0:
		time.AfterFunc(100*time.Millisecond, func() {
			if err := w.watcher.Add(w.path); err != nil {
				w.logger.Debug("Re-adding config watch failed", zap.Error(err))
			}
		})
	}
}

// scheduleReload debounces: the trailing event in a burst wins
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if running {
			w.onChange()
		}
	})
}
