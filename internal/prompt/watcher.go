package prompt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"finsynth/internal/logging"
)

// Watcher hot-reloads the template directory on edit. Rapid saves are
// debounced into a single reload.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

const watcherDebounce = 500 * time.Millisecond

// NewWatcher creates a watcher over the store's template directory.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:   store,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; a missing directory only logs, the
// built-in defaults keep serving.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	log := logging.Get(logging.CategoryPipeline)
	if err := w.watcher.Add(w.store.dir); err != nil {
		log.Warn("template dir not watchable, hot-reload disabled",
			zap.String("dir", w.store.dir), zap.Error(err))
	} else {
		log.Info("watching prompt templates", zap.String("dir", w.store.dir))
	}

	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	log := logging.Get(logging.CategoryPipeline)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("template watcher error", zap.Error(err))
		case <-ticker.C:
			w.maybeReload(log)
		}
	}
}

// maybeReload fires a reload once the edit burst has settled.
func (w *Watcher) maybeReload(log *zap.Logger) {
	w.mu.Lock()
	fire := !w.pending.IsZero() && time.Since(w.pending) >= watcherDebounce
	if fire {
		w.pending = time.Time{}
	}
	w.mu.Unlock()

	if !fire {
		return
	}
	if err := w.store.Reload(); err != nil {
		log.Error("template reload failed", zap.Error(err))
		return
	}
	log.Info("prompt templates reloaded")
}
