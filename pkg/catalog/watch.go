package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/tariff/pkg/observability"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads a catalog when its file changes. Bursts of events are
// collapsed into one reload after the debounce window. A file that fails to
// parse is logged and the previous prices are kept.
type Watcher struct {
	path     string
	catalog  *Catalog
	logger   *observability.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	reloaded chan error
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWatcher creates a watcher for path. debounce <= 0 uses the default.
func NewWatcher(path string, catalog *Catalog, debounce time.Duration, logger *observability.Logger) (*Watcher, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog path: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Watcher{
		path:     filepath.Clean(abs),
		catalog:  catalog,
		logger:   logger.WithField("catalog", abs),
		debounce: debounce,
		reloaded: make(chan error, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start watches the catalog's directory, so editors that replace the file by
// renaming are handled too. The watcher stops when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.mu.Lock()
	w.watcher = fsWatcher
	w.mu.Unlock()

	go w.loop(ctx, fsWatcher)
	return nil
}

// Reloaded delivers the result of each reload attempt. Results are dropped
// when nobody is reading.
func (w *Watcher) Reloaded() <-chan error {
	return w.reloaded
}

// Stop terminates the watcher
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *Watcher) loop(ctx context.Context, fsWatcher *fsnotify.Watcher) {
	defer observability.RecoverPanic(w.logger, "catalog watcher")

	for {
		select {
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("catalog watcher error")
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	err := w.catalog.ReloadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("catalog reload failed, keeping previous prices")
	} else {
		w.logger.WithField("prices", w.catalog.Len()).Info("catalog reloaded")
	}

	select {
	case w.reloaded <- err:
	default:
	}
}
