// Package watch signals when a scenario file changes on disk. The parent
// directory is watched rather than the file itself so editors that save by
// rename (write temp, move over) keep triggering after the inode is replaced.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher delivers one tick per debounced burst of changes to a single file.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration
	logger   *zap.Logger

	changes chan struct{}
	done    chan struct{}
	started bool

	mu    sync.Mutex
	timer *time.Timer

	closeOnce sync.Once
	closeErr  error
}

// New watches path's directory for changes to path. Debounce at or below
// zero takes the default. Call Start to begin delivery and Close when done.
func New(path string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		fsw:      fsw,
		path:     abs,
		debounce: debounce,
		logger:   logger,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Changes receives one value per burst of edits. The channel holds a single
// pending tick; ticks beyond that collapse.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Path reports the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Start launches the event loop. Starting twice is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(event) {
				continue
			}
			w.logger.Debug("scenario changed", zap.String("path", w.path), zap.String("op", event.Op.String()))
			w.bump()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// matches keeps writes and creates aimed at the watched file. Renames over
// the file surface as creates, plain saves as writes. Removals alone do not
// trigger a re-run; there is nothing to load.
func (w *Watcher) matches(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create)
}

func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

// Close stops the watcher and waits for the loop to drain.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		started := w.started
		w.mu.Unlock()
		w.closeErr = w.fsw.Close()
		if started {
			<-w.done
		}
	})
	return w.closeErr
}
