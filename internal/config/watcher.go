package config

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the file must stay quiet before a reload.
const DefaultDebounce = 1500 * time.Millisecond

// Watcher keeps a typed value loaded from a file and hands every changed
// version to its handlers. The parent directory is watched so saves that
// rename a temp file over the watched path are seen. A load that fails keeps
// the previous value; a load equal to the previous value notifies nobody.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int
	current  T
	loaded   bool

	reloadMu sync.Mutex
	fsw      *fsnotify.Watcher
	timer    *time.Timer
	done     chan struct{}
	wg       sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets the quiet period before a change is loaded.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler is called for every failed load.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewConfigWatcher creates a watcher for path. loader runs on every change.
func NewConfigWatcher[T any](
	path string,
	loader func(path string) (T, error),
	logger *slog.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		loader:   loader,
		logger:   logger,
		handlers: make(map[int]func(T)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers handler and returns a function that removes it.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Current returns the last value loaded successfully.
func (w *Watcher[T]) Current() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.loaded
}

// Start loads the file once without notifying and begins watching.
func (w *Watcher[T]) Start() error {
	if v, err := w.loader(w.path); err == nil {
		w.mu.Lock()
		w.current, w.loaded = v, true
		w.mu.Unlock()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	w.logger.Info("Config watcher started", "path", w.path, "debounce", w.debounce)
	w.wg.Add(1)
	go w.watch()
	return nil
}

// Stop ends watching. Handlers are not called after Stop returns.
func (w *Watcher[T]) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}

	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()

	w.reloadMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.reloadMu.Unlock()
	return err
}

// Reload loads the file now and notifies handlers if the value changed.
func (w *Watcher[T]) Reload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	w.reloadLocked()
}

func (w *Watcher[T]) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			w.logger.Debug("Config watcher stopped", "path", w.path)
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("Config file change detected", "path", w.path, "op", ev.Op.String())
			w.schedule()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "path", w.path, "error", err)
		}
	}
}

// schedule restarts the debounce timer.
func (w *Watcher[T]) schedule() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.reloadMu.Lock()
		defer w.reloadMu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		w.reloadLocked()
	})
}

func (w *Watcher[T]) reloadLocked() {
	v, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous values", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	if w.loaded && reflect.DeepEqual(v, w.current) {
		w.mu.Unlock()
		w.logger.Debug("Config unchanged", "path", w.path)
		return
	}
	w.current, w.loaded = v, true
	handlers := make([]func(T), 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	w.logger.Info("Config reloaded", "path", w.path, "handlers", len(handlers))
	for _, h := range handlers {
		h(v)
	}
}
