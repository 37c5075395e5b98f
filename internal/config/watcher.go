package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = time.Second

// Watcher reloads a configuration file whenever it changes and passes the
// fresh value to every registered handler.
type Watcher[T any] struct {
	path     string
	load     func(path string) (T, error)
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int
	onError  func(error)

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long the file must stay quiet before reloading.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler is called when a reload fails to load.
func WithErrorHandler[T any](fn func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = fn
	}
}

// NewWatcher returns a watcher for path. load runs on every change; nothing
// is cached between reloads.
func NewWatcher[T any](path string, load func(string) (T, error), logger *slog.Logger, opts ...WatcherOption[T]) *Watcher[T] {
	w := &Watcher[T]{
		path:     path,
		load:     load,
		debounce: defaultDebounce,
		logger:   logger,
		handlers: make(map[int]func(T)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers fn and returns a function that removes it.
func (w *Watcher[T]) OnReload(fn func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start watches the directory holding the file, so editors that replace
// the file by renaming are picked up too. It stops when ctx is done.
func (w *Watcher[T]) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.logger.Info("watching config file", "path", w.path, "debounce", w.debounce)

	go w.run(ctx)
	return nil
}

// Wait blocks until the watch loop has exited.
func (w *Watcher[T]) Wait() {
	if w.done != nil {
		<-w.done
	}
}

func (w *Watcher[T]) run(ctx context.Context) {
	defer close(w.done)
	defer w.fsw.Close()

	name := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("config watcher stopped")
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config file changed", "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher[T]) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("failed to reload config", "path", w.path, "error", err)
		w.mu.Lock()
		onError := w.onError
		w.mu.Unlock()
		if onError != nil {
			onError(err)
		}
		return
	}

	w.mu.Lock()
	handlers := make([]func(T), 0, len(w.handlers))
	for _, fn := range w.handlers {
		handlers = append(handlers, fn)
	}
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path, "handlers", len(handlers))
	for _, fn := range handlers {
		fn(cfg)
	}
}
