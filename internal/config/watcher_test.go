package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type watchedConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadWatched(path string) (watchedConfig, error) {
	var c watchedConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	err = toml.Unmarshal(data, &c)
	return c, err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, path string, load func(string) (watchedConfig, error), opts ...WatcherOption[watchedConfig]) *Watcher[watchedConfig] {
	t.Helper()
	opts = append([]WatcherOption[watchedConfig]{WithDebounce[watchedConfig](50 * time.Millisecond)}, opts...)
	w := NewWatcher(path, load, quietLogger(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		w.Wait()
	})
	return w
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("name = \"initial\"\nvalue = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, loadWatched)
	received := make(chan watchedConfig, 4)
	w.OnReload(func(c watchedConfig) { received <- c })

	if err := os.WriteFile(path, []byte("name = \"updated\"\nvalue = 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-received:
		if c.Name != "updated" || c.Value != 42 {
			t.Errorf("reloaded %+v, want updated/42", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherReloadsOnRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, loadWatched)
	received := make(chan watchedConfig, 4)
	w.OnReload(func(c watchedConfig) { received <- c })

	tmp := filepath.Join(dir, "config.toml.swp")
	if err := os.WriteFile(tmp, []byte("value = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-received:
		if c.Value != 7 {
			t.Errorf("reloaded value %d, want 7", c.Value)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("value = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var loads atomic.Int32
	load := func(p string) (watchedConfig, error) {
		loads.Add(1)
		return loadWatched(p)
	}
	w := startWatcher(t, path, load, WithDebounce[watchedConfig](200*time.Millisecond))
	received := make(chan watchedConfig, 8)
	w.OnReload(func(c watchedConfig) { received <- c })

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, []byte("value = "+string(rune('0'+i))+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case c := <-received:
		if c.Value != 5 {
			t.Errorf("reloaded value %d, want 5", c.Value)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	time.Sleep(400 * time.Millisecond)
	if n := loads.Load(); n != 1 {
		t.Errorf("loaded %d times, want 1", n)
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, loadWatched)
	var removed atomic.Int32
	kept := make(chan watchedConfig, 4)
	unsub := w.OnReload(func(watchedConfig) { removed.Add(1) })
	w.OnReload(func(c watchedConfig) { kept <- c })
	unsub()

	if err := os.WriteFile(path, []byte("value = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-kept:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if removed.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
}

func TestWatcherReportsLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 4)
	w := startWatcher(t, path, loadWatched, WithErrorHandler[watchedConfig](func(err error) { errs <- err }))
	var reloads atomic.Int32
	w.OnReload(func(watchedConfig) { reloads.Add(1) })

	if err := os.WriteFile(path, []byte("value = [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		var decodeErr *toml.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("load error = %v, want *toml.DecodeError", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for load error")
	}
	if reloads.Load() != 0 {
		t.Error("handlers called with a config that failed to load")
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(path, loadWatched, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatcherStartMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope", "config.toml"), loadWatched, quietLogger())
	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() succeeded for a missing directory")
	}
}
