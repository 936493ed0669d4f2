package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/camss/internal/logging"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, w *Watcher[logging.Config]) {
	t.Helper()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
}

func TestConfigWatcher_ReloadsLoggingLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	received := make(chan logging.Config, 1)
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(),
		WithDebounce[logging.Config](50*time.Millisecond))
	w.OnReload(func(cfg logging.Config) { received <- cfg })
	startWatcher(t, w)

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n\n[logging.modules]\nvin = \"warn\"\n")

	select {
	case cfg := <-received:
		if cfg.Level != "debug" || cfg.Modules["vin"] != "warn" {
			t.Errorf("got %+v, want level=debug vin=warn", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_FollowsReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	received := make(chan logging.Config, 1)
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(),
		WithDebounce[logging.Config](50*time.Millisecond))
	w.OnReload(func(cfg logging.Config) { received <- cfg })
	startWatcher(t, w)

	// Editors commonly write a temp file and rename it over the original.
	tmp := filepath.Join(dir, "config.toml.tmp")
	writeFile(t, tmp, "[logging]\nlevel = \"error\"\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Level != "error" {
			t.Errorf("level = %q, want error", cfg.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	var count atomic.Int32
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(),
		WithDebounce[logging.Config](20*time.Millisecond))
	w.OnReload(func(logging.Config) { count.Add(1) })
	startWatcher(t, w)

	writeFile(t, filepath.Join(dir, "pipeline.toml"), "")
	time.Sleep(150 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handler called %d times for an unrelated file", got)
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	errorReceived := make(chan error, 1)
	configReceived := make(chan logging.Config, 1)
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(),
		WithDebounce[logging.Config](50*time.Millisecond),
		WithErrorHandler[logging.Config](func(err error) { errorReceived <- err }))
	w.OnReload(func(cfg logging.Config) { configReceived <- cfg })
	startWatcher(t, w)

	writeFile(t, path, "[logging]\nlevel = \"loud\"\n")

	select {
	case <-errorReceived:
	case <-configReceived:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	var count atomic.Int32
	var last atomic.Value
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(),
		WithDebounce[logging.Config](200*time.Millisecond))
	w.OnReload(func(cfg logging.Config) {
		count.Add(1)
		last.Store(cfg.Modules["capture"])
	})
	startWatcher(t, w)

	levels := []string{"debug", "info", "warn", "error"}
	for _, level := range levels {
		writeFile(t, path, fmt.Sprintf("[logging]\nlevel = \"info\"\ncapture = %q\n", level))
		time.Sleep(30 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != "error" {
		t.Errorf("capture level = %v, want error", got)
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	var count1, count2 atomic.Int32
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(),
		WithDebounce[logging.Config](30*time.Millisecond))
	w.OnReload(func(logging.Config) { count1.Add(1) })
	unsub := w.OnReload(func(logging.Config) { count2.Add(1) })
	startWatcher(t, w)

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n")
	time.Sleep(200 * time.Millisecond)
	unsub()
	writeFile(t, path, "[logging]\nlevel = \"warn\"\n")
	time.Sleep(200 * time.Millisecond)

	if got := count1.Load(); got != 2 {
		t.Errorf("handler1: expected 2 calls, got %d", got)
	}
	if got := count2.Load(); got != 1 {
		t.Errorf("handler2: expected 1 call, got %d", got)
	}
}

func TestConfigWatcher_Stop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	var count atomic.Int32
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(),
		WithDebounce[logging.Config](30*time.Millisecond))
	w.OnReload(func(logging.Config) { count.Add(1) })

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop before Start failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	time.Sleep(50 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n")
	time.Sleep(150 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after stop, got %d", got)
	}
}

func TestConfigWatcher_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not exit on cancel")
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
}
