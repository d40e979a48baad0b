package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewManager_MissingFileUsesDefaults(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.toml"), testLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m.Current().Collection.IntervalSeconds != 30 {
		t.Fatalf("expected defaults, got %+v", m.Current().Collection)
	}
}

func TestNewManager_InvalidFileFails(t *testing.T) {
	path := writeTempConfig(t, "[collection]\ninterval_seconds = -1\n")

	if _, err := NewManager(path, testLogger()); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestManager_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeTempConfig(t, "[collection]\ntop_processes = 7\n")
	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("[collection]\ntop_processes = 500\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := m.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := m.Current().Collection.TopProcesses; got != 7 {
		t.Fatalf("expected previous value 7, got %d", got)
	}

	if err := os.WriteFile(path, []byte("[collection]\ntop_processes = 9\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := m.Current().Collection.TopProcesses; got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
}

func TestManager_Update(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	cfg := *m.Current()
	cfg.Cleanup.RetentionDays = 7
	if err := m.Update(&cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if m.Current().Cleanup.RetentionDays != 7 {
		t.Fatalf("update not active")
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Cleanup.RetentionDays != 7 {
		t.Fatalf("update not persisted")
	}
}

func TestManager_WatchPicksUpChanges(t *testing.T) {
	path := writeTempConfig(t, "[collection]\ninterval_seconds = 10\n")
	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	}()

	// Keep rewriting until the watcher is registered and picks it up.
	deadline := time.Now().Add(5 * time.Second)
	for m.Current().Collection.IntervalSeconds != 20 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not reload, interval = %d", m.Current().Collection.IntervalSeconds)
		}
		if err := os.WriteFile(path, []byte("[collection]\ninterval_seconds = 20\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		time.Sleep(2 * reloadDebounce)
	}
}
