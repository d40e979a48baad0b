package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors and Save produce.
const reloadDebounce = 200 * time.Millisecond

// Manager holds the active configuration. The value returned by Current is
// immutable; reloads swap in a new one.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
	log     *slog.Logger
}

// NewManager loads path. A missing file yields the defaults so the daemon
// runs unconfigured; any other load error is returned.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{path: path, log: logger}
	cfg, err := Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("config file not found, using defaults", "path", path)
		cfg = DefaultConfig()
	case err != nil:
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the active configuration. Callers must not modify it.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Path returns the file the manager reads.
func (m *Manager) Path() string {
	return m.path
}

// Reload re-reads the file. On error the active configuration is kept.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return fmt.Errorf("reload config %s: %w", m.path, err)
	}
	m.current.Store(cfg)
	return nil
}

// Update validates cfg, writes it to disk and activates it.
func (m *Manager) Update(cfg *Config) error {
	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}
	if err := Save(m.path, sanitized); err != nil {
		return err
	}
	m.current.Store(sanitized)
	return nil
}

// Watch reloads the configuration whenever the file changes, until ctx is
// done. The parent directory is watched so atomic replaces are seen.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(m.path)
	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", "err", err)
		case <-fire:
			fire = nil
			if err := m.Reload(); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				m.log.Error("config reload rejected, keeping previous", "err", err)
				continue
			}
			m.log.Info("config reloaded", "path", m.path)
		}
	}
}
