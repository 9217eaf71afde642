package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file for changes and calls a callback when the
// file is modified. It uses polling (not fsnotify) to keep dependencies minimal.
// A file that fails to parse or validate is logged and ignored; the previous
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine. onChange may be
// nil; it runs on the polling goroutine.
func NewWatcher(path string, onChange func(old, new *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	// Load initial config.
	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// Run blocks until ctx is done, then stops the watcher. It lets the watcher's
// lifetime be managed next to other long-running activities.
func (w *Watcher) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	w.Stop()
	return nil
}

// poll runs in a background goroutine, checking the config file periodically.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the config file and, if it has changed and is valid, calls
// onChange and updates the current config.
func (w *Watcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// File was touched but content is identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"session_changed", d.SessionChanged,
		"log_level_changed", d.LogLevelChanged,
		"restart_required", d.RestartRequired,
	)
	if d.RestartRequired {
		slog.Warn("config: provider or metrics settings changed; restart to apply", "path", w.path)
	}

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// loadAndHash reads the config file, parses + validates it, and returns the
// config alongside the file's SHA-256 hash and modification time.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	f, err := os.Open(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
