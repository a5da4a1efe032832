// Package idle detects when a tracked project has gone quiet.
//
// The Monitor polls on a fixed interval. A tick counts as activity when any
// visible top-level entry of the project directory was modified within the
// activity window. Other signal sources (the fsnotify ActivityWatcher, or a
// caller) can reset the clock through RecordActivity. Once the idle threshold
// is reached the callback runs exactly once and the monitor stops itself.
package idle

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultThreshold      = 10 * time.Minute
	DefaultActivityWindow = 60 * time.Second
)

// Config controls polling. Zero values fall back to the defaults.
type Config struct {
	PollInterval   time.Duration
	Threshold      time.Duration
	ActivityWindow time.Duration

	// Watch additionally subscribes to filesystem events under the
	// project directory and treats them as activity.
	Watch bool

	Now    func() time.Time
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = DefaultActivityWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Monitor raises a single idle event after a period without activity
type Monitor struct {
	dir       string
	cfg       Config
	isRunning func() bool
	onIdle    func()

	mu           sync.Mutex
	lastActivity time.Time
	stopped      bool
	cancel       context.CancelFunc
	watcher      *ActivityWatcher
}

// New creates a monitor for dir. isRunning reports whether the watched
// process is still alive; onIdle is called at most once per Start.
func New(dir string, cfg Config, isRunning func() bool, onIdle func()) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		dir:          dir,
		cfg:          cfg,
		isRunning:    isRunning,
		onIdle:       onIdle,
		lastActivity: cfg.Now(),
	}
}

// Start begins polling. Calling Start on a running monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stopped = false
	m.lastActivity = m.cfg.Now()

	if m.cfg.Watch {
		w, err := NewActivityWatcher(m.dir, m.RecordActivity, m.cfg.Logger)
		if err != nil {
			m.cfg.Logger.Warn("filesystem watch unavailable, polling only", "dir", m.dir, "error", err)
		} else if err := w.Start(); err != nil {
			m.cfg.Logger.Warn("failed to start filesystem watch, polling only", "dir", m.dir, "error", err)
			w.Stop()
		} else {
			m.watcher = w
		}
	}
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop cancels polling. It is safe to call repeatedly or before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	w := m.stopLocked()
	m.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// RecordActivity resets the idle clock without waiting for the next poll
func (m *Monitor) RecordActivity() {
	m.mu.Lock()
	m.lastActivity = m.cfg.Now()
	m.mu.Unlock()
}

// LastActivity returns when activity was last seen
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.Poll() {
				return
			}
		}
	}
}

// Poll runs a single tick and reports whether polling should continue
func (m *Monitor) Poll() bool {
	m.mu.Lock()

	if m.stopped {
		m.mu.Unlock()
		return false
	}

	if !m.isRunning() {
		// process-exit is finalized by the exit callback, not here
		w := m.stopLocked()
		m.mu.Unlock()
		if w != nil {
			w.Stop()
		}
		return false
	}

	now := m.cfg.Now()
	if m.dirActive(now) {
		m.lastActivity = now
	}

	if now.Sub(m.lastActivity) < m.cfg.Threshold {
		m.mu.Unlock()
		return true
	}

	idleFor := now.Sub(m.lastActivity)
	w := m.stopLocked()
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}

	m.cfg.Logger.Info("idle threshold reached", "dir", m.dir, "idle", idleFor.Round(time.Second))
	m.onIdle()
	return false
}

func (m *Monitor) stopLocked() *ActivityWatcher {
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	w := m.watcher
	m.watcher = nil
	return w
}

// dirActive reports whether any visible top-level entry was modified
// within the activity window.
func (m *Monitor) dirActive(now time.Time) bool {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.cfg.Logger.Debug("failed to scan project directory", "dir", m.dir, "error", err)
		return false
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= m.cfg.ActivityWindow {
			return true
		}
	}
	return false
}
