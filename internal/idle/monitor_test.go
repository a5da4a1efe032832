package idle

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, dir string, clock *fakeClock, running *atomic.Bool, fired *atomic.Int32) *Monitor {
	t.Helper()
	return New(dir, Config{
		PollInterval: time.Hour,
		Threshold:    10 * time.Minute,
		Now:          clock.Now,
	}, running.Load, func() { fired.Add(1) })
}

func TestMonitorFiresOnceAtThreshold(t *testing.T) {
	clock := newFakeClock()
	var running atomic.Bool
	running.Store(true)
	var fired atomic.Int32

	m := newTestMonitor(t, t.TempDir(), clock, &running, &fired)

	clock.Advance(10*time.Minute - time.Second)
	if !m.Poll() {
		t.Fatal("Expected polling to continue before the threshold")
	}
	if fired.Load() != 0 {
		t.Fatal("Idle callback fired before the threshold")
	}

	clock.Advance(time.Second)
	if m.Poll() {
		t.Error("Expected polling to stop once idle fired")
	}
	if fired.Load() != 1 {
		t.Fatalf("Expected idle callback once, got %d", fired.Load())
	}

	clock.Advance(time.Hour)
	m.Poll()
	m.Poll()
	if fired.Load() != 1 {
		t.Errorf("Idle callback fired again without restart: %d", fired.Load())
	}
}

func TestMonitorDirectoryActivityResetsClock(t *testing.T) {
	clock := newFakeClock()
	var running atomic.Bool
	running.Store(true)
	var fired atomic.Int32

	dir := t.TempDir()
	file := filepath.Join(dir, "main.go")
	if err := os.WriteFile(file, []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// keep the file out of the activity window until we touch it
	old := clock.Now().Add(-time.Hour)
	if err := os.Chtimes(file, old, old); err != nil {
		t.Fatal(err)
	}

	m := newTestMonitor(t, dir, clock, &running, &fired)

	clock.Advance(9 * time.Minute)
	touched := clock.Now().Add(-10 * time.Second)
	if err := os.Chtimes(file, touched, touched); err != nil {
		t.Fatal(err)
	}
	m.Poll()
	if got := m.LastActivity(); !got.Equal(clock.Now()) {
		t.Fatalf("Expected last activity reset to %v, got %v", clock.Now(), got)
	}

	// 10 minutes after start but only 1 after the touch
	clock.Advance(time.Minute)
	if !m.Poll() || fired.Load() != 0 {
		t.Fatal("Idle fired although the directory was recently active")
	}

	clock.Advance(9 * time.Minute)
	m.Poll()
	if fired.Load() != 1 {
		t.Errorf("Expected idle callback after threshold since last activity, got %d", fired.Load())
	}
}

func TestMonitorIgnoresHiddenEntries(t *testing.T) {
	clock := newFakeClock()
	var running atomic.Bool
	running.Store(true)
	var fired atomic.Int32

	dir := t.TempDir()
	hidden := filepath.Join(dir, ".swapfile")
	if err := os.WriteFile(hidden, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestMonitor(t, dir, clock, &running, &fired)
	clock.Advance(10 * time.Minute)
	if err := os.Chtimes(hidden, clock.Now(), clock.Now()); err != nil {
		t.Fatal(err)
	}

	m.Poll()
	if fired.Load() != 1 {
		t.Errorf("Hidden entry should not count as activity, fired=%d", fired.Load())
	}
}

func TestMonitorStopsWhenProcessGone(t *testing.T) {
	clock := newFakeClock()
	var running atomic.Bool
	var fired atomic.Int32

	m := newTestMonitor(t, t.TempDir(), clock, &running, &fired)

	clock.Advance(time.Hour)
	if m.Poll() {
		t.Error("Expected polling to stop when the process is gone")
	}

	running.Store(true)
	m.Poll()
	if fired.Load() != 0 {
		t.Errorf("Idle callback must not fire for an exited process, got %d", fired.Load())
	}
}

func TestMonitorRecordActivity(t *testing.T) {
	clock := newFakeClock()
	var running atomic.Bool
	running.Store(true)
	var fired atomic.Int32

	m := newTestMonitor(t, t.TempDir(), clock, &running, &fired)

	clock.Advance(9 * time.Minute)
	m.RecordActivity()
	clock.Advance(2 * time.Minute)
	m.Poll()
	if fired.Load() != 0 {
		t.Fatal("Idle fired although activity was recorded")
	}

	clock.Advance(8 * time.Minute)
	m.Poll()
	if fired.Load() != 1 {
		t.Errorf("Expected idle callback once, got %d", fired.Load())
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	var running atomic.Bool
	running.Store(true)
	var fired atomic.Int32

	m := newTestMonitor(t, t.TempDir(), clock, &running, &fired)

	m.Stop()
	m.Stop()

	m.Start()
	m.Start()
	m.Stop()
	m.Stop()

	clock.Advance(time.Hour)
	if m.Poll() {
		t.Error("Poll after Stop should report stopped")
	}
	if fired.Load() != 0 {
		t.Errorf("Stopped monitor fired idle callback %d times", fired.Load())
	}
}

func TestMonitorRestartAfterIdle(t *testing.T) {
	clock := newFakeClock()
	var running atomic.Bool
	running.Store(true)
	var fired atomic.Int32

	m := newTestMonitor(t, t.TempDir(), clock, &running, &fired)

	clock.Advance(10 * time.Minute)
	m.Poll()

	m.Start()
	defer m.Stop()

	clock.Advance(10 * time.Minute)
	m.Poll()
	if fired.Load() != 2 {
		t.Errorf("Expected a restarted monitor to fire again, got %d", fired.Load())
	}
}

func TestActivityWatcherRecordsWrites(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("build/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "build"), 0o755); err != nil {
		t.Fatal(err)
	}

	events := make(chan struct{}, 16)
	w, err := NewActivityWatcher(dir, func() {
		select {
		case events <- struct{}{}:
		default:
		}
	}, nil)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if !w.ignored(filepath.Join(dir, "build"), true) {
		t.Error("Expected build/ to be ignored via .gitignore")
	}
	if !w.ignored(filepath.Join(dir, ".git"), true) {
		t.Error("Expected .git/ to be ignored by default")
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected an activity signal for a write")
	}

	w.Stop()
	w.Stop()
}
