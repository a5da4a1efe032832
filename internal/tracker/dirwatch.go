package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/strrl/worktrack/internal/process"
)

// CwdFunc reports the working directory of a process
type CwdFunc func(pid int) (string, error)

// DirWatcher notices when the watched process moves into another project and
// switches the orchestrator over to it.
type DirWatcher struct {
	orch     *Orchestrator
	interval time.Duration
	cwd      CwdFunc
	logger   *slog.Logger
}

// NewDirWatcher polls the watched process's cwd every interval. A nil cwd
// reads it from /proc.
func NewDirWatcher(orch *Orchestrator, interval time.Duration, cwd CwdFunc, logger *slog.Logger) *DirWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if cwd == nil {
		cwd = process.Cwd
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirWatcher{orch: orch, interval: interval, cwd: cwd, logger: logger}
}

// Run polls until ctx is cancelled. It returns early with the error of a
// failed switch, after which no session is active.
func (w *DirWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				return fmt.Errorf("failed to switch project: %w", err)
			}
		}
	}
}

// Check performs one poll and reports whether a switch happened
func (w *DirWatcher) Check(ctx context.Context) (bool, error) {
	snap, ok := w.orch.Active()
	if !ok || snap.PID == 0 {
		return false, nil
	}

	dir, err := w.cwd(snap.PID)
	if err != nil {
		w.logger.Debug("cannot read watched process cwd", "pid", snap.PID, "error", err)
		return false, nil
	}

	root := ProjectRoot(dir)
	if root == snap.ProjectPath || within(root, snap.ProjectPath) {
		return false, nil
	}

	w.logger.Info("project directory changed", "from", snap.ProjectPath, "to", root)
	if err := w.orch.SwitchProject(ctx, root); err != nil {
		if errors.Is(err, ErrNoActiveSession) || errors.Is(err, ErrAlreadyActive) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ProjectRoot returns the nearest ancestor of dir holding a .git entry, or
// dir itself when there is none.
func ProjectRoot(dir string) string {
	dir = filepath.Clean(dir)
	for cur := dir; ; {
		if _, err := os.Stat(filepath.Join(cur, ".git")); err == nil {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir
		}
		cur = parent
	}
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
