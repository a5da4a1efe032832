package idle

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnorePatterns are skipped even without a .gitignore
var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"vendor/",
	".worktrack/",
	"*.swp",
	"*~",
}

// ActivityWatcher turns filesystem events under a project into activity
// signals. Paths matched by the project's .gitignore are ignored.
type ActivityWatcher struct {
	root       string
	watcher    *fsnotify.Watcher
	ignore     *gitignore.GitIgnore
	onActivity func()
	logger     *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewActivityWatcher creates a watcher rooted at root
func NewActivityWatcher(root string, onActivity func(), logger *slog.Logger) (*ActivityWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	patterns := append([]string{}, defaultIgnorePatterns...)
	patterns = append(patterns, readIgnoreLines(filepath.Join(root, ".gitignore"))...)

	return &ActivityWatcher{
		root:       root,
		watcher:    watcher,
		ignore:     gitignore.CompileIgnoreLines(patterns...),
		onActivity: onActivity,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// Start adds every non-ignored directory to the watch list and begins
// delivering events.
func (w *ActivityWatcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", w.root, err)
	}

	go w.eventLoop()
	return nil
}

// Stop releases the underlying watcher. Safe to call more than once.
func (w *ActivityWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *ActivityWatcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", "error", err)
		}
	}
}

func (w *ActivityWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	isDir := false
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if w.ignored(event.Name, isDir) {
		return
	}

	if isDir {
		if err := w.watcher.Add(event.Name); err != nil {
			w.logger.Debug("failed to watch new directory", "path", event.Name, "error", err)
		}
	}

	w.onActivity()
}

func (w *ActivityWatcher) ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if isDir {
		rel += "/"
	}
	return w.ignore.MatchesPath(rel)
}

func readIgnoreLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
