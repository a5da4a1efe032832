package tracker

import (
	"context"
	"time"

	"github.com/strrl/worktrack/internal/idle"
	"github.com/strrl/worktrack/internal/process"
	"github.com/strrl/worktrack/internal/registry"
	"github.com/strrl/worktrack/pkg/models"
)

// Process is the watched child as seen by the orchestrator
type Process interface {
	PID() int
	Running() bool
	// Terminate requests exit and returns once the process is gone
	Terminate(ctx context.Context) error
}

type Launcher interface {
	Launch(ctx context.Context, dir string, args []string, onExit func(exitCode int)) (Process, error)
}

// GitProvider never fails; outside a repository it reports NoBranch
type GitProvider interface {
	Branch(ctx context.Context, dir string) string
	Context(ctx context.Context, dir string, since time.Time) models.GitContext
}

// Analyzer returns nil when there is nothing to say about the conversation
type Analyzer interface {
	Analyze(ctx context.Context, projectPath string, start, end time.Time) (*models.Analysis, error)
}

type Prompter interface {
	PromptForFeature(ctx context.Context, req models.FeatureRequest) (string, error)
}

type SessionStore interface {
	Save(ctx context.Context, session models.Session) error
	Unsynced(ctx context.Context) ([]models.Session, error)
	MarkSynced(ctx context.Context, id, externalID string) error
	MarkNotified(ctx context.Context, id string) error
}

type RecordStore interface {
	Sync(ctx context.Context, session models.Session) (string, error)
}

// Notifier reports sent=false without error when it has nowhere to send
type Notifier interface {
	Notify(ctx context.Context, session models.Session) (sent bool, err error)
}

type IdleMonitor interface {
	Start()
	Stop()
}

// MonitorFactory builds an idle monitor for a project directory
type MonitorFactory func(dir string, isRunning func() bool, onIdle func()) IdleMonitor

// Deps are the collaborators of an Orchestrator. Analyzer and Notifier may
// be nil.
type Deps struct {
	Launcher   Launcher
	Git        GitProvider
	Analyzer   Analyzer
	Prompter   Prompter
	Store      SessionStore
	Records    RecordStore
	Notifier   Notifier
	Registry   registry.Registry
	NewMonitor MonitorFactory
}

// NewProcessLauncher adapts a process.Launcher
func NewProcessLauncher(l *process.Launcher) Launcher {
	return processLauncher{l}
}

type processLauncher struct {
	l *process.Launcher
}

func (p processLauncher) Launch(ctx context.Context, dir string, args []string, onExit func(int)) (Process, error) {
	proc, err := p.l.Launch(ctx, dir, args, onExit)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// IdleMonitors returns a factory producing idle.Monitor instances
func IdleMonitors(cfg idle.Config) MonitorFactory {
	return func(dir string, isRunning func() bool, onIdle func()) IdleMonitor {
		return idle.New(dir, cfg, isRunning, onIdle)
	}
}
