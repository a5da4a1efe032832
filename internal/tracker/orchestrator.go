// Package tracker owns the lifecycle of one tracked work session per process:
// it starts the watched process and idle monitor, absorbs duplicate end
// triggers and turns the first one into exactly one persisted Session.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strrl/worktrack/internal/delivery"
	"github.com/strrl/worktrack/internal/suggest"
	"github.com/strrl/worktrack/pkg/models"
)

var (
	// ErrAlreadyActive is returned by Start while this process holds a session
	ErrAlreadyActive = errors.New("a session is already active in this process")
	// ErrNoActiveSession is returned by Stop when nothing is being tracked
	ErrNoActiveSession = errors.New("no active session")
)

// Options tunes an Orchestrator. Zero values are replaced by defaults.
type Options struct {
	// OwnerPID is recorded in the registry; stop requests are sent to it
	OwnerPID int
	Now      func() time.Time
	Logger   *slog.Logger
}

type handle struct {
	id        string
	path      string
	name      string
	branch    string
	startedAt time.Time
	args      []string
	process   Process
	monitor   IdleMonitor
}

// Snapshot is a read-only copy of the active handle
type Snapshot struct {
	ID          string
	ProjectPath string
	ProjectName string
	Branch      string
	StartedAt   time.Time
	PID         int
	Args        []string
}

// Orchestrator moves between idle, active and finalizing. All transitions
// happen under mu; collaborator calls during finalize happen outside it with
// finalizing set, which turns concurrent triggers into no-ops.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	handle     *handle
	finalizing bool
	// at most one retry run; a Start during a run queues one more
	retrying   bool
	retryAgain bool

	ended  chan models.Session
	failed chan error
	bg     sync.WaitGroup
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.OwnerPID == 0 {
		opts.OwnerPID = os.Getpid()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: opts.Logger,
		ended:  make(chan models.Session, 8),
		failed: make(chan error, 8),
	}
}

// Ended receives every session once it has been persisted
func (o *Orchestrator) Ended() <-chan models.Session {
	return o.ended
}

// Failed receives errors from finalizations started by the process exit or
// idle callbacks, which have no caller to return them to.
func (o *Orchestrator) Failed() <-chan error {
	return o.failed
}

// Active reports the current session, if any
func (o *Orchestrator) Active() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	h := o.handle
	if h == nil {
		return Snapshot{}, false
	}
	snap := Snapshot{
		ID:          h.id,
		ProjectPath: h.path,
		ProjectName: h.name,
		Branch:      h.branch,
		StartedAt:   h.startedAt,
		Args:        append([]string(nil), h.args...),
	}
	if h.process != nil {
		snap.PID = h.process.PID()
	}
	return snap, true
}

// Wait blocks until background work started by the orchestrator (the retry
// queue runs at start) has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// Start begins tracking projectPath and launches the watched process with
// args. The lock is held across register and launch so no trigger can
// observe a half-built handle.
func (o *Orchestrator) Start(ctx context.Context, projectPath string, args []string) error {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return fmt.Errorf("failed to resolve project path: %w", err)
	}

	if o.busy() {
		return ErrAlreadyActive
	}

	branch := o.deps.Git.Branch(ctx, abs)
	if branch == "" {
		branch = models.NoBranch
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handle != nil || o.finalizing {
		return ErrAlreadyActive
	}

	h := &handle{
		id:        uuid.NewString(),
		path:      abs,
		name:      filepath.Base(abs),
		branch:    branch,
		startedAt: o.opts.Now(),
		args:      append([]string(nil), args...),
	}

	if err := o.deps.Registry.Register(h.path, h.id, o.opts.OwnerPID); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}

	// triggers outlive the caller's ctx
	bgCtx := context.WithoutCancel(ctx)
	id := h.id

	proc, err := o.deps.Launcher.Launch(ctx, h.path, h.args, func(code int) {
		o.logger.Debug("watched process exited", "session", id, "code", code)
		o.report(o.finalize(bgCtx, models.EndProcessExit, id))
	})
	if err != nil {
		if uerr := o.deps.Registry.Unregister(h.path); uerr != nil {
			o.logger.Warn("failed to roll back registry entry", "path", h.path, "error", uerr)
		}
		return fmt.Errorf("failed to launch watched process: %w", err)
	}
	h.process = proc

	if o.deps.NewMonitor != nil {
		h.monitor = o.deps.NewMonitor(h.path, proc.Running, func() {
			o.report(o.finalize(bgCtx, models.EndIdleTimeout, id))
		})
		h.monitor.Start()
	}

	o.handle = h
	o.logger.Info("session started", "session", h.id, "project", h.path, "branch", h.branch, "pid", proc.PID())

	if o.retrying {
		o.retryAgain = true
		return nil
	}
	o.retrying = true
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.retryLoop(bgCtx)
	}()

	return nil
}

func (o *Orchestrator) report(err error) {
	if err == nil {
		return
	}
	o.logger.Error("finalize failed", "error", err)
	select {
	case o.failed <- err:
	default:
	}
}

func (o *Orchestrator) busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle != nil || o.finalizing
}

// retryLoop runs the retry queue until no Start asked for another run
func (o *Orchestrator) retryLoop(ctx context.Context) {
	for {
		o.retrySyncs(ctx)

		o.mu.Lock()
		if !o.retryAgain {
			o.retrying = false
			o.mu.Unlock()
			return
		}
		o.retryAgain = false
		o.mu.Unlock()
	}
}

func (o *Orchestrator) retrySyncs(ctx context.Context) {
	if o.deps.Records == nil {
		return
	}
	queue := delivery.NewRetryQueue(o.deps.Store, o.deps.Records, o.logger)
	if _, err := queue.RetryFailedSyncs(ctx); err != nil {
		o.logger.Warn("background sync retry failed", "error", err)
	}
}

// Stop ends the active session as a manual stop
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	active := o.handle != nil
	o.mu.Unlock()
	if !active {
		return ErrNoActiveSession
	}
	return o.Finalize(ctx, models.EndManualStop)
}

// SwitchProject ends the active session and starts a new one in newPath with
// the same launch arguments. The old session is always finalized first.
func (o *Orchestrator) SwitchProject(ctx context.Context, newPath string) error {
	snap, ok := o.Active()
	if !ok {
		return ErrNoActiveSession
	}

	if err := o.Finalize(ctx, models.EndProjectSwitch); err != nil {
		return err
	}
	return o.Start(ctx, newPath, snap.Args)
}

// Finalize ends the active session. It is a no-op when nothing is active or
// another finalize is already running.
func (o *Orchestrator) Finalize(ctx context.Context, reason models.EndReason) error {
	return o.finalize(ctx, reason, "")
}

// finalize only acts on the session with id sessionID when one is given, so
// callbacks from an earlier lifecycle cannot end a later one.
func (o *Orchestrator) finalize(ctx context.Context, reason models.EndReason, sessionID string) error {
	o.mu.Lock()
	h := o.handle
	switch {
	case h == nil:
		o.mu.Unlock()
		o.logger.Debug("finalize ignored, no active session", "reason", reason)
		return nil
	case o.finalizing:
		o.mu.Unlock()
		o.logger.Debug("finalize ignored, already finalizing", "reason", reason, "session", h.id)
		return nil
	case sessionID != "" && h.id != sessionID:
		o.mu.Unlock()
		o.logger.Debug("finalize ignored, stale trigger", "reason", reason, "trigger", sessionID, "session", h.id)
		return nil
	}
	o.finalizing = true
	o.mu.Unlock()

	o.logger.Info("finalizing session", "session", h.id, "reason", reason)

	session, err := o.finish(ctx, h, reason)

	if uerr := o.deps.Registry.Unregister(h.path); uerr != nil {
		o.logger.Warn("failed to remove registry entry", "path", h.path, "error", uerr)
	}

	o.mu.Lock()
	o.handle = nil
	o.finalizing = false
	o.mu.Unlock()

	if err != nil {
		return err
	}

	select {
	case o.ended <- session:
	default:
		o.logger.Warn("ended channel full, dropping notification", "session", session.ID)
	}
	o.logger.Info("session finalized", "session", session.ID, "feature", session.Feature, "duration", session.Duration())
	return nil
}

// finish runs the pipeline from stopping the monitor up to delivery
func (o *Orchestrator) finish(ctx context.Context, h *handle, reason models.EndReason) (models.Session, error) {
	if h.monitor != nil {
		h.monitor.Stop()
	}

	if h.process != nil && h.process.Running() {
		if err := h.process.Terminate(ctx); err != nil {
			o.logger.Warn("failed to terminate watched process", "pid", h.process.PID(), "error", err)
		}
	}

	endedAt := o.opts.Now()
	if endedAt.Before(h.startedAt) {
		endedAt = h.startedAt
	}

	gitCtx := o.deps.Git.Context(ctx, h.path, h.startedAt)
	if gitCtx.Branch == "" {
		gitCtx.Branch = h.branch
	}

	var analysis *models.Analysis
	if o.deps.Analyzer != nil {
		a, err := o.deps.Analyzer.Analyze(ctx, h.path, h.startedAt, endedAt)
		if err != nil {
			o.logger.Warn("conversation analysis failed", "session", h.id, "error", err)
		} else {
			analysis = a
		}
	}

	suggestions := suggest.Rank(gitCtx, analysis)

	note, hasNote, err := o.deps.Registry.GetNote(h.path)
	if err != nil {
		o.logger.Warn("failed to read session note", "path", h.path, "error", err)
	}
	note = strings.TrimSpace(note)
	hasNote = hasNote && note != ""

	session := models.Session{
		ID:           h.id,
		ProjectPath:  h.path,
		ProjectName:  h.name,
		Branch:       gitCtx.Branch,
		StartedAt:    h.startedAt,
		EndedAt:      endedAt,
		EndReason:    reason,
		ChangedFiles: gitCtx.ChangedFiles,
	}
	for _, c := range gitCtx.Commits {
		session.Commits = append(session.Commits, c.Message)
	}
	if pr, ok := gitCtx.MatchingPullRequest(); ok {
		session.PullRequestURL = pr.URL
	}
	if analysis != nil {
		session.Summary = analysis.Summary
	}

	session.Feature = o.resolveFeature(ctx, session, suggestions, note, hasNote)

	if err := o.deps.Store.Save(ctx, session); err != nil {
		return session, fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}

	o.deliver(ctx, &session)
	return session, nil
}

// resolveFeature uses the note directly for unattended idle endings and asks
// the operator otherwise.
func (o *Orchestrator) resolveFeature(ctx context.Context, s models.Session, suggestions []models.Suggestion, note string, hasNote bool) string {
	if s.EndReason == models.EndIdleTimeout && hasNote {
		return note
	}

	req := models.FeatureRequest{
		ProjectName:  s.ProjectName,
		Branch:       s.Branch,
		Duration:     s.Duration(),
		EndReason:    s.EndReason,
		Commits:      s.Commits,
		ChangedFiles: s.ChangedFiles,
		Suggestions:  suggestions,
		Note:         note,
	}

	feature, err := o.deps.Prompter.PromptForFeature(ctx, req)
	feature = strings.TrimSpace(feature)
	if err == nil && feature != "" {
		return feature
	}

	fallback := fallbackFeature(s, suggestions, note)
	o.logger.Warn("feature prompt did not complete, using fallback", "session", s.ID, "feature", fallback, "error", err)
	return fallback
}

func fallbackFeature(s models.Session, suggestions []models.Suggestion, note string) string {
	if note != "" {
		return note
	}
	if len(suggestions) > 0 {
		return suggestions[0].Text
	}
	return "Work on " + s.ProjectName
}

// deliver syncs and notifies independently; failures stay queued
func (o *Orchestrator) deliver(ctx context.Context, s *models.Session) {
	if o.deps.Records != nil {
		ref, err := o.deps.Records.Sync(ctx, *s)
		if err != nil {
			o.logger.Warn("failed to sync session, will retry on next start", "session", s.ID, "error", err)
		} else if err := o.deps.Store.MarkSynced(ctx, s.ID, ref); err != nil {
			o.logger.Warn("failed to mark session synced", "session", s.ID, "error", err)
		} else {
			s.Synced = true
			s.ExternalID = ref
		}
	}

	if o.deps.Notifier != nil {
		sent, err := o.deps.Notifier.Notify(ctx, *s)
		switch {
		case err != nil:
			o.logger.Warn("failed to send notification", "session", s.ID, "error", err)
		case sent:
			if err := o.deps.Store.MarkNotified(ctx, s.ID); err != nil {
				o.logger.Warn("failed to mark session notified", "session", s.ID, "error", err)
			} else {
				s.Notified = true
			}
		}
	}
}
