package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/strrl/worktrack/internal/config"
	"github.com/strrl/worktrack/internal/delivery"
	"github.com/strrl/worktrack/internal/gitctx"
	"github.com/strrl/worktrack/internal/idle"
	"github.com/strrl/worktrack/internal/process"
	"github.com/strrl/worktrack/internal/registry"
	"github.com/strrl/worktrack/internal/sessions"
	"github.com/strrl/worktrack/internal/store"
	"github.com/strrl/worktrack/internal/tracker"
	"github.com/strrl/worktrack/internal/tui"
	"github.com/strrl/worktrack/pkg/models"
)

// NewStartCommand creates the start command
func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start [-- command args...]",
		Short: "Run a tracked session in the current directory",
		Long: `Run the configured command in the current directory and track the session.
The session ends when the command exits, the project goes idle, "worktrack stop"
is run, or the command moves into a different project (a new session then
starts there).`,
		Args: cobra.ArbitraryArgs,
		RunE: runStart,
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if configPath == "" {
		if err := config.WriteDefault(config.GlobalConfigPath()); err != nil {
			e.logger.Debug("could not write default config", "error", err)
		}
	}

	st, err := store.Open(ctx, e.cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	orch := tracker.New(buildDeps(e, st), tracker.Options{Logger: e.logger})

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, syscall.SIGUSR1, syscall.SIGTERM)
	defer signal.Stop(stopSignals)
	// Ctrl+C belongs to the watched process
	signal.Ignore(os.Interrupt)
	defer signal.Reset(os.Interrupt)

	if err := orch.Start(ctx, cwd, args); err != nil {
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	errs := make(chan error, 2)
	watcher := tracker.NewDirWatcher(orch, e.cfg.Idle.PollInterval, nil, e.logger)
	go func() {
		if err := watcher.Run(watchCtx); err != nil {
			errs <- err
		}
	}()

	defer orch.Wait()

	for {
		select {
		case sig := <-stopSignals:
			e.logger.Info("stop requested", "signal", sig.String())
			go func() {
				if err := orch.Stop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, tracker.ErrNoActiveSession) {
					errs <- err
				}
			}()

		case session := <-orch.Ended():
			printRecorded(cmd, session)
			if session.EndReason != models.EndProjectSwitch {
				return nil
			}

		case err := <-orch.Failed():
			return err

		case err := <-errs:
			return err
		}
	}
}

func buildDeps(e *env, st *store.Store) tracker.Deps {
	cfg := e.cfg

	launcher := process.NewLauncher(cfg.Command, cfg.TerminateTimeout, e.logger)

	deps := tracker.Deps{
		Launcher: tracker.NewProcessLauncher(launcher),
		Git:      gitctx.New(e.logger),
		Prompter: tui.NewPrompter(os.Stdin, os.Stdout),
		Store:    st,
		Records:  delivery.NewRecordStore(cfg.RecordStore.URL, cfg.RecordStore.Token),
		Notifier: delivery.NewNotifier(cfg.Notify.WebhookURL),
		Registry: registry.NewFileRegistry(cfg.RegistryPath(), e.logger),
		NewMonitor: tracker.IdleMonitors(idle.Config{
			PollInterval:   cfg.Idle.PollInterval,
			Threshold:      cfg.Idle.Threshold,
			ActivityWindow: cfg.Idle.ActivityWindow,
			Watch:          cfg.Idle.Watch,
			Logger:         e.logger,
		}),
	}

	summarizer, err := sessions.NewSummarizer(cfg.Summarizer.Provider, cfg.Summarizer.Model, cfg.Summarizer.APIKey)
	if err != nil {
		e.logger.Warn("summarizer disabled", "error", err)
		summarizer = nil
	}
	analyzer, err := sessions.NewAnalyzer(sessions.Options{
		ProjectsDir: cfg.ProjectsDir,
		Summarizer:  summarizer,
		Logger:      e.logger,
	})
	if err != nil {
		e.logger.Warn("conversation analysis disabled", "error", err)
	} else {
		deps.Analyzer = analyzer
	}

	return deps
}

func printRecorded(cmd *cobra.Command, s models.Session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRecorded %q on %s (%s, %s)\n", s.Feature, s.Branch, units.HumanDuration(s.Duration()), s.EndReason)
	if !s.Synced {
		fmt.Fprintln(out, "Not synced yet; it will be retried on the next start or with \"worktrack sync\".")
	}
}
