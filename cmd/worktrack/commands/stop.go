package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strrl/worktrack/internal/process"
	"github.com/strrl/worktrack/internal/registry"
)

// NewStopCommand creates the stop command
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [path]",
		Short: "End the active session for a project",
		Long: `Ask the worktrack process that owns the project to finalize its session.
Without a path the current directory (or the nearest tracked parent) is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStop,
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}

	reg := registry.NewFileRegistry(e.cfg.RegistryPath(), e.logger)
	path, entry, err := findEntry(reg, dir)
	if err != nil {
		return err
	}

	if !process.Alive(entry.PID) {
		if err := reg.Unregister(path); err != nil {
			e.logger.Warn("failed to remove stale entry", "path", path, "error", err)
		}
		return fmt.Errorf("session for %s belonged to pid %d, which is gone; removed the stale entry", path, entry.PID)
	}

	owner, err := os.FindProcess(entry.PID)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", entry.PID, err)
	}
	if err := owner.Signal(syscall.SIGUSR1); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", entry.PID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for %s (pid %d)\n", path, entry.PID)
	return nil
}

// findEntry resolves dir (default cwd) to the registry entry of the nearest
// tracked directory at or above it.
func findEntry(reg registry.Registry, dir string) (string, registry.Entry, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", registry.Entry{}, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", registry.Entry{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	entries, err := reg.List()
	if err != nil {
		return "", registry.Entry{}, fmt.Errorf("failed to read registry: %w", err)
	}

	for cur := abs; ; {
		if entry, ok := entries[cur]; ok {
			return cur, entry, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return "", registry.Entry{}, fmt.Errorf("%s: %w", abs, registry.ErrNoActiveSessionForPath)
}
