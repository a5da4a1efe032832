package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strrl/worktrack/internal/process"
	"github.com/strrl/worktrack/internal/registry"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show projects with an active session",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	reg := registry.NewFileRegistry(e.cfg.RegistryPath(), e.logger)
	entries, err := reg.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No active sessions")
		return nil
	}

	for _, path := range registry.Paths(entries) {
		entry := entries[path]
		state := "running"
		if !process.Alive(entry.PID) {
			state = "stale"
		}
		fmt.Fprintf(out, "%s\n", path)
		fmt.Fprintf(out, "   Session: %s\n", entry.SessionID)
		fmt.Fprintf(out, "   PID: %d (%s)\n", entry.PID, state)
		if entry.Note != nil {
			fmt.Fprintf(out, "   Note: %s\n", *entry.Note)
		}
	}
	return nil
}
