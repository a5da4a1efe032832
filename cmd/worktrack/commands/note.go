package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strrl/worktrack/internal/registry"
)

// NewNoteCommand creates the note command
func NewNoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "note <text...>",
		Short: "Describe what the active session is about",
		Long: `Attach a note to the session tracked for the current directory. The note is
offered first when the session ends, and used as-is when it ends by going idle.
Running it again replaces the previous note.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runNote,
	}
}

func runNote(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("note cannot be empty")
	}

	reg := registry.NewFileRegistry(e.cfg.RegistryPath(), e.logger)
	path, _, err := findEntry(reg, "")
	if err != nil {
		return err
	}
	if err := reg.SetNote(path, text); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Note saved for %s\n", path)
	return nil
}
