package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/strrl/worktrack/internal/store"
	"github.com/strrl/worktrack/pkg/models"
)

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show (0 for all)")
	return cmd
}

func runList(cmd *cobra.Command, limit int) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(ctx, e.cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.List(ctx, limit)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Sessions:")
	fmt.Fprintln(cmd.OutOrStdout(), "=========")
	for i, s := range list {
		printSession(cmd.OutOrStdout(), i+1, s)
	}
	return nil
}

func printSession(out io.Writer, n int, s models.Session) {
	state := "pending sync"
	if s.Synced {
		state = "synced"
	}

	fmt.Fprintf(out, "%d. %s\n", n, s.Feature)
	fmt.Fprintf(out, "   Project: %s (%s)\n", s.ProjectName, s.Branch)
	fmt.Fprintf(out, "   When: %s, %s, %s\n", s.StartedAt.Local().Format("2006-01-02 15:04"), units.HumanDuration(s.Duration()), s.EndReason)
	if s.PullRequestURL != "" {
		fmt.Fprintf(out, "   PR: %s\n", s.PullRequestURL)
	}
	fmt.Fprintf(out, "   ID: %s (%s, ended %s ago)\n", s.ID, state, units.HumanDuration(time.Since(s.EndedAt)))
	fmt.Fprintln(out)
}
