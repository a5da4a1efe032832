package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strrl/worktrack/internal/search"
	"github.com/strrl/worktrack/internal/store"
	"github.com/strrl/worktrack/pkg/models"
)

// NewSearchCommand creates the search command
func NewSearchCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <terms...>",
		Short: "Find past sessions by feature, summary, branch or commit text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	return cmd
}

func runSearch(cmd *cobra.Command, query string, limit int) error {
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

	all, err := st.List(ctx, 0)
	if err != nil {
		return err
	}

	idx, err := search.Build(all)
	if err != nil {
		return err
	}
	defer idx.Close()

	hits, err := idx.Query(query, limit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No sessions match %q\n", query)
		return nil
	}

	byID := make(map[string]models.Session, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}
	for i, hit := range hits {
		if s, ok := byID[hit.ID]; ok {
			printSession(cmd.OutOrStdout(), i+1, s)
		}
	}
	return nil
}
