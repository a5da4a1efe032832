package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strrl/worktrack/internal/config"
	"github.com/strrl/worktrack/internal/delivery"
	"github.com/strrl/worktrack/internal/store"
	"github.com/strrl/worktrack/internal/tui"
)

// NewSyncCommand creates the sync command
func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send unsynced sessions to the record store",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	records := delivery.NewRecordStore(e.cfg.RecordStore.URL, e.cfg.RecordStore.Token)
	if !records.Configured() {
		return fmt.Errorf("%w: set record_store.url in %s or WORKTRACK_RECORD_STORE_URL", delivery.ErrNotConfigured, config.GlobalConfigPath())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(ctx, e.cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	queue := delivery.NewRetryQueue(st, records, e.logger)

	var res delivery.Result
	err = tui.RunWithSpinner(cmd.OutOrStdout(), "Syncing sessions...", func() error {
		var runErr error
		res, runErr = queue.RetryFailedSyncs(ctx)
		return runErr
	})
	if err != nil {
		return err
	}

	if res.Attempted == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sync")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d of %d sessions", res.Synced, res.Attempted)
	if res.Failed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d failed, see %s)", res.Failed, e.cfg.LogPath())
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
