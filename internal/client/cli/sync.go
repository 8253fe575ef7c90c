package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/spf13/cobra"
)

func syncCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation round and one file transfer pass",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, _ []string, a *App) error {
			if !a.gate.Enabled() {
				return fmt.Errorf("%w: log in first", common.ErrSyncDisabled)
			}
			res, err := a.cloud.Round(ctx)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Fprintf(a.out, "pushed %d, received %d, deleted %d\n", res.Pushed, res.Inserted, res.Deleted)
			if err := a.files.Tick(ctx); err != nil {
				return fmt.Errorf("file transfer failed: %w", err)
			}
			return nil
		}),
	}
}
