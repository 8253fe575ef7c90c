package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func deleteCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete clips here and, when sync is on, on every device",
		Args:    cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, args []string, a *App) error {
			if err := a.clipService.Delete(ctx, args...); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %d clip(s)\n", len(args))
			return nil
		}),
	}
}

func pinCommand(withApp appRunner, pinned bool) *cobra.Command {
	use, short := "pin <id>", "Keep a clip out of history pruning"
	if !pinned {
		use, short = "unpin <id>", "Let a clip be pruned again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, args []string, a *App) error {
			return a.clipService.Pin(ctx, args[0], pinned)
		}),
	}
}
