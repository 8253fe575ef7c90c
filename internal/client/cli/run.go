package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/clipkeeper/internal/client/clipboard"
	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/spf13/cobra"
)

func runCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Capture clipboard events from stdin and sync in the background",
		Long: `Reads one clipboard event per line from stdin until EOF or interrupt.
Plain lines are text; "!file <path>...", "!image <path>", "!html <markup>"
and "!rtf <markup>" select other kinds.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *App) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			notes, unsub := a.bus.Subscribe(16)
			defer unsub()
			go a.reportAuthExpiry(ctx, cmd, notes)

			return a.Run(ctx, clipboard.NewLineSource(a.reader, a.log))
		}),
	}
}

// reportAuthExpiry tells the user when the session ends mid-run.
func (a *App) reportAuthExpiry(ctx context.Context, cmd *cobra.Command, notes <-chan events.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			if n.Kind == events.AuthExpired {
				fmt.Fprintln(cmd.ErrOrStderr(), "session expired, cloud sync disabled; run 'clipkeeper login' to resume")
			}
		}
	}
}
