package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/clipkeeper/internal/client/config"
	"github.com/spf13/cobra"
)

// newApp is a test seam for NewApp.
var newApp = NewApp

// NewRootCommand returns the clipkeeper command tree. in and out replace
// stdin and stdout when non-nil.
func NewRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "clipkeeper",
		Short:         "Clipboard history with cloud sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if out != nil {
		root.SetOut(out)
		root.SetErr(out)
	}
	if in != nil {
		root.SetIn(in)
	}
	flags := config.RegisterFlags(root.PersistentFlags())

	withApp := func(fn func(ctx context.Context, cmd *cobra.Command, args []string, a *App) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg, AppOptions{
				SettingsPath: flags.ConfigPath,
				In:           cmd.InOrStdin(),
				Out:          cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			runErr := fn(ctx, cmd, args, a)
			if err := a.Close(); err != nil && runErr == nil {
				runErr = fmt.Errorf("shutting down: %w", err)
			}
			return runErr
		}
	}

	root.AddCommand(
		runCommand(withApp),
		captureCommand(withApp),
		listCommand(withApp),
		searchCommand(withApp),
		showCommand(withApp),
		deleteCommand(withApp),
		pinCommand(withApp, true),
		pinCommand(withApp, false),
		syncCommand(withApp),
		loginCommand(withApp, false),
		loginCommand(withApp, true),
		logoutCommand(withApp),
		statusCommand(withApp),
	)
	return root
}

type appRunner func(fn func(ctx context.Context, cmd *cobra.Command, args []string, a *App) error) func(*cobra.Command, []string) error
