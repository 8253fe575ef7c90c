package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

func loginCommand(withApp appRunner, register bool) *cobra.Command {
	var username string
	use, short := "login", "Log in and enable cloud sync"
	if register {
		use, short = "register", "Create an account and enable cloud sync"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *App) error {
			var err error
			if username == "" {
				username, err = getSimpleText(a.reader, "Username", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			password, err := getPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			op := a.authService.Login
			if register {
				op = a.authService.Register
			}
			// the service wipes password
			user, err := op(ctx, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in as %s, cloud sync enabled\n", user.Username)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name (prompted when empty)")
	return cmd
}

func logoutCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the credentials and disable cloud sync",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, _ []string, a *App) error {
			if err := a.authService.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "logged out")
			return nil
		}),
	}
}

func statusCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the account and sync state",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, _ []string, a *App) error {
			st, err := a.authService.Status(ctx)
			if err != nil {
				return err
			}
			switch {
			case st.LoggedIn:
				fmt.Fprintf(a.out, "logged in as %s\n", st.User.Username)
			case st.LastUser != "":
				fmt.Fprintf(a.out, "logged out (last user %s)\n", st.LastUser)
			default:
				fmt.Fprintln(a.out, "logged out")
			}
			fmt.Fprintf(a.out, "cloud sync: %s\n", onOff(st.SyncEnabled))
			fmt.Fprintf(a.out, "device:     %s\n", a.deviceID)
			fmt.Fprintf(a.out, "sync queue: %d pending, %d dropped\n", a.queue.Len(), a.queue.Dropped())
			return nil
		}),
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
