package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/spf13/cobra"
)

const previewWidth = 60

func preview(v models.ClipView) string {
	s := v.Text
	if len(v.Paths) > 0 {
		s = strings.Join(v.Paths, ", ")
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewWidth {
		s = string(r[:previewWidth-1]) + "…"
	}
	return s
}

func printViews(w io.Writer, views []models.ClipView) error {
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "no clips")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPIN\tSYNC\tCONTENT")
	for _, v := range views {
		pin := ""
		if v.Pinned {
			pin = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Type, pin, v.SyncFlag, preview(v))
	}
	return tw.Flush()
}

func listCommand(withApp appRunner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l", "ls"},
		Short:   "List the history, newest first",
		Args:    cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, _ []string, a *App) error {
			views, err := a.clipService.List(ctx, limit)
			if err != nil {
				return err
			}
			return printViews(a.out, views)
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of clips, 0 for all")
	return cmd
}

func searchCommand(withApp appRunner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search text and file clips",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, args []string, a *App) error {
			views, err := a.clipService.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			return printViews(a.out, views)
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of clips, 0 for all")
	return cmd
}

func showCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one clip in full",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, args []string, a *App) error {
			v, err := a.clipService.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "id:      %s\ntype:    %s\ncreated: %s\nsync:    %s\n",
				v.ID, v.Type, time.UnixMilli(v.Created).Format(time.RFC3339), v.SyncFlag)
			if v.Path != "" {
				fmt.Fprintf(a.out, "path:    %s\n", v.Path)
			}
			for _, p := range v.Paths {
				fmt.Fprintf(a.out, "path:    %s\n", p)
			}
			fmt.Fprintf(a.out, "\n%s\n", v.Text)
			return nil
		}),
	}
}
