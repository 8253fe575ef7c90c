package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/clipkeeper/internal/client/clipboard"
	"github.com/spf13/cobra"
)

type captureFlags struct {
	text  string
	html  string
	rtf   string
	image string
	files []string
}

func (f captureFlags) event() (clipboard.Event, error) {
	set := 0
	for _, v := range []bool{f.text != "", f.html != "", f.rtf != "", f.image != "", len(f.files) > 0} {
		if v {
			set++
		}
	}
	if set > 1 {
		return clipboard.Event{}, errors.New("only one of --text, --html, --rtf, --image and --file may be given")
	}

	switch {
	case f.html != "":
		return clipboard.Event{Kind: clipboard.KindHtml, Text: f.html}, nil
	case f.rtf != "":
		return clipboard.Event{Kind: clipboard.KindRtf, Text: f.rtf}, nil
	case f.image != "":
		b, err := os.ReadFile(f.image)
		if err != nil {
			return clipboard.Event{}, fmt.Errorf("reading image: %w", err)
		}
		return clipboard.Event{Kind: clipboard.KindImage, Bytes: b}, nil
	case len(f.files) > 0:
		return clipboard.Event{Kind: clipboard.KindFile, Paths: f.files}, nil
	default:
		return clipboard.Event{Kind: clipboard.KindText, Text: f.text}, nil
	}
}

func captureCommand(withApp appRunner) *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Store one clipboard item",
		Long:  "Stores one item as if it had been copied. Without flags the text is read from stdin.",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *App) error {
			ev, err := f.event()
			if err != nil {
				return err
			}
			if ev.Kind == clipboard.KindText && ev.Text == "" {
				ev.Text, err = GetMultiline(a.reader, "Enter text", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			outcome, err := a.trigger.Handle(ctx, ev)
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}
			fmt.Fprintln(a.out, outcome)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&f.text, "text", "t", "", "plain text")
	cmd.Flags().StringVar(&f.html, "html", "", "HTML markup")
	cmd.Flags().StringVar(&f.rtf, "rtf", "", "RTF markup")
	cmd.Flags().StringVarP(&f.image, "image", "i", "", "path of an image to store")
	cmd.Flags().StringArrayVarP(&f.files, "file", "f", nil, "file path; repeat for a multi-file clip")
	return cmd
}
