package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/pkg/client"
)

// NewReprocessCmd creates the `reprocess` command and its subcommands.
func NewReprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Request, inspect or clear a reprocessing job",
		Long: `Reprocessing regenerates every processed image from the raw and archive
directories. A running server accepts the request; the ingest process picks it
up and reports progress until the job finishes.`,
	}

	cmd.AddCommand(newReprocessRequestCmd())
	cmd.AddCommand(newReprocessStatusCmd())
	cmd.AddCommand(newReprocessClearCmd())
	cmd.AddCommand(newReprocessWatchCmd())
	return cmd
}

func newReprocessRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Ask the ingest process to regenerate all images",
		Example: `  slidesync reprocess request
  slidesync reprocess request --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			c := client.New(opts.Server)
			if err := c.RequestReprocess(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.JSONOutput {
				return cli.PrintJSON(out, map[string]string{"status": "triggered"})
			}
			fmt.Fprintln(out, cli.SuccessStyle.Render("Reprocessing requested"))

			watch, _ := cmd.Flags().GetBool("watch")
			if !watch {
				return nil
			}
			return watchReprocess(cmd.Context(), c, out)
		},
	}
	cmd.Flags().BoolP("watch", "w", false, "Follow progress until the job finishes")
	return cmd
}

func newReprocessStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current reprocessing job",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			st, err := client.New(opts.Server).ReprocessStatus(cmd.Context())
			if err != nil {
				return err
			}
			if opts.JSONOutput {
				return cli.PrintJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func newReprocessClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove reprocessing markers left by a crashed job",
		Long: `Removes the trigger and progress markers. Use this when a job is reported
as running but no ingest process is working on it, or when the progress
record is corrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			if err := client.New(opts.Server).ClearReprocess(cmd.Context()); err != nil {
				return err
			}
			if opts.JSONOutput {
				return cli.PrintJSON(cmd.OutOrStdout(), map[string]string{"status": "cleared"})
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.SuccessStyle.Render("Reprocessing markers cleared"))
			return nil
		},
	}
}

func newReprocessWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the progress of the current job",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			return watchReprocess(cmd.Context(), client.New(opts.Server), cmd.OutOrStdout())
		},
	}
}

// watchReprocess shows a progress bar on a terminal and plain lines otherwise.
func watchReprocess(ctx context.Context, c *client.Client, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f, ok := out.(*os.File); ok && cli.IsTerminal(f) {
		return runReprocessTUI(ctx, c)
	}
	return pollReprocess(ctx, c, out, statusPollInterval)
}

// pollReprocess prints a line whenever the processed count changes and
// returns once the job is no longer active.
func pollReprocess(ctx context.Context, c *client.Client, out io.Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	seenActive := false
	for {
		st, err := c.ReprocessStatus(ctx)
		if err != nil {
			return err
		}
		switch {
		case st.Active:
			seenActive = true
			if st.Processed() != last {
				last = st.Processed()
				fmt.Fprintf(out, "%d/%d processed (%d failed)\n", st.Processed(), st.Total, st.Failed)
			}
			if st.Done() {
				fmt.Fprintln(out, "Reprocessing finished")
				return nil
			}
		case st.Requested:
			if last != -2 {
				fmt.Fprintln(out, "Waiting for the ingest process to pick up the request")
				last = -2
			}
		case st.Warning != "":
			return fmt.Errorf("cannot follow job: %s", st.Warning)
		default:
			if seenActive {
				fmt.Fprintln(out, "Reprocessing finished")
			} else {
				fmt.Fprintln(out, "No reprocessing job")
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printStatus(w io.Writer, st sentinel.Status) {
	switch {
	case st.Warning != "":
		fmt.Fprintln(w, cli.ErrorStyle.Render("Warning: "+st.Warning))
		fmt.Fprintln(w, cli.MutedStyle.Render("Run 'slidesync reprocess clear' to recover."))
		return
	case !st.Active && st.Requested:
		fmt.Fprintln(w, "Requested, waiting for the ingest process")
		return
	case !st.Active:
		fmt.Fprintln(w, "No reprocessing job")
		return
	}

	state := "running"
	if st.Done() {
		state = "finished"
	}
	t := cli.NewTable(w)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("STATE"),
		text.FgHiCyan.Sprint("COMPLETED"),
		text.FgHiCyan.Sprint("FAILED"),
		text.FgHiCyan.Sprint("TOTAL"),
		text.FgHiCyan.Sprint("STARTED"),
	})
	started := "-"
	if st.StartedAt > 0 {
		started = time.UnixMilli(st.StartedAt).Format(time.TimeOnly)
	}
	t.AppendRow(table.Row{state, st.Completed, st.Failed, st.Total, started})
	t.Render()

	if len(st.Failures) > 0 {
		ft := cli.NewTable(w)
		ft.AppendHeader(table.Row{text.FgHiCyan.Sprint("FILE"), text.FgHiCyan.Sprint("REASON")})
		for _, f := range st.Failures {
			ft.AppendRow(table.Row{f.File, f.Reason})
		}
		ft.Render()
	}
}
