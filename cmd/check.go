package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/ccw-watcher/internal/domain/appointment"
	"github.com/example/ccw-watcher/internal/permitium"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one read-only cycle and print what the watcher would do",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := a.watcher(nil).Probe(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			d := res.Decision
			fmt.Fprintf(out, "current booking: %s (%d)\n", permitium.FormatDisplayTime(res.Booking), res.Booking)
			if !res.Window.Valid() {
				fmt.Fprintln(out, "booking is not in the future, nothing to query")
				return nil
			}
			fmt.Fprintf(out, "window: %s .. %s\n", permitium.FormatDisplayTime(res.Window.Start), permitium.FormatDisplayTime(res.Window.End))
			fmt.Fprintf(out, "candidates: %d\n", len(res.Candidates))
			for _, s := range res.Candidates {
				fmt.Fprintf(out, "  %s (%d)\n", permitium.FormatDisplayTime(s), s)
			}
			if !d.HasBest {
				fmt.Fprintln(out, "best: none")
				return nil
			}
			fmt.Fprintf(out, "best: %s saving %s\n", permitium.FormatDisplayTime(d.Best), appointment.FormatDuration(d.Saving))
			fmt.Fprintf(out, "reschedule: %s\n", yesNo(d.Reschedule))
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
