package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/ccw-watcher/internal/config"
	"github.com/example/ccw-watcher/internal/permitium"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the rebooking loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			var adjust func(*config.Config)
			if dryRun {
				// dry runs never send, so no transport credentials are needed
				adjust = func(c *config.Config) { c.Notifier.Kind = config.NotifierLog }
			}
			a, err := opts.setup(cmd.ErrOrStderr(), adjust)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			n, err := a.notifier()
			if err != nil {
				return err
			}
			w := a.watcher(n)
			w.DryRun = dryRun

			a.logger.Info("watcher configured",
				"base_url", a.cfg.Permitium.BaseURL,
				"timezone", permitium.ServiceTimezone,
				"interval", w.Interval.String(),
				"threshold", w.Policy.Threshold.String(),
				"notifier", a.cfg.Notifier.Kind,
				"dry_run", dryRun)
			return w.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate and log decisions without rescheduling or notifying")
	return cmd
}
