package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newNotifyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification transport tools",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test message through the configured notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			n, err := a.notifier()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout())
			defer cancel()

			id, err := n.Send(ctx, a.messages().Test(time.Now()))
			if err != nil {
				return fmt.Errorf("send test message: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent via %s, id %s\n", a.cfg.Notifier.Kind, id)
			return nil
		},
	})

	return cmd
}
