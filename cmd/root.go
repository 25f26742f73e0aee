package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootOptions struct {
	configPath string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ccwatch",
		Short:         "Watches the Permitium CCW schedule and rebooks the interview when an earlier slot opens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $CCWATCH_CONFIG or ./config.yml)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newNotifyCmd(opts))
	root.AddCommand(newConfigCmd(opts))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
