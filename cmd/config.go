package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/ccw-watcher/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a blank configuration template",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.PathFromEnv(opts.configPath)
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig(nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok (notifier %s, every %s)\n", path, cfg.Notifier.Kind, cfg.PollInterval())
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
