package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "envios",
		Short:         "Match PDF letters to recipients and mail them in bulk",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSandboxCommand(ctx))
	rootCmd.AddCommand(newMatchCommand(ctx))
	rootCmd.AddCommand(newSplitCommand(ctx))
	rootCmd.AddCommand(newSendCommand(ctx))

	return rootCmd
}
