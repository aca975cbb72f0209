package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/measulor/internal/logging"
)

type commandContext struct {
	debug bool
}

func (c *commandContext) logger() *zap.Logger {
	logger, err := logging.NewConsoleLogger(c.debug)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "measulor",
		Short:         "Body measurements from a single photo",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&ctx.debug, "debug", false, "Log request and transport details to stderr")

	rootCmd.AddCommand(newCaptureCommand(ctx))
	rootCmd.AddCommand(newAvatarCommand(ctx))

	return rootCmd
}
