package main

import (
	"github.com/spf13/cobra"

	"applypilot/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		apply       bool
		development bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API until interrupted",
		Long: `Run the HTTP control API on paths.api_bind. Runs and the submission pool
can then be started and stopped remotely. With --apply the pool also starts
in continuous mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Serve(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
				Apply:       apply,
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Also run the submission pool continuously")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log records")
	return cmd
}
