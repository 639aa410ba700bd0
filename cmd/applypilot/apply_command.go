package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"applypilot/internal/api"
	"applypilot/internal/submitpool"
	"applypilot/internal/workflow"
)

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var (
		workers      int
		dryRun       bool
		continuous   bool
		pollInterval time.Duration
		minScore     int
		limit        int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Submit ready jobs with the worker pool",
		Long: `Claim ready jobs and hand them to the submit collaborator.

Without --continuous the pool exits once no ready job is left. Interrupting
stops new claims and lets in-flight submissions finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 0 {
				return fmt.Errorf("--workers must not be negative")
			}
			if pollInterval < 0 {
				return fmt.Errorf("--poll-interval must not be negative")
			}
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signals)
			go func() {
				if _, ok := <-signals; ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "Stopping after in-flight submissions...")
					rt.Daemon.StopApply()
				}
			}()

			opts := workflow.ApplyOptions{
				Workers:      workers,
				DryRun:       dryRun || rt.Config.Apply.DryRun,
				Continuous:   continuous,
				PollInterval: pollInterval,
				MinScore:     minScore,
				Limit:        limit,
			}
			stats, err := rt.Daemon.RunApply(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.FromPoolStats(stats))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderPoolStats(stats, shouldColorize(out)))
			if opts.DryRun {
				fmt.Fprintln(out, renderStatusLine("Mode", statusInfo, "dry run, nothing was submitted", shouldColorize(out)))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent submissions (0 uses apply.workers)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate submissions without calling the submit collaborator")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Keep polling for ready jobs until interrupted")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Idle poll interval in continuous mode (0 uses apply.poll_interval_seconds)")
	cmd.Flags().IntVar(&minScore, "min-score", 0, "Only submit jobs scoring at least this much")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many claims (0 means no limit)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderPoolStats(stats submitpool.Stats, colorize bool) string {
	row := []string{
		strconv.FormatInt(stats.Claimed, 10),
		strconv.FormatInt(stats.Succeeded, 10),
		strconv.FormatInt(stats.Failed, 10),
		strconv.FormatInt(stats.Skipped, 10),
		strconv.FormatInt(stats.Retried, 10),
		strconv.FormatInt(stats.Lost, 10),
	}
	aligns := []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	return renderTable([]string{"Claimed", "Applied", "Failed", "Skipped", "Retried", "Lost"}, [][]string{row}, aligns, colorize)
}
