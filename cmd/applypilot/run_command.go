package main

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"applypilot/internal/api"
	"applypilot/internal/jobs"
	"applypilot/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		chain    bool
		stream   bool
		force    bool
		minScore int
		dryRun   bool
		preview  bool
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run [stages...|all]",
		Short: "Run pipeline stages in the foreground",
		Long: `Run pipeline stages over every eligible job.

Stages: discover, enrich, score, tailor, cover, apply (or "all").
By default each listed stage takes one pass in pipeline order. --chain
repeats the passes until no job can advance further. --stream runs every
listed stage at once, each picking up its upstream's output as it lands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.RunRequest{
				Stages:   args,
				Chain:    chain,
				Force:    force,
				MinScore: minScore,
				DryRun:   dryRun,
				Limit:    limit,
			}
			if stream {
				req.Mode = string(workflow.ModeStreaming)
			}
			stages, opts, err := req.RunOptions()
			if err != nil {
				return err
			}
			mode, err := req.RunMode()
			if err != nil {
				return err
			}

			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if preview {
				plan, err := rt.Daemon.Preview(runCtx, stages, opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromPreview(plan))
				}
				fmt.Fprintln(out, renderPreview(plan, shouldColorize(out)))
				return nil
			}

			summary, err := rt.Daemon.Run(runCtx, stages, mode, opts)
			if summary.RunID == "" && err != nil {
				return err
			}
			if asJSON {
				if jerr := writeJSON(cmd, api.FromSummary(summary)); jerr != nil {
					return jerr
				}
			} else {
				printSummary(out, summary, shouldColorize(out))
			}
			if summary.Outcome() == workflow.OutcomeAborted {
				return fmt.Errorf("run aborted: %s", summary.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&chain, "chain", false, "Advance jobs through every listed stage until nothing is left")
	cmd.Flags().BoolVar(&stream, "stream", false, "Run the listed stages concurrently until each has drained its input")
	cmd.MarkFlagsMutuallyExclusive("chain", "stream")
	cmd.Flags().BoolVar(&force, "force", false, "Reprocess jobs that already completed a stage")
	cmd.Flags().IntVar(&minScore, "min-score", 0, "Override pipeline.min_score for this run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate submissions without calling the submit collaborator")
	cmd.Flags().BoolVar(&preview, "preview", false, "Show eligible counts per stage without running anything")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum jobs per stage (0 means no limit)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderPreview(plan []workflow.PreviewEntry, colorize bool) string {
	rows := make([][]string, 0, len(plan))
	for _, entry := range plan {
		eligible := strconv.Itoa(entry.Eligible)
		if entry.Stage == jobs.StageDiscover {
			eligible = "-"
		}
		rows = append(rows, []string{entry.Stage.String(), entry.Description, eligible, yesNo(entry.Configured)})
	}
	return renderTable(
		[]string{"Stage", "Description", "Eligible", "Configured"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		colorize,
	)
}

func printSummary(out io.Writer, summary workflow.Summary, colorize bool) {
	rows := make([][]string, 0, len(summary.Stages))
	for _, st := range summary.Stages {
		rows = append(rows, []string{
			st.Stage.String(),
			strconv.Itoa(st.Processed),
			strconv.Itoa(st.Succeeded),
			strconv.Itoa(st.Retried),
			strconv.Itoa(st.Errored),
			strconv.Itoa(st.Skipped),
			strconv.Itoa(st.Inserted),
			strconv.Itoa(st.Duplicates),
			formatElapsed(st.Elapsed),
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"Stage", "Processed", "OK", "Retried", "Errored", "Skipped", "New", "Dupes", "Elapsed"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			colorize,
		))
	}

	kind := statusOK
	switch summary.Outcome() {
	case workflow.OutcomeCompletedWithErrors, workflow.OutcomeCanceled:
		kind = statusWarn
	case workflow.OutcomeAborted:
		kind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("Outcome", kind, string(summary.Outcome()), colorize))
	if summary.Error != "" {
		fmt.Fprintln(out, renderValueLine("Error", summary.Error))
	}
	fmt.Fprintln(out, renderValueLine("Run", summary.RunID))
}
