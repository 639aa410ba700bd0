package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"applypilot/internal/api"
	"applypilot/internal/discovery"
	"applypilot/internal/jobs"
	"applypilot/internal/services"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage stored jobs",
	}
	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsShowCommand(ctx))
	cmd.AddCommand(newJobsRetryCommand(ctx))
	cmd.AddCommand(newJobsImportCommand(ctx))
	cmd.AddCommand(newJobsOptOutCommand(ctx))
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		filter jobs.Filter
		phase  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs with their pipeline phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phase = strings.TrimSpace(phase); phase != "" {
				if !slices.Contains(jobs.Phases, jobs.Phase(phase)) {
					return fmt.Errorf("unknown phase %q", phase)
				}
				filter.Phase = jobs.Phase(phase)
			}
			if filter.MinScore < 0 || filter.MaxScore < 0 || filter.Limit < 0 || filter.Offset < 0 {
				return fmt.Errorf("score, limit and offset flags must not be negative")
			}
			switch filter.Sort {
			case "", jobs.SortDiscovered, jobs.SortScore, jobs.SortTitle:
			default:
				return fmt.Errorf("unknown sort %q (want discovered, score or title)", filter.Sort)
			}

			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			list, err := rt.Daemon.Jobs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			views := api.FromJobs(list, rt.Config.Pipeline.MinScore, time.Now())
			if asJSON {
				return writeJSON(cmd, api.JobListResponse{Jobs: views})
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No jobs match")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(views))
			for _, job := range views {
				score := "-"
				if job.FitScore > 0 {
					score = strconv.Itoa(job.FitScore)
				}
				rows = append(rows, []string{
					phaseLabel(job.Phase, colorize),
					score,
					truncateText(orDash(job.Title), 40),
					orDash(job.Company),
					orDash(job.Site),
					job.URL,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Phase", "Score", "Title", "Company", "Site", "URL"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				colorize,
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter.Search, "search", "s", "", "Match title, site or location")
	cmd.Flags().StringVar(&filter.Site, "site", "", "Only jobs from this site")
	cmd.Flags().StringVar(&phase, "phase", "", "Only jobs in this phase")
	cmd.Flags().IntVar(&filter.MinScore, "min-score", 0, "Minimum fit score")
	cmd.Flags().IntVar(&filter.MaxScore, "max-score", 0, "Maximum fit score")
	cmd.Flags().StringVar(&filter.Sort, "sort", "", "Sort by discovered, score or title")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum rows (0 means no limit)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <url>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			job, err := rt.Daemon.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return services.Wrap(services.ErrNotFound, "jobs", "show", "no job with url "+args[0], nil)
			}
			view := api.FromJob(job, rt.Config.Pipeline.MinScore, time.Now())
			if asJSON {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			printJob(out, view, job.DescriptionText(), shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printJob(out io.Writer, job api.Job, description string, colorize bool) {
	for _, line := range renderSectionHeader(orDash(job.Title), colorize) {
		fmt.Fprintln(out, line)
	}
	score := "-"
	if job.FitScore > 0 {
		score = strconv.Itoa(job.FitScore)
	}
	lines := []string{
		renderValueLine("URL", job.URL),
		renderValueLine("Phase", phaseLabel(job.Phase, colorize)),
		renderValueLine("Company", orDash(job.Company)),
		renderValueLine("Site", orDash(job.Site)),
		renderValueLine("Location", orDash(job.Location)),
		renderValueLine("Salary", orDash(job.Salary)),
		renderValueLine("Discovered", orDash(job.DiscoveredAt)),
		renderValueLine("Fit score", score),
		renderValueLine("Keywords", orDash(job.ScoreKeywords)),
		renderValueLine("Apply at", orDash(job.ApplicationURL)),
		renderValueLine("Tailored resume", documentLabel(job.TailoredResume, job.SkipTailor)),
		renderValueLine("Cover letter", documentLabel(job.CoverLetter, job.SkipCover)),
		renderValueLine("Apply status", orDash(job.ApplyStatus)),
		renderValueLine("Applied", orDash(job.AppliedAt)),
		renderValueLine("Attempts", fmt.Sprintf("enrich %d, score %d, tailor %d, cover %d, apply %d",
			job.Attempts.Enrich, job.Attempts.Score, job.Attempts.Tailor, job.Attempts.Cover, job.Attempts.Apply)),
	}
	if job.ErroredStage != "" {
		lines = append(lines, renderStatusLine("Errored", statusError, job.ErroredStage+": "+orDash(job.LastError), colorize))
	} else if job.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, job.LastError, colorize))
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if job.ScoreReasoning != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, job.ScoreReasoning)
	}
	if description = strings.TrimSpace(description); description != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, truncateText(description, 600))
	}
}

func documentLabel(path string, skipped bool) string {
	if skipped && path == "" {
		return "opted out"
	}
	return orDash(path)
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [urls...]",
		Short: "Clear the errored state so stages pick jobs up again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("pass job urls or --all")
			}
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			count, err := rt.Store.RetryErrored(cmd.Context(), args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch count {
			case 0:
				fmt.Fprintln(out, "No errored jobs to retry")
			case 1:
				fmt.Fprintln(out, "Reset 1 errored job")
			default:
				fmt.Fprintf(out, "Reset %d errored jobs\n", count)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every errored job")
	return cmd
}

func newJobsImportCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Insert postings from a JSON Lines file",
		Long: `Read one posting object per line and insert the ones the store has not
seen. Existing jobs keep their progress.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			source := discovery.NewFileSource("import", args[0])
			var inserted, duplicates, failed int
			for posting, err := range source.Postings(cmd.Context(), discovery.Search{}) {
				if err != nil {
					if services.Classify(err) != services.ClassPermanent {
						return err
					}
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "skip: %v\n", err)
					continue
				}
				added, err := rt.Store.Upsert(cmd.Context(), posting)
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", posting.URL, err)
				case added:
					inserted++
				default:
					duplicates++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new, %d duplicate, %d failed\n", inserted, duplicates, failed)
			return nil
		},
	}
	return cmd
}

func newJobsOptOutCommand(ctx *commandContext) *cobra.Command {
	var tailor, cover, undo bool

	cmd := &cobra.Command{
		Use:   "opt-out <url>...",
		Short: "Send jobs to submission without a tailored resume or cover letter",
		Long: `Mark jobs so submission stops waiting for the named documents. An
opted-out resume falls back to the base resume; an opted-out cover letter is
left off the application. --undo clears the flags again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !tailor && !cover {
				return fmt.Errorf("pass --tailor, --cover or both")
			}
			value := !undo
			var opt jobs.OptOut
			if tailor {
				opt.Tailor = &value
			}
			if cover {
				opt.Cover = &value
			}

			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			out := cmd.OutOrStdout()
			for _, url := range args {
				if err := rt.Daemon.SetOptOut(cmd.Context(), url, opt); err != nil {
					return err
				}
				if undo {
					fmt.Fprintf(out, "Cleared opt-out for %s\n", url)
				} else {
					fmt.Fprintf(out, "Opted out %s\n", url)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tailor, "tailor", false, "Skip resume tailoring")
	cmd.Flags().BoolVar(&cover, "cover", false, "Skip the cover letter")
	cmd.Flags().BoolVar(&undo, "undo", false, "Clear the named flags instead of setting them")
	return cmd
}
