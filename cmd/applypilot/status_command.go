package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"applypilot/internal/api"
	"applypilot/internal/jobs"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline counts and collaborator health",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			defer ctx.close()

			status, err := rt.Daemon.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			printStatus(out, status, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printStatus(out io.Writer, status api.Status, colorize bool) {
	stats := status.Stats
	lines := renderSectionHeader("Pipeline", colorize)
	lines = append(lines,
		renderValueLine("Database", status.DatabasePath),
		renderValueLine("Total jobs", strconv.Itoa(stats.Total)),
		renderValueLine("Enriched", strconv.Itoa(stats.Enriched)),
		renderValueLine("Scored", strconv.Itoa(stats.Scored)),
		renderValueLine(fmt.Sprintf("Score >= %d", status.MinScore), strconv.Itoa(stats.AboveThreshold)),
		renderValueLine("Tailored", strconv.Itoa(stats.Tailored)),
		renderValueLine("Cover letters", strconv.Itoa(stats.CoverLetters)),
		renderValueLine("Applied", strconv.Itoa(stats.Applied)),
		renderValueLine("Errored", strconv.Itoa(stats.Errored)),
		renderValueLine("Last discovered", orDash(stats.LastDiscovered)),
	)
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}

	if len(stats.Phases) > 0 {
		rows := make([][]string, 0, len(stats.Phases))
		for _, phase := range jobs.Phases {
			if n := stats.Phases[string(phase)]; n > 0 {
				rows = append(rows, []string{phaseLabel(string(phase), colorize), strconv.Itoa(n)})
			}
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Phase", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}, colorize))
	}

	eligibleRows := make([][]string, 0, len(jobs.Stages))
	for _, st := range jobs.Stages {
		if n, ok := stats.Eligible[st.String()]; ok {
			eligibleRows = append(eligibleRows, []string{st.String(), strconv.Itoa(n)})
		}
	}
	if len(eligibleRows) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Stage", "Pending"}, eligibleRows, []columnAlignment{alignLeft, alignRight}, colorize))
	}

	if len(stats.Sites) > 0 {
		sites := make([]string, 0, len(stats.Sites))
		for site := range stats.Sites {
			sites = append(sites, site)
		}
		sort.Slice(sites, func(i, j int) bool {
			if stats.Sites[sites[i]] != stats.Sites[sites[j]] {
				return stats.Sites[sites[i]] > stats.Sites[sites[j]]
			}
			return sites[i] < sites[j]
		})
		rows := make([][]string, 0, len(sites))
		for _, site := range sites {
			rows = append(rows, []string{orDash(site), strconv.Itoa(stats.Sites[site])})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Site", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}, colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Collaborators", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, h := range status.Health {
		kind := statusOK
		msg := "ready"
		if !h.Ready {
			kind = statusWarn
			msg = orDash(h.Detail)
		} else if h.Detail != "" {
			msg = h.Detail
		}
		fmt.Fprintln(out, renderStatusLine(h.Name, kind, msg, colorize))
	}

	if last := status.Run.Last; last != nil {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Last run", colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out, renderValueLine("Run", last.RunID))
		fmt.Fprintln(out, renderValueLine("Outcome", last.Outcome))
		fmt.Fprintln(out, renderValueLine("Finished", orDash(last.Finished)))
		if last.Error != "" {
			fmt.Fprintln(out, renderValueLine("Error", last.Error))
		}
	}
}
