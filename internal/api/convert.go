package api

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"applypilot/internal/jobs"
	"applypilot/internal/stage"
	"applypilot/internal/submitpool"
	"applypilot/internal/workflow"
)

// FromJob converts a job record to its API representation. threshold and now
// drive the computed phase.
func FromJob(job *jobs.Job, threshold int, now time.Time) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		URL:            job.URL,
		Title:          job.Title,
		Company:        job.Company(),
		Site:           job.Site,
		Location:       job.Location,
		Salary:         job.Salary,
		Phase:          string(job.Phase(threshold, now)),
		FitScore:       job.FitScore,
		ScoreKeywords:  job.ScoreKeywords,
		ScoreReasoning: job.ScoreReasoning,
		ApplicationURL: job.ApplicationURL,
		TailoredResume: job.TailoredResumePath,
		CoverLetter:    job.CoverLetterPath,
		SkipTailor:     job.SkipTailor,
		SkipCover:      job.SkipCover,
		ApplyStatus:    job.ApplyStatus,
		ApplyError:     job.ApplyError,
		AgentID:        job.AgentID,
		Confidence:     job.VerificationConfidence,
		ErroredStage:   string(job.ErroredStage),
		LastError:      LastError(job),
		Attempts: Attempts{
			Enrich: job.EnrichAttempts,
			Score:  job.ScoreAttempts,
			Tailor: job.TailorAttempts,
			Cover:  job.CoverAttempts,
			Apply:  job.ApplyAttempts,
		},
		DiscoveredAt: formatTime(job.DiscoveredAt),
		AppliedAt:    formatTimePtr(job.AppliedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
	}
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(list []*jobs.Job, threshold int, now time.Time) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job, threshold, now))
	}
	return out
}

// LastError returns the error recorded by the stage that errored the job, or
// the most advanced stage error when the job is still in flight.
func LastError(job *jobs.Job) string {
	byStage := map[jobs.Stage]string{
		jobs.StageEnrich: job.DetailError,
		jobs.StageTailor: job.TailorError,
		jobs.StageCover:  job.CoverError,
		jobs.StageApply:  job.ApplyError,
	}
	if job.ScoredAt == nil {
		byStage[jobs.StageScore] = job.ScoreReasoning
	}
	if job.ErroredStage != "" {
		return byStage[job.ErroredStage]
	}
	for _, st := range slices.Backward(jobs.Stages) {
		if msg := strings.TrimSpace(byStage[st]); msg != "" {
			return msg
		}
	}
	return ""
}

// FromStats converts store stats.
func FromStats(stats jobs.Stats) Stats {
	out := Stats{
		Total:          stats.Total,
		Enriched:       stats.Enriched,
		Scored:         stats.Scored,
		AboveThreshold: stats.AboveThreshold,
		Tailored:       stats.Tailored,
		CoverLetters:   stats.CoverLetters,
		Applied:        stats.Applied,
		Errored:        stats.Errored,
		Phases:         make(map[string]int, len(stats.Phases)),
		Sites:          make(map[string]int, len(stats.Sites)),
		Eligible:       make(map[string]int, len(stats.Eligible)),
		LastDiscovered: formatTimePtr(stats.LastDiscovered),
	}
	for phase, n := range stats.Phases {
		out.Phases[string(phase)] = n
	}
	for site, n := range stats.Sites {
		out.Sites[site] = n
	}
	for st, n := range stats.Eligible {
		out.Eligible[string(st)] = n
	}
	return out
}

// FromSummary converts a run summary.
func FromSummary(summary workflow.Summary) RunSummary {
	out := RunSummary{
		RunID:    summary.RunID,
		Outcome:  string(summary.Outcome()),
		Stages:   make([]StageCounts, 0, len(summary.Stages)),
		Started:  formatTime(summary.Started),
		Finished: formatTime(summary.Finished),
		Error:    summary.Error,
	}
	for _, st := range summary.Stages {
		out.Stages = append(out.Stages, StageCounts{
			Stage:      string(st.Stage),
			Processed:  st.Processed,
			Succeeded:  st.Succeeded,
			Retried:    st.Retried,
			Errored:    st.Errored,
			Skipped:    st.Skipped,
			Inserted:   st.Inserted,
			Duplicates: st.Duplicates,
			ElapsedMS:  st.Elapsed.Milliseconds(),
		})
	}
	return out
}

// FromPoolStats converts submission pool counters.
func FromPoolStats(stats submitpool.Stats) PoolStats {
	return PoolStats{
		Claimed:   stats.Claimed,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Skipped:   stats.Skipped,
		Retried:   stats.Retried,
		Lost:      stats.Lost,
	}
}

// FromHealth converts stage health records, keeping their order.
func FromHealth(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromPreview converts a dry plan.
func FromPreview(plan []workflow.PreviewEntry) []PreviewEntry {
	out := make([]PreviewEntry, 0, len(plan))
	for _, entry := range plan {
		out = append(out, PreviewEntry{
			Stage:       string(entry.Stage),
			Description: entry.Description,
			Eligible:    entry.Eligible,
			Configured:  entry.Configured,
		})
	}
	return out
}

// RunOptions converts a run request into orchestrator options and the parsed
// stage list. An empty stage list means every stage.
func (r RunRequest) RunOptions() ([]jobs.Stage, workflow.RunOptions, error) {
	names := r.Stages
	if len(names) == 0 {
		names = []string{"all"}
	}
	stages, err := jobs.ParseStages(names)
	if err != nil {
		return nil, workflow.RunOptions{}, err
	}
	if r.MinScore < 0 || r.MinScore > 10 {
		return nil, workflow.RunOptions{}, fmt.Errorf("min_score must be between 0 and 10, got %d", r.MinScore)
	}
	if r.Limit < 0 {
		return nil, workflow.RunOptions{}, fmt.Errorf("limit must not be negative, got %d", r.Limit)
	}
	return stages, workflow.RunOptions{
		Force:    r.Force,
		MinScore: r.MinScore,
		DryRun:   r.DryRun,
		Limit:    r.Limit,
	}, nil
}

// RunMode resolves how the requested stages run. Without a mode or chain
// flag every stage takes a single pass in pipeline order.
func (r RunRequest) RunMode() (workflow.Mode, error) {
	if r.Mode == "" {
		if r.Chain {
			return workflow.ModeChained, nil
		}
		return workflow.ModeSequential, nil
	}
	mode, err := workflow.ParseMode(r.Mode)
	if err != nil {
		return "", err
	}
	if r.Chain && mode != workflow.ModeChained {
		return "", fmt.Errorf("chain conflicts with mode %q", mode)
	}
	return mode, nil
}

// OptOut converts a job patch into store skip flags.
func (r JobPatchRequest) OptOut() (jobs.OptOut, error) {
	if r.SkipTailor == nil && r.SkipCover == nil {
		return jobs.OptOut{}, errors.New("set skip_tailor or skip_cover")
	}
	return jobs.OptOut{Tailor: r.SkipTailor, Cover: r.SkipCover}, nil
}

// ApplyOptions converts an apply request into pool options.
func (r ApplyRequest) ApplyOptions() (workflow.ApplyOptions, error) {
	if r.Workers < 0 {
		return workflow.ApplyOptions{}, fmt.Errorf("workers must not be negative, got %d", r.Workers)
	}
	return workflow.ApplyOptions{
		Workers:    r.Workers,
		DryRun:     r.DryRun,
		Continuous: r.Continuous,
		MinScore:   r.MinScore,
		Limit:      r.Limit,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
