package scoring

import (
	"context"
	"log/slog"
	"strings"

	"applypilot/internal/applicant"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/services"
	"applypilot/internal/stage"
)

// Runner is the score stage.
type Runner struct {
	scorer    Scorer
	applicant *applicant.Applicant
	logger    *slog.Logger
}

// NewRunner returns a runner scoring against the applicant's resume.
func NewRunner(scorer Scorer, who *applicant.Applicant) *Runner {
	return &Runner{scorer: scorer, applicant: who, logger: logging.NewNop()}
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Stage returns jobs.StageScore.
func (r *Runner) Stage() jobs.Stage { return jobs.StageScore }

// Execute scores one job.
func (r *Runner) Execute(ctx context.Context, job *jobs.Job) (jobs.Patch, error) {
	desc := strings.TrimSpace(job.DescriptionText())
	if desc == "" {
		return jobs.Patch{}, services.Wrap(services.ErrValidation, "score", "prepare", "job has no description", nil)
	}
	result, err := r.scorer.Score(ctx, Request{
		Title:       job.Title,
		Company:     job.Company(),
		Location:    job.Location,
		Description: truncate(desc, maxDescriptionRunes),
		Resume:      r.applicant.Resume,
		Profile:     r.applicant.Profile,
	})
	if err != nil {
		return jobs.Patch{}, err
	}
	logging.WithContext(ctx, r.logger).Debug("job scored",
		logging.Int("score", result.Score),
		logging.String("keywords", result.Keywords),
	)
	return jobs.Patch{}.
		Set(jobs.ColFitScore, result.Score).
		Set(jobs.ColScoreKeywords, result.Keywords).
		Set(jobs.ColScoreReasoning, result.Reasoning), nil
}

// HealthCheck reports whether the scoring program can be found.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if cmd, ok := r.scorer.(*CommandScorer); ok {
		return stage.CommandHealth("score", []string{cmd.Binary()})
	}
	return stage.Healthy("score")
}
