// Package tailoring rewrites the base resume for a specific job.
package tailoring

import (
	"context"
	"log/slog"
	"os"

	"applypilot/internal/applicant"
	"applypilot/internal/artifact"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/services/extcmd"
	"applypilot/internal/stage"
)

// Request is what a tailor sees.
type Request struct {
	Job        jobs.Brief        `json:"job"`
	BaseResume string            `json:"base_resume"`
	Profile    applicant.Profile `json:"profile"`
}

// Tailor produces a resume for one job.
type Tailor interface {
	Tailor(ctx context.Context, req Request) (artifact.Document, error)
}

// CommandTailor delegates to an external program that answers with
// {"text": ...} or {"path": ...}.
type CommandTailor struct {
	cmd *extcmd.Command
}

// NewCommandTailor wraps argv as a tailor.
func NewCommandTailor(argv []string, env ...string) (*CommandTailor, error) {
	cmd, err := extcmd.New("tailor", argv, env...)
	if err != nil {
		return nil, err
	}
	return &CommandTailor{cmd: cmd}, nil
}

// Binary returns the program the tailor runs.
func (t *CommandTailor) Binary() string { return t.cmd.Binary() }

// Tailor runs the program once.
func (t *CommandTailor) Tailor(ctx context.Context, req Request) (artifact.Document, error) {
	var doc artifact.Document
	err := t.cmd.Call(ctx, req, &doc)
	return doc, err
}

// Runner is the tailor stage.
type Runner struct {
	tailor    Tailor
	applicant *applicant.Applicant
	artifacts *artifact.Store
	minScore  int
	logger    *slog.Logger
}

// NewRunner returns a runner writing resumes into artifacts. minScore is the
// threshold used when the run does not carry its own.
func NewRunner(tailor Tailor, who *applicant.Applicant, artifacts *artifact.Store, minScore int) *Runner {
	return &Runner{tailor: tailor, applicant: who, artifacts: artifacts, minScore: minScore, logger: logging.NewNop()}
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Stage returns jobs.StageTailor.
func (r *Runner) Stage() jobs.Stage { return jobs.StageTailor }

// Execute tailors the resume for job.
func (r *Runner) Execute(ctx context.Context, job *jobs.Job) (jobs.Patch, error) {
	threshold := stage.MinScore(ctx, r.minScore)
	if job.FitScore < threshold {
		return jobs.Patch{}, stage.Skipf("fit score %d below %d", job.FitScore, threshold)
	}
	if job.TailoredAt != nil && artifact.Exists(job.TailoredResumePath) && !stage.Forced(ctx) {
		return jobs.Patch{}, nil
	}

	doc, err := r.tailor.Tailor(ctx, Request{
		Job:        job.Brief(),
		BaseResume: r.applicant.Resume,
		Profile:    r.applicant.Profile,
	})
	if err != nil {
		return jobs.Patch{}, err
	}
	path, text, err := r.artifacts.Save(artifact.KindResume, job, doc)
	if err != nil {
		return jobs.Patch{}, err
	}
	if err := artifact.ValidateResume(text, r.applicant.Resume, r.applicant.Profile); err != nil {
		_ = os.Remove(path)
		return jobs.Patch{}, err
	}
	logging.WithContext(ctx, r.logger).Debug("resume tailored", logging.String("path", path))
	return jobs.Patch{}.Set(jobs.ColTailoredResumePath, path), nil
}

// HealthCheck reports whether the tailoring program can be found.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if cmd, ok := r.tailor.(*CommandTailor); ok {
		return stage.CommandHealth("tailor", []string{cmd.Binary()})
	}
	return stage.Healthy("tailor")
}
