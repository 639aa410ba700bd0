// Package coverletter writes a cover letter for a job from the resume that
// will accompany it.
package coverletter

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

// Request is what a writer sees.
type Request struct {
	Job     jobs.Brief        `json:"job"`
	Resume  string            `json:"resume"`
	Profile applicant.Profile `json:"profile"`
}

// Writer produces a cover letter.
type Writer interface {
	Write(ctx context.Context, req Request) (artifact.Document, error)
}

// CommandWriter delegates to an external program.
type CommandWriter struct {
	cmd *extcmd.Command
}

// NewCommandWriter wraps argv as a writer.
func NewCommandWriter(argv []string, env ...string) (*CommandWriter, error) {
	cmd, err := extcmd.New("cover", argv, env...)
	if err != nil {
		return nil, err
	}
	return &CommandWriter{cmd: cmd}, nil
}

// Binary returns the program the writer runs.
func (w *CommandWriter) Binary() string { return w.cmd.Binary() }

// Write runs the program once.
func (w *CommandWriter) Write(ctx context.Context, req Request) (artifact.Document, error) {
	var doc artifact.Document
	err := w.cmd.Call(ctx, req, &doc)
	return doc, err
}

// Runner is the cover stage.
type Runner struct {
	writer    Writer
	applicant *applicant.Applicant
	artifacts *artifact.Store
	minScore  int
	logger    *slog.Logger
}

// NewRunner returns a runner writing letters into artifacts.
func NewRunner(writer Writer, who *applicant.Applicant, artifacts *artifact.Store, minScore int) *Runner {
	return &Runner{writer: writer, applicant: who, artifacts: artifacts, minScore: minScore, logger: logging.NewNop()}
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Stage returns jobs.StageCover.
func (r *Runner) Stage() jobs.Stage { return jobs.StageCover }

// Execute writes the letter for job.
func (r *Runner) Execute(ctx context.Context, job *jobs.Job) (jobs.Patch, error) {
	threshold := stage.MinScore(ctx, r.minScore)
	if job.FitScore < threshold {
		return jobs.Patch{}, stage.Skipf("fit score %d below %d", job.FitScore, threshold)
	}
	if job.CoverLetterAt != nil && artifact.Exists(job.CoverLetterPath) && !stage.Forced(ctx) {
		return jobs.Patch{}, nil
	}

	resume, err := r.resumeFor(job)
	if err != nil {
		return jobs.Patch{}, err
	}
	doc, err := r.writer.Write(ctx, Request{Job: job.Brief(), Resume: resume, Profile: r.applicant.Profile})
	if err != nil {
		return jobs.Patch{}, err
	}
	path, text, err := r.artifacts.Save(artifact.KindCoverLetter, job, doc)
	if err != nil {
		return jobs.Patch{}, err
	}
	if err := artifact.ValidateCoverLetter(text); err != nil {
		_ = os.Remove(path)
		return jobs.Patch{}, err
	}
	logging.WithContext(ctx, r.logger).Debug("cover letter written", logging.String("path", path))
	return jobs.Patch{}.Set(jobs.ColCoverLetterPath, path), nil
}

// resumeFor picks the tailored resume, or the base resume when the job
// opted out of tailoring.
func (r *Runner) resumeFor(job *jobs.Job) (string, error) {
	if job.SkipTailor || job.TailoredResumePath == "" {
		return r.applicant.Resume, nil
	}
	return artifact.ReadText(job.TailoredResumePath)
}

// HealthCheck reports whether the writing program can be found.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if cmd, ok := r.writer.(*CommandWriter); ok {
		return stage.CommandHealth("cover", []string{cmd.Binary()})
	}
	return stage.Healthy("cover")
}
