package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"applypilot/internal/jobs"
)

// ErrSkip reports that a runner declined a job without failing it. The job
// keeps its state and no attempt is counted.
var ErrSkip = errors.New("stage skipped")

// Skipf returns an ErrSkip carrying a reason.
func Skipf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSkip, fmt.Sprintf(format, args...))
}

// Runner is the contract every per-job stage implements. Execute returns the
// patch to merge into the job on success. An empty patch with a nil error
// means there is nothing new to record and the stage is simply marked done.
type Runner interface {
	Stage() jobs.Stage
	Execute(ctx context.Context, job *jobs.Job) (jobs.Patch, error)
	HealthCheck(ctx context.Context) Health
}

// Sink receives postings produced by a seeder and reports whether each one
// was new.
type Sink func(ctx context.Context, posting jobs.Posting) (inserted bool, err error)

// SeedResult counts what a discovery pass produced.
type SeedResult struct {
	Seen       int
	Inserted   int
	Duplicates int
	Failed     int
}

// Seeder produces jobs rather than consuming one.
type Seeder interface {
	Seed(ctx context.Context, sink Sink) (SeedResult, error)
	HealthCheck(ctx context.Context) Health
}

// LoggerAware is implemented by runners that accept a run-scoped logger.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
