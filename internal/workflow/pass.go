package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"applypilot/internal/config"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/retry"
	"applypilot/internal/services"
	"applypilot/internal/stage"
)

type jobResult int

const (
	jobSucceeded jobResult = iota
	jobErrored
	jobSkipped
	// jobDeferred means the job still has attempts left but the run stopped
	// before it could be retried.
	jobDeferred
	jobAborted
)

func (r jobResult) label() string {
	switch r {
	case jobSucceeded:
		return "succeeded"
	case jobErrored:
		return "errored"
	case jobSkipped:
		return "skipped"
	case jobDeferred:
		return "deferred"
	default:
		return "aborted"
	}
}

// passState is shared by the goroutines of one stage pass.
type passState struct {
	stage    jobs.Stage
	runner   stage.Runner
	settings config.StageSettings
	force    bool

	halted atomic.Bool
	mu     sync.Mutex
	err    error
	result StageSummary
}

func (s *passState) abort(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.halted.Store(true)
}

func (s *passState) tally(outcome jobResult, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Processed++
	s.result.Retried += retries
	switch outcome {
	case jobSucceeded:
		s.result.Succeeded++
	case jobErrored:
		s.result.Errored++
	case jobSkipped:
		s.result.Skipped++
	}
}

// pass runs one stage over its currently eligible jobs.
func (o *Orchestrator) pass(ctx context.Context, st jobs.Stage, opts RunOptions) (StageSummary, error) {
	started := time.Now()
	runner, ok := o.registry.Runner(st)
	if !ok {
		return StageSummary{Stage: st}, services.Wrap(services.ErrConfiguration, st.String(), "run stage", "no collaborator configured", nil)
	}
	settings := o.cfg.Stage(st.String())
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 1
	}
	minScore := o.minScore(opts)

	ctx = services.WithStage(ctx, st.String())
	logger := logging.WithContext(ctx, o.logger)
	if aware, ok := runner.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	candidates, err := o.store.Eligible(ctx, jobs.Query{
		Stage:       st,
		MinScore:    minScore,
		MaxAttempts: settings.MaxAttempts,
		Now:         o.clock.Now(),
		Force:       opts.Force,
		Limit:       opts.Limit,
	})
	if err != nil {
		if ctx.Err() != nil {
			return StageSummary{Stage: st}, nil
		}
		return StageSummary{Stage: st}, services.Wrap(services.ErrUnavailable, st.String(), "select eligible jobs", "job store query failed", err)
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("eligible", len(candidates)),
		logging.Int("concurrency", max(1, settings.Concurrency)),
		logging.Float64("rate_per_minute", settings.RatePerMinute),
	)

	state := &passState{
		stage:    st,
		runner:   runner,
		settings: settings,
		force:    opts.Force,
		result:   StageSummary{Stage: st},
	}
	runCtx := stage.WithForce(stage.WithMinScore(ctx, minScore), opts.Force)
	limiter := o.limiter(st, settings.RatePerMinute)

	var group errgroup.Group
	group.SetLimit(max(1, settings.Concurrency))
	for _, job := range candidates {
		if state.halted.Load() || ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		group.Go(func() error {
			// A fatal error may have fired while this slot was pending.
			if state.halted.Load() || ctx.Err() != nil {
				return nil
			}
			outcome, retries, err := o.process(runCtx, state, job)
			if outcome != jobAborted {
				state.tally(outcome, retries)
			}
			if err != nil {
				state.abort(err)
			}
			return nil
		})
	}
	_ = group.Wait()

	state.result.Elapsed = time.Since(started)
	result := state.result
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("processed", result.Processed),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("retried", result.Retried),
		logging.Int("errored", result.Errored),
		logging.Int("skipped", result.Skipped),
		logging.Duration("elapsed", result.Elapsed),
	}
	if state.err != nil {
		logging.ErrorWithContext(logger, "stage aborted", "stage_aborted", append(attrs, logging.Error(state.err))...)
		return result, state.err
	}
	logger.Info("stage finished", logging.Args(attrs...)...)
	return result, nil
}

// process runs one job through the stage, retrying transient failures in
// place. A non-nil error is fatal for the run.
func (o *Orchestrator) process(ctx context.Context, state *passState, job *jobs.Job) (jobResult, int, error) {
	st := state.stage
	ctx = services.WithJobURL(ctx, job.URL)
	logger := logging.WithContext(ctx, o.logger)
	storeCtx := context.WithoutCancel(ctx)
	maxAttempts := state.settings.MaxAttempts

	attempts := job.Attempts(st)
	retries := 0
	for {
		started := time.Now()
		patch, err := o.execute(ctx, state, job)
		elapsed := time.Since(started)

		if err == nil {
			if _, werr := o.store.Complete(storeCtx, job.URL, st, patch, jobs.WriteOptions{
				Force:        state.force,
				CountAttempt: true,
				MaxAttempts:  maxAttempts,
				Now:          o.clock.Now(),
			}); werr != nil {
				return jobAborted, retries, storeFailure(st, "record result", job.URL, werr)
			}
			o.metrics.RecordStage(ctx, st.String(), jobSucceeded.label(), elapsed)
			logger.Debug("job completed",
				logging.String(logging.FieldEventType, "job_complete"),
				logging.Duration("elapsed", elapsed),
			)
			return jobSucceeded, retries, nil
		}

		if errors.Is(err, stage.ErrSkip) {
			o.metrics.RecordStage(ctx, st.String(), jobSkipped.label(), elapsed)
			logger.Debug("job skipped",
				logging.String(logging.FieldEventType, "job_skip"),
				logging.String("reason", err.Error()),
			)
			return jobSkipped, retries, nil
		}

		class := services.Classify(err)
		o.metrics.RecordStageError(ctx, st.String(), string(class))
		attempts++
		decision := o.policy.Decide(class, attempts, maxAttempts)
		detail := services.Message(err)

		switch decision.Action {
		case retry.Abort:
			logging.ErrorWithContext(logger, "fatal collaborator failure", "job_fatal",
				logging.String(logging.FieldErrorClass, string(class)),
				logging.String(logging.FieldErrorHint, "check the collaborator command and credentials"),
				logging.Error(err),
			)
			return jobAborted, retries, err

		case retry.Terminalize:
			if ferr := o.store.RecordFailure(storeCtx, job.URL, st, detail, jobs.FailureOptions{
				Terminal:    true,
				MaxAttempts: maxAttempts,
				Now:         o.clock.Now(),
			}); ferr != nil {
				return jobAborted, retries, storeFailure(st, "record failure", job.URL, ferr)
			}
			o.metrics.RecordStage(ctx, st.String(), jobErrored.label(), elapsed)
			logging.WarnWithContext(logger, "job errored", "job_errored",
				logging.String(logging.FieldErrorClass, string(class)),
				logging.Int("attempts", attempts),
				logging.String(logging.FieldImpact, "job excluded from further "+st.String()+" runs"),
				logging.String(logging.FieldErrorHint, "inspect the job and use jobs retry once fixed"),
				logging.Error(err),
			)
			return jobErrored, retries, nil

		default:
			if ferr := o.store.RecordFailure(storeCtx, job.URL, st, detail, jobs.FailureOptions{
				MaxAttempts: maxAttempts,
				Now:         o.clock.Now(),
			}); ferr != nil {
				return jobAborted, retries, storeFailure(st, "record failure", job.URL, ferr)
			}
			retries++
			logging.WarnWithContext(logger, "job failed, retrying", "job_retry",
				logging.String(logging.FieldErrorClass, string(class)),
				logging.Int("attempts", attempts),
				logging.Duration("delay", decision.Delay),
				logging.String(logging.FieldImpact, "job retried after backoff"),
				logging.Error(err),
			)
			if state.halted.Load() {
				return jobDeferred, retries, nil
			}
			if err := o.clock.Sleep(ctx, decision.Delay); err != nil {
				return jobDeferred, retries, nil
			}
			if state.halted.Load() {
				return jobDeferred, retries, nil
			}
		}
	}
}

// execute calls the runner with the stage deadline. The call outlives run
// cancellation so collaborators finish or hit their own deadline.
func (o *Orchestrator) execute(ctx context.Context, state *passState, job *jobs.Job) (patch jobs.Patch, err error) {
	callCtx := context.WithoutCancel(ctx)
	if timeout := state.settings.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			patch = jobs.Patch{}
			err = services.Wrap(services.ErrValidation, state.stage.String(), "execute", fmt.Sprintf("runner panic: %v", r), nil)
		}
	}()
	patch, err = state.runner.Execute(callCtx, job)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && services.Classify(err) != services.ClassTransient {
		// Output cut short by the deadline can look malformed; the cause is the timeout.
		err = services.Wrap(services.ErrTimeout, state.stage.String(), "execute", services.Message(err), nil)
	}
	return patch, err
}

// storeFailure wraps a write error. The store is the only shared state, so a
// failed write stops the run.
func storeFailure(st jobs.Stage, op, url string, err error) error {
	return services.Wrap(services.ErrUnavailable, st.String(), op, url, err)
}
