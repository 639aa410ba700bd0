package submitpool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/retry"
	"applypilot/internal/services"
	"applypilot/internal/submission"
)

func (p *Pool) worker(ctx context.Context, agent string, queue <-chan *jobs.Job) {
	p.opts.Metrics.WorkerStarted(ctx)
	defer p.opts.Metrics.WorkerStopped(context.WithoutCancel(ctx))

	workerCtx := services.WithWorker(ctx, agent)
	for job := range queue {
		if p.stopping(ctx) {
			p.finish(job.URL, time.Time{})
			continue
		}
		holdUntil := p.process(workerCtx, agent, job)
		p.finish(job.URL, holdUntil)
	}
}

// process claims and submits one job. It returns the lease hold set for a
// retry, if any.
func (p *Pool) process(ctx context.Context, agent string, job *jobs.Job) (holdUntil time.Time) {
	ctx = services.WithStage(services.WithJobURL(ctx, job.URL), string(jobs.StageApply))
	logger := logging.WithContext(ctx, p.logger)
	storeCtx := context.WithoutCancel(ctx)

	token := uuid.NewString()
	now := p.clock.Now()
	won, err := p.store.Claim(storeCtx, job.URL, jobs.Lease{Token: token, AgentID: agent, Now: now, TTL: p.opts.LeaseTTL}, p.query(now, 0))
	if err != nil {
		p.opts.Metrics.RecordClaim(ctx, "error")
		p.abort(logger, services.Wrap(services.ErrUnavailable, "apply", "claim", job.URL, err))
		return time.Time{}
	}
	if !won {
		p.counts.lost.Add(1)
		p.opts.Metrics.RecordClaim(ctx, "lost")
		logger.Debug("claim lost", logging.String(logging.FieldEventType, "claim_lost"))
		return time.Time{}
	}
	p.counts.claimed.Add(1)
	p.opts.Metrics.RecordClaim(ctx, "won")

	// settled is set once FinishClaim has run; the lease token is spent
	// after that and the outcome already counted.
	settled := false
	defer func() {
		if r := recover(); r != nil {
			holdUntil = time.Time{}
			if settled {
				logging.ErrorWithContext(logger, "submission worker panicked after settling", "worker_panic",
					logging.String("panic", fmt.Sprint(r)),
					logging.String(logging.FieldImpact, "outcome already recorded; other workers continue"),
				)
				return
			}
			p.counts.failed.Add(1)
			attempts := job.ApplyAttempts + 1
			status := jobs.ApplyStatusRetry
			if attempts >= p.opts.MaxAttempts {
				status = jobs.ApplyStatusFailed
			}
			// The panic counts as an attempt so a job that always panics
			// reaches the cap instead of cycling.
			if _, err := p.store.FinishClaim(storeCtx, job.URL, token, jobs.Settlement{
				Patch:        jobs.Patch{}.Set(jobs.ColApplyStatus, status).Set(jobs.ColApplyError, fmt.Sprintf("worker panic: %v", r)),
				CountAttempt: true,
				MaxAttempts:  p.opts.MaxAttempts,
				Terminal:     attempts >= p.opts.MaxAttempts,
				Now:          p.clock.Now(),
			}); err != nil {
				logger.Error("release after panic failed", logging.Error(err))
			}
			logging.ErrorWithContext(logger, "submission worker panicked", "worker_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldImpact, "job released; other workers continue"),
			)
		}
	}()

	if p.opts.DryRun {
		settled = true
		if p.settle(storeCtx, logger, job, token, jobs.Settlement{
			Patch: jobs.Patch{}.Set(jobs.ColApplyStatus, jobs.ApplyStatusDryRunOK),
			Now:   p.clock.Now(),
		}) {
			p.counts.succeeded.Add(1)
		}
		logger.Info("dry run submission", logging.String(logging.FieldEventType, "apply_dry_run"))
		return time.Time{}
	}

	outcome, err := p.submit(ctx, agent, job)
	if err == nil {
		err = outcome.Err()
	}
	p.opts.Metrics.RecordStage(ctx, string(jobs.StageApply), outcomeLabel(outcome, err), outcome.Duration)

	patch := outcomePatch(outcome)
	if err == nil {
		settle := jobs.Settlement{Patch: patch, CountAttempt: true, MaxAttempts: p.opts.MaxAttempts, Now: p.clock.Now()}
		counter := &p.counts.succeeded
		if outcome.Status == jobs.ApplyStatusSkipped {
			settle.Patch = settle.Patch.Set(jobs.ColApplyStatus, jobs.ApplyStatusSkipped).Set(jobs.ColApplyError, outcome.Error)
			counter = &p.counts.skipped
		} else {
			settle.Patch = settle.Patch.Set(jobs.ColApplyStatus, jobs.ApplyStatusApplied)
			settle.Completed = true
		}
		settled = true
		if !p.settle(storeCtx, logger, job, token, settle) {
			return time.Time{}
		}
		counter.Add(1)
		if settle.Completed && p.opts.OnApplied != nil {
			p.opts.OnApplied(storeCtx, job)
		}
		logger.Info("submission finished",
			logging.String(logging.FieldEventType, "apply_complete"),
			logging.String("status", outcome.Status),
			logging.Duration("duration", outcome.Duration),
		)
		return time.Time{}
	}

	class := services.Classify(err)
	p.opts.Metrics.RecordStageError(ctx, string(jobs.StageApply), string(class))
	decision := p.opts.Policy.Decide(class, job.ApplyAttempts+1, p.opts.MaxAttempts)
	message := services.Message(err)
	switch decision.Action {
	case retry.Abort:
		settled = true
		if _, relErr := p.store.ReleaseClaim(storeCtx, job.URL, token); relErr != nil {
			logger.Error("release after fatal failed", logging.Error(relErr))
		}
		p.counts.failed.Add(1)
		p.abort(logger, err)
		return time.Time{}
	case retry.Terminalize:
		settled = true
		if p.settle(storeCtx, logger, job, token, jobs.Settlement{
			Patch:        patch.Set(jobs.ColApplyStatus, jobs.ApplyStatusFailed).Set(jobs.ColApplyError, message),
			CountAttempt: true,
			MaxAttempts:  p.opts.MaxAttempts,
			Terminal:     true,
			Now:          p.clock.Now(),
		}) {
			p.counts.failed.Add(1)
		}
		logging.WarnWithContext(logger, "submission failed", "apply_failed",
			logging.String(logging.FieldErrorClass, string(class)),
			logging.String(logging.FieldErrorHint, "job marked errored; use jobs retry to requeue"),
			logging.Error(err),
		)
		return time.Time{}
	default:
		now := p.clock.Now()
		hold := now.Add(decision.Delay)
		settled = true
		if !p.settle(storeCtx, logger, job, token, jobs.Settlement{
			Patch:        patch.Set(jobs.ColApplyStatus, jobs.ApplyStatusRetry).Set(jobs.ColApplyError, message),
			CountAttempt: true,
			MaxAttempts:  p.opts.MaxAttempts,
			HoldUntil:    hold,
			Now:          now,
		}) {
			return time.Time{}
		}
		p.counts.retried.Add(1)
		logging.WarnWithContext(logger, "submission will be retried", "apply_retry",
			logging.String(logging.FieldErrorClass, string(class)),
			logging.Duration("backoff", decision.Delay),
			logging.Error(err),
		)
		return hold
	}
}

func (p *Pool) submit(ctx context.Context, agent string, job *jobs.Job) (submission.Outcome, error) {
	callCtx := context.WithoutCancel(ctx)
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, p.opts.Timeout)
		defer cancel()
	}
	resume := job.TailoredResumePath
	if job.SkipTailor || resume == "" {
		resume = p.opts.BaseResumePath
	}
	letter := job.CoverLetterPath
	if job.SkipCover {
		letter = ""
	}
	start := p.clock.Now()
	outcome, err := p.submitter.Submit(callCtx, submission.Request{
		Job:             job.Brief(),
		ResumePath:      resume,
		CoverLetterPath: letter,
		Worker:          agent,
	})
	if outcome.Duration <= 0 {
		outcome.Duration = p.clock.Now().Sub(start)
	}
	return outcome, err
}

// settle records the outcome under the lease token and reports whether it
// was persisted. A lost lease is counted as lost.
func (p *Pool) settle(ctx context.Context, logger *slog.Logger, job *jobs.Job, token string, settle jobs.Settlement) bool {
	ok, err := p.store.FinishClaim(ctx, job.URL, token, settle)
	if err != nil {
		p.abort(logger, services.Wrap(services.ErrUnavailable, "apply", "record outcome", job.URL, err))
		return false
	}
	if !ok {
		p.counts.lost.Add(1)
		logging.WarnWithContext(logger, "lease lost before outcome was recorded", "lease_lost",
			logging.String(logging.FieldImpact, "outcome not persisted"),
			logging.String(logging.FieldErrorHint, "raise apply.lease_seconds above the submission timeout"),
		)
	}
	return ok
}

func (p *Pool) abort(logger *slog.Logger, err error) {
	p.setFatal(err)
	logging.ErrorWithContext(logger, "submission pool aborting", "pool_abort",
		logging.String(logging.FieldErrorClass, string(services.ClassFatal)),
		logging.String(logging.FieldImpact, "no further jobs will be claimed"),
		logging.Error(err),
	)
}

// outcomePatch carries the measurements every settled submission records.
func outcomePatch(outcome submission.Outcome) jobs.Patch {
	taskID := outcome.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	patch := jobs.Patch{}.
		Set(jobs.ColApplyDurationMillis, outcome.Duration).
		Set(jobs.ColApplyTaskID, taskID)
	if outcome.Confidence != nil {
		patch = patch.Set(jobs.ColVerificationConfidence, outcome.Confidence)
	}
	return patch
}

func outcomeLabel(outcome submission.Outcome, err error) string {
	switch {
	case err != nil:
		return "errored"
	case outcome.Status == jobs.ApplyStatusSkipped:
		return "skipped"
	default:
		return "succeeded"
	}
}
