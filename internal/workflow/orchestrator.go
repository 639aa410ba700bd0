package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"applypilot/internal/config"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/observability"
	"applypilot/internal/retry"
	"applypilot/internal/services"
	"applypilot/internal/stage"
	"applypilot/internal/submission"
	"applypilot/internal/submitpool"
)

// Options wires an Orchestrator.
type Options struct {
	Config    *config.Config
	Registry  *stage.Registry
	Submitter submission.Submitter
	Policy    retry.Policy
	Clock     retry.Clock
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// RunOptions tunes a single run.
type RunOptions struct {
	// Force reprocesses jobs whose stage already completed. Attempt caps
	// still apply and the apply stage never resubmits.
	Force bool
	// MinScore overrides the configured threshold when positive.
	MinScore int
	// DryRun simulates submissions; other stages run normally.
	DryRun bool
	// Limit caps the jobs selected per stage pass; zero means no cap.
	Limit int
	// PollInterval is how long a streaming stage waits for upstream output
	// before checking again. Zero falls back to configuration.
	PollInterval time.Duration
}

// ApplyOptions configures a submission pool built by NewPool. Zero values
// fall back to configuration.
type ApplyOptions struct {
	Workers      int
	DryRun       bool
	Continuous   bool
	PollInterval time.Duration
	MinScore     int
	Limit        int
	// OnApplied is handed to the pool; see submitpool.Options.
	OnApplied func(context.Context, *jobs.Job)
}

// Orchestrator runs pipeline stages against the job store.
type Orchestrator struct {
	store     *jobs.Store
	cfg       *config.Config
	registry  *stage.Registry
	submitter submission.Submitter
	policy    retry.Policy
	clock     retry.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger

	limitMu  sync.Mutex
	limiters map[jobs.Stage]*rate.Limiter
}

// New constructs an orchestrator. A zero Policy takes its bounds from the
// configuration.
func New(store *jobs.Store, opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	policy := opts.Policy
	if policy == (retry.Policy{}) {
		policy = retry.Policy{Base: cfg.RetryBaseDelay(), Max: cfg.RetryMaxDelay()}
	}
	registry := opts.Registry
	if registry == nil {
		registry = stage.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:     store,
		cfg:       cfg,
		registry:  registry,
		submitter: opts.Submitter,
		policy:    policy,
		clock:     retry.OrSystem(opts.Clock),
		metrics:   opts.Metrics,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		limiters:  make(map[jobs.Stage]*rate.Limiter),
	}
}

// RunStage processes every job currently eligible for one stage.
func (o *Orchestrator) RunStage(ctx context.Context, st jobs.Stage, opts RunOptions) (Summary, error) {
	return o.Run(ctx, []jobs.Stage{st}, ModeSequential, opts)
}

// RunChained sweeps the requested stages until no job has eligible work
// left. Discovery runs once first and submission once last.
func (o *Orchestrator) RunChained(ctx context.Context, stages []jobs.Stage, opts RunOptions) (Summary, error) {
	return o.Run(ctx, stages, ModeChained, opts)
}

// RunStreaming runs the requested stages concurrently until each has
// drained its upstream's output or ctx ends.
func (o *Orchestrator) RunStreaming(ctx context.Context, stages []jobs.Stage, opts RunOptions) (Summary, error) {
	return o.Run(ctx, stages, ModeStreaming, opts)
}

// Run executes the requested stages in the given mode.
func (o *Orchestrator) Run(ctx context.Context, stages []jobs.Stage, mode Mode, opts RunOptions) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), Started: o.clock.Now()}
	ctx = services.WithRunID(ctx, summary.RunID)
	logger := logging.WithContext(ctx, o.logger)

	ordered := orderStages(stages)
	names := make([]string, len(ordered))
	for i, st := range ordered {
		names[i] = st.String()
	}
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Any("stages", names),
		logging.String("mode", string(mode)),
		logging.Bool("force", opts.Force),
		logging.Bool("dry_run", opts.DryRun),
		logging.Int("min_score", o.minScore(opts)),
	)

	err := o.validate(ordered)
	if err == nil && !slices.Contains(Modes, mode) {
		err = services.Wrap(services.ErrValidation, "workflow", "select mode", fmt.Sprintf("unknown run mode %q", mode), nil)
	}
	if err == nil {
		switch mode {
		case ModeChained:
			err = o.chain(ctx, ordered, opts, &summary)
		case ModeStreaming:
			err = o.stream(ctx, ordered, opts, &summary)
		default:
			for _, st := range ordered {
				if err = o.runOne(ctx, st, opts, &summary); err != nil || ctx.Err() != nil {
					break
				}
			}
		}
	}
	return o.finish(ctx, logger, &summary, err)
}

// chain runs discovery once, then sweeps the per-job stages until a full
// sweep makes no progress, then submits.
func (o *Orchestrator) chain(ctx context.Context, stages []jobs.Stage, opts RunOptions, summary *Summary) error {
	var perJob []jobs.Stage
	for _, st := range stages {
		switch st {
		case jobs.StageDiscover:
			if err := o.runOne(ctx, st, opts, summary); err != nil {
				return err
			}
		case jobs.StageApply:
		default:
			perJob = append(perJob, st)
		}
	}

	sweepOpts := opts
	for sweep := 1; len(perJob) > 0; sweep++ {
		progress := 0
		for _, st := range perJob {
			if ctx.Err() != nil {
				return nil
			}
			result, err := o.pass(ctx, st, sweepOpts)
			summary.record(result)
			if err != nil {
				return err
			}
			// Skipped jobs stay eligible, so only real outcomes count as progress.
			progress += result.Succeeded + result.Errored
		}
		o.logger.Debug("chained sweep finished",
			logging.String(logging.FieldEventType, "sweep_complete"),
			logging.Int("sweep", sweep),
			logging.Int("progress", progress),
		)
		if progress == 0 {
			break
		}
		// Forced reprocessing applies to the first sweep only; later sweeps
		// pick up work the first one unlocked.
		sweepOpts.Force = false
	}

	if slices.Contains(stages, jobs.StageApply) && ctx.Err() == nil {
		return o.runOne(ctx, jobs.StageApply, opts, summary)
	}
	return nil
}

func (o *Orchestrator) runOne(ctx context.Context, st jobs.Stage, opts RunOptions, summary *Summary) error {
	var (
		result StageSummary
		err    error
	)
	switch st {
	case jobs.StageDiscover:
		result, err = o.discover(ctx)
	case jobs.StageApply:
		result, err = o.apply(ctx, opts)
	default:
		result, err = o.pass(ctx, st, opts)
	}
	summary.record(result)
	return err
}

// validate fails fast when a requested stage has no implementation.
func (o *Orchestrator) validate(stages []jobs.Stage) error {
	if len(stages) == 0 {
		return services.Wrap(services.ErrValidation, "workflow", "select stages", "no stages requested", nil)
	}
	for _, st := range stages {
		if !st.Valid() {
			return services.Wrap(services.ErrValidation, "workflow", "select stages", fmt.Sprintf("unknown stage %q", st), nil)
		}
		if st == jobs.StageApply {
			if o.submitter == nil {
				return services.Wrap(services.ErrConfiguration, st.String(), "select stages", "no submission collaborator configured", nil)
			}
			continue
		}
		if !o.registry.Has(st) {
			if problem := o.registry.Problem(st); problem != nil {
				if services.Classify(problem) == services.ClassFatal {
					return problem
				}
				return services.Wrap(services.ErrConfiguration, st.String(), "select stages", "collaborator unavailable", problem)
			}
			return services.Wrap(services.ErrConfiguration, st.String(), "select stages", "no collaborator configured", nil)
		}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, summary *Summary, err error) (Summary, error) {
	summary.Finished = o.clock.Now()
	if err != nil {
		summary.Aborted = true
		summary.Err = err
		summary.Error = services.Message(err)
	} else if ctx.Err() != nil {
		summary.Canceled = true
	}

	totals := summary.Totals()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("outcome", string(summary.Outcome())),
		logging.Int("processed", totals.Processed),
		logging.Int("succeeded", totals.Succeeded),
		logging.Int("retried", totals.Retried),
		logging.Int("errored", totals.Errored),
		logging.Int("skipped", totals.Skipped),
		logging.Duration("elapsed", summary.Finished.Sub(summary.Started)),
	}
	if err != nil {
		logging.ErrorWithContext(logger, "run aborted", "run_aborted", append(attrs,
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the collaborator or configuration and rerun"),
		)...)
		return *summary, err
	}
	logger.Info("run finished", logging.Args(attrs...)...)
	return *summary, nil
}

// discover runs the seeder, inserting new postings into the store.
func (o *Orchestrator) discover(ctx context.Context) (StageSummary, error) {
	result := StageSummary{Stage: jobs.StageDiscover}
	started := time.Now()
	ctx = services.WithStage(ctx, jobs.StageDiscover.String())
	logger := logging.WithContext(ctx, o.logger)

	seeder := o.registry.Seeder()
	if aware, ok := seeder.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}
	storeCtx := context.WithoutCancel(ctx)
	sink := func(_ context.Context, posting jobs.Posting) (bool, error) {
		if posting.DiscoveredAt.IsZero() {
			posting.DiscoveredAt = o.clock.Now()
		}
		return o.store.Upsert(storeCtx, posting)
	}

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	seeded, err := seeder.Seed(ctx, sink)
	result.Processed = seeded.Seen
	result.Succeeded = seeded.Inserted
	result.Inserted = seeded.Inserted
	result.Duplicates = seeded.Duplicates
	result.Errored = seeded.Failed
	result.Elapsed = time.Since(started)
	o.metrics.RecordStage(ctx, jobs.StageDiscover.String(), "inserted", result.Elapsed)

	if err != nil && ctx.Err() == nil && services.Classify(err) == services.ClassFatal {
		o.metrics.RecordStageError(ctx, jobs.StageDiscover.String(), string(services.ClassFatal))
		return result, err
	}
	if err != nil && ctx.Err() == nil {
		logging.WarnWithContext(logger, "discovery finished with errors", "discover_partial",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some sources produced no postings"),
		)
	}
	logger.Info("stage finished",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("seen", result.Processed),
		logging.Int("inserted", result.Inserted),
		logging.Int("duplicates", result.Duplicates),
		logging.Int("failed", result.Errored),
		logging.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// apply runs the submission pool once over the eligible backlog.
func (o *Orchestrator) apply(ctx context.Context, opts RunOptions) (StageSummary, error) {
	started := time.Now()
	pool := o.NewPool(ApplyOptions{DryRun: opts.DryRun, MinScore: opts.MinScore, Limit: opts.Limit})
	stats, err := pool.Run(services.WithStage(ctx, jobs.StageApply.String()))
	result := StageSummary{
		Stage:     jobs.StageApply,
		Processed: int(stats.Claimed),
		Succeeded: int(stats.Succeeded),
		Retried:   int(stats.Retried),
		Errored:   int(stats.Failed),
		Skipped:   int(stats.Skipped),
		Elapsed:   time.Since(started),
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return result, err
}

// NewPool builds a submission pool from configuration and overrides.
func (o *Orchestrator) NewPool(opts ApplyOptions) *submitpool.Pool {
	settings := o.cfg.Stage(jobs.StageApply.String())
	workers := opts.Workers
	if workers <= 0 {
		workers = o.cfg.Apply.Workers
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = o.cfg.PollInterval()
	}
	return submitpool.New(o.store, o.submitter, submitpool.Options{
		Workers:        workers,
		DryRun:         opts.DryRun,
		Continuous:     opts.Continuous,
		PollInterval:   poll,
		LeaseTTL:       o.cfg.LeaseTTL(),
		MinScore:       o.minScore(RunOptions{MinScore: opts.MinScore}),
		MaxAttempts:    settings.MaxAttempts,
		Timeout:        settings.Timeout(),
		Limit:          opts.Limit,
		BaseResumePath: o.cfg.Paths.ResumePath,
		OnApplied:      opts.OnApplied,
		Clock:          o.clock,
		Policy:         o.policy,
		Metrics:        o.metrics,
		Logger:         o.logger,
	})
}

func (o *Orchestrator) minScore(opts RunOptions) int {
	if opts.MinScore > 0 {
		return opts.MinScore
	}
	return o.cfg.Pipeline.MinScore
}

// limiter returns the stage's shared rate limiter, or nil when unlimited.
// Limiters live as long as the orchestrator so chained sweeps share a budget.
func (o *Orchestrator) limiter(st jobs.Stage, perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	o.limitMu.Lock()
	defer o.limitMu.Unlock()
	if l, ok := o.limiters[st]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(perMinute/60), 1)
	o.limiters[st] = l
	return l
}

// orderStages dedupes stages and sorts them into pipeline order.
func orderStages(stages []jobs.Stage) []jobs.Stage {
	out := make([]jobs.Stage, 0, len(stages))
	for _, st := range stages {
		if !slices.Contains(out, st) {
			out = append(out, st)
		}
	}
	slices.SortStableFunc(out, func(a, b jobs.Stage) int { return a.Index() - b.Index() })
	return out
}
