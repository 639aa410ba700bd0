package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"applypilot/internal/api"
	"applypilot/internal/config"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/notifications"
	"applypilot/internal/observability"
	"applypilot/internal/retry"
	"applypilot/internal/services"
	"applypilot/internal/stage"
	"applypilot/internal/submission"
	"applypilot/internal/submitpool"
	"applypilot/internal/workflow"
)

// ErrBusy is returned when a run or the submission pool is already active.
var ErrBusy = errors.New("another run is in progress")

// Options wires a Daemon.
type Options struct {
	Config         *config.Config
	Store          *jobs.Store
	Orchestrator   *workflow.Orchestrator
	Registry       *stage.Registry
	Submitter      submission.Submitter
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Notifier       notifications.Service
	Clock          retry.Clock
	Logger         *slog.Logger
}

// Daemon coordinates orchestrator runs and the submission pool.
type Daemon struct {
	cfg       *config.Config
	store     *jobs.Store
	orch      *workflow.Orchestrator
	registry  *stage.Registry
	submitter submission.Submitter
	metrics   *observability.Metrics
	metricsH  http.Handler
	notifier  notifications.Service
	clock     retry.Clock
	logger    *slog.Logger

	runLock   *flock.Flock
	applyLock *flock.Flock

	mu       sync.Mutex
	run      *activeRun
	lastRun  *workflow.Summary
	pool     *submitpool.Pool
	poolOpts workflow.ApplyOptions
	poolDone chan struct{}
	lastPool submitpool.Stats
	poolErr  error
	api      *apiServer

	notifyWG sync.WaitGroup
}

type activeRun struct {
	stages  []jobs.Stage
	mode    workflow.Mode
	started time.Time
	cancel  context.CancelFunc
}

// New constructs a daemon from its collaborators.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Orchestrator == nil {
		return nil, errors.New("daemon requires config, store, and orchestrator")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = stage.NewRegistry()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Daemon{
		cfg:       opts.Config,
		store:     opts.Store,
		orch:      opts.Orchestrator,
		registry:  registry,
		submitter: opts.Submitter,
		metrics:   opts.Metrics,
		metricsH:  opts.MetricsHandler,
		notifier:  notifier,
		clock:     retry.OrSystem(opts.Clock),
		logger:    logging.NewComponentLogger(logger, "daemon"),
		runLock:   flock.New(opts.Config.LockPath()),
		applyLock: flock.New(opts.Config.ApplyLockPath()),
	}, nil
}

// RunStage runs one stage in the foreground.
func (d *Daemon) RunStage(ctx context.Context, st jobs.Stage, opts workflow.RunOptions) (workflow.Summary, error) {
	return d.Run(ctx, []jobs.Stage{st}, workflow.ModeSequential, opts)
}

// RunChained runs the stages in chained mode in the foreground.
func (d *Daemon) RunChained(ctx context.Context, stages []jobs.Stage, opts workflow.RunOptions) (workflow.Summary, error) {
	return d.Run(ctx, stages, workflow.ModeChained, opts)
}

// Run runs the stages in the given mode in the foreground.
func (d *Daemon) Run(ctx context.Context, stages []jobs.Stage, mode workflow.Mode, opts workflow.RunOptions) (workflow.Summary, error) {
	runCtx, release, err := d.beginRun(ctx, stages, mode)
	if err != nil {
		return workflow.Summary{}, err
	}
	defer release()
	return d.record(d.orch.Run(runCtx, stages, mode, opts))
}

// StartRun launches a run in the background. ErrBusy is reported before
// anything starts.
func (d *Daemon) StartRun(ctx context.Context, stages []jobs.Stage, mode workflow.Mode, opts workflow.RunOptions) error {
	runCtx, release, err := d.beginRun(ctx, stages, mode)
	if err != nil {
		return err
	}
	go func() {
		defer release()
		_, _ = d.record(d.orch.Run(runCtx, stages, mode, opts))
	}()
	return nil
}

// Preview reports eligible counts without running anything.
func (d *Daemon) Preview(ctx context.Context, stages []jobs.Stage, opts workflow.RunOptions) ([]workflow.PreviewEntry, error) {
	return d.orch.Preview(ctx, stages, opts)
}

// StopRun cancels the active run. In-flight collaborator calls finish or hit
// their own deadline. It reports whether a run was active.
func (d *Daemon) StopRun() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run == nil {
		return false
	}
	d.run.cancel()
	d.logger.Info("run stop requested", logging.String(logging.FieldEventType, "run_stop_requested"))
	return true
}

func (d *Daemon) beginRun(ctx context.Context, stages []jobs.Stage, mode workflow.Mode) (context.Context, func(), error) {
	if len(stages) == 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "daemon", "start run", "no stages requested", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run != nil {
		return nil, nil, ErrBusy
	}
	ok, err := d.runLock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: lock %s is held by another process", ErrBusy, d.runLock.Path())
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.run = &activeRun{stages: stages, mode: mode, started: d.clock.Now(), cancel: cancel}
	release := func() {
		cancel()
		d.mu.Lock()
		d.run = nil
		d.mu.Unlock()
		if err := d.runLock.Unlock(); err != nil {
			logging.WarnWithContext(d.logger, "failed to release run lock", "lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "later runs may report busy"),
				logging.String(logging.FieldErrorHint, "remove "+d.runLock.Path()+" if no run is active"),
			)
		}
	}
	return runCtx, release, nil
}

func (d *Daemon) record(summary workflow.Summary, err error) (workflow.Summary, error) {
	d.mu.Lock()
	d.lastRun = &summary
	d.mu.Unlock()
	if summary.RunID != "" {
		totals := summary.Totals()
		d.notify(notifications.EventRunCompleted, notifications.Payload{
			"runId":     summary.RunID,
			"outcome":   string(summary.Outcome()),
			"processed": totals.Processed,
			"succeeded": totals.Succeeded,
			"errored":   totals.Errored,
			"duration":  summary.Finished.Sub(summary.Started),
			"error":     summary.Error,
		})
	}
	return summary, err
}

// notify publishes in the background; delivery problems are logged only.
func (d *Daemon) notify(event notifications.Event, payload notifications.Payload) {
	if !notifications.Enabled(d.notifier) {
		return
	}
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.notifier.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
				logging.Error(err),
				logging.String("event", string(event)),
				logging.String(logging.FieldImpact, "pipeline continues; the push message was not delivered"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}()
}

// StartApply launches the submission pool in the background.
func (d *Daemon) StartApply(ctx context.Context, opts workflow.ApplyOptions) error {
	pool, done, err := d.beginApply(opts)
	if err != nil {
		return err
	}
	go func() {
		_, _ = d.runPool(ctx, pool, done)
	}()
	return nil
}

// RunApply runs the submission pool in the foreground until it drains or,
// in continuous mode, until StopApply or ctx cancellation.
func (d *Daemon) RunApply(ctx context.Context, opts workflow.ApplyOptions) (submitpool.Stats, error) {
	pool, done, err := d.beginApply(opts)
	if err != nil {
		return submitpool.Stats{}, err
	}
	return d.runPool(ctx, pool, done)
}

// StopApply asks the pool to stop claiming. Workers finish their current
// job. It reports whether the pool was running.
func (d *Daemon) StopApply() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return false
	}
	d.pool.Stop()
	d.logger.Info("submission pool stop requested", logging.String(logging.FieldEventType, "pool_stop_requested"))
	return true
}

func (d *Daemon) beginApply(opts workflow.ApplyOptions) (*submitpool.Pool, chan struct{}, error) {
	if d.submitter == nil {
		return nil, nil, services.Wrap(services.ErrConfiguration, "apply", "start pool", "no submission collaborator configured", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		return nil, nil, fmt.Errorf("%w: submission pool already running", ErrBusy)
	}
	ok, err := d.applyLock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("acquire apply lock: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: lock %s is held by another process", ErrBusy, d.applyLock.Path())
	}
	if opts.Workers <= 0 {
		opts.Workers = d.cfg.Apply.Workers
	}
	if d.cfg.Notifications.Applied && opts.OnApplied == nil {
		opts.OnApplied = func(_ context.Context, job *jobs.Job) {
			d.notify(notifications.EventApplied, notifications.Payload{
				"title":   job.Title,
				"company": job.Company(),
				"url":     job.URL,
			})
		}
	}
	d.pool = d.orch.NewPool(opts)
	d.poolOpts = opts
	d.poolErr = nil
	d.poolDone = make(chan struct{})
	return d.pool, d.poolDone, nil
}

func (d *Daemon) runPool(ctx context.Context, pool *submitpool.Pool, done chan struct{}) (submitpool.Stats, error) {
	defer close(done)
	d.mu.Lock()
	dryRun := d.poolOpts.DryRun
	d.mu.Unlock()
	stats, err := pool.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.ErrorWithContext(d.logger, "submission pool stopped on error", "pool_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the submission collaborator and rerun apply"),
		)
		d.notify(notifications.EventError, notifications.Payload{"context": "apply", "error": services.Message(err)})
	}
	d.notify(notifications.EventApplyCompleted, notifications.Payload{
		"claimed":   stats.Claimed,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"dryRun":    dryRun,
	})

	d.mu.Lock()
	d.pool = nil
	d.lastPool = stats
	d.poolErr = err
	d.mu.Unlock()
	if uerr := d.applyLock.Unlock(); uerr != nil {
		d.logger.Warn("failed to release apply lock", logging.Error(uerr))
	}
	return stats, err
}

// Jobs lists jobs matching filter. Phases use the configured threshold.
func (d *Daemon) Jobs(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	if filter.Threshold <= 0 {
		filter.Threshold = d.cfg.Pipeline.MinScore
	}
	if filter.Now.IsZero() {
		filter.Now = d.clock.Now()
	}
	return d.store.List(ctx, filter)
}

// Job returns one job, or nil when url is unknown.
func (d *Daemon) Job(ctx context.Context, url string) (*jobs.Job, error) {
	return d.store.Get(ctx, url)
}

// SetOptOut changes which generation stages a job bypasses.
func (d *Daemon) SetOptOut(ctx context.Context, url string, opt jobs.OptOut) error {
	if err := d.store.SetOptOut(ctx, url, opt); err != nil {
		return err
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "job_opt_out"),
		logging.String("url", url),
	}
	if opt.Tailor != nil {
		attrs = append(attrs, logging.Bool("skip_tailor", *opt.Tailor))
	}
	if opt.Cover != nil {
		attrs = append(attrs, logging.Bool("skip_cover", *opt.Cover))
	}
	d.logger.Info("job opt-out updated", logging.Args(attrs...)...)
	return nil
}

// Status aggregates store counts, run and pool state, and stage health.
func (d *Daemon) Status(ctx context.Context) (api.Status, error) {
	now := d.clock.Now()
	maxAttempts := make(map[jobs.Stage]int, len(jobs.Stages))
	for _, st := range jobs.Stages {
		maxAttempts[st] = d.cfg.Stage(st.String()).MaxAttempts
	}
	stats, err := d.store.Stats(ctx, jobs.StatsOptions{MinScore: d.cfg.Pipeline.MinScore, MaxAttempts: maxAttempts, Now: now})
	if err != nil {
		return api.Status{}, err
	}

	status := api.Status{
		DatabasePath: d.store.Path(),
		MinScore:     d.cfg.Pipeline.MinScore,
		Stats:        api.FromStats(stats),
		Health:       api.FromHealth(d.Health(ctx)),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run != nil {
		status.Run.Active = true
		status.Run.Mode = string(d.run.mode)
		status.Run.Chained = d.run.mode == workflow.ModeChained
		status.Run.Started = d.run.started.UTC().Format(time.RFC3339)
		for _, st := range d.run.stages {
			status.Run.Stages = append(status.Run.Stages, st.String())
		}
	}
	if d.lastRun != nil {
		last := api.FromSummary(*d.lastRun)
		status.Run.Last = &last
	}
	if d.pool != nil {
		status.Apply.Running = true
		status.Apply.Workers = d.poolOpts.Workers
		status.Apply.DryRun = d.poolOpts.DryRun
		status.Apply.Stats = api.FromPoolStats(d.pool.Stats())
	} else {
		status.Apply.Stats = api.FromPoolStats(d.lastPool)
		if d.poolErr != nil {
			status.Apply.LastError = services.Message(d.poolErr)
		}
	}
	return status, nil
}

// Health reports readiness for every stage, including submission.
func (d *Daemon) Health(ctx context.Context) []stage.Health {
	health := d.registry.Health(ctx)
	switch sub := d.submitter.(type) {
	case nil:
		health = append(health, stage.Unhealthy(jobs.StageApply.String(), "no submission collaborator configured"))
	case interface {
		HealthCheck(context.Context) stage.Health
	}:
		health = append(health, sub.HealthCheck(ctx))
	default:
		health = append(health, stage.Healthy(jobs.StageApply.String()))
	}
	return health
}

// Start brings up the HTTP API when an address is configured.
func (d *Daemon) Start(ctx context.Context) error {
	srv := newAPIServer(d.cfg, d, d.logger)
	if err := srv.start(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.api = srv
	d.mu.Unlock()
	return nil
}

// Addr returns the API listener address, or "" when the API is off.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.addr()
}

// Close stops the API, cancels any run and waits for the submission pool to
// drain its in-flight jobs.
func (d *Daemon) Close() error {
	d.mu.Lock()
	srv := d.api
	d.api = nil
	done := d.poolDone
	d.mu.Unlock()

	srv.stop()
	d.StopRun()
	if d.StopApply() && done != nil {
		<-done
	}
	d.notifyWG.Wait()
	return nil
}
