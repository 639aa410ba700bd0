// Package submitpool runs the submission stage: a bounded set of workers
// that claim eligible jobs through the store's lease, hand them to the
// submission collaborator and settle the outcome.
package submitpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/observability"
	"applypilot/internal/retry"
	"applypilot/internal/submission"
)

// ErrRunning is returned by Run when the pool is already running.
var ErrRunning = errors.New("submission pool already running")

// Options configures a Pool.
type Options struct {
	Workers    int
	DryRun     bool
	Continuous bool
	// PollInterval is the wait between store polls in continuous mode.
	PollInterval time.Duration
	LeaseTTL     time.Duration
	MinScore     int
	MaxAttempts  int
	// Timeout bounds one submission call.
	Timeout time.Duration
	// Limit caps the number of jobs handed to workers in one run; zero means
	// no cap.
	Limit int
	// BaseResumePath is sent for jobs that opted out of tailoring.
	BaseResumePath string
	// OnApplied runs after a job is settled as applied. It must not block.
	OnApplied func(context.Context, *jobs.Job)

	Clock   retry.Clock
	Policy  retry.Policy
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Stats are the pool's aggregate counts.
type Stats struct {
	Claimed   int64 `json:"claimed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Retried   int64 `json:"retried"`
	Lost      int64 `json:"lost"`
}

type counters struct {
	claimed, succeeded, failed, skipped, retried, lost atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Claimed:   c.claimed.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
		Retried:   c.retried.Load(),
		Lost:      c.lost.Load(),
	}
}

// Pool supervises submission workers.
type Pool struct {
	store     *jobs.Store
	submitter submission.Submitter
	opts      Options
	clock     retry.Clock
	logger    *slog.Logger

	running atomic.Bool
	counts  counters

	// stopCh is closed once by Stop and never reset, so a stop issued
	// before Run starts still holds.
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	fatalErr error
	pending  map[string]struct{}
	held     map[string]time.Time
	finished chan struct{}
}

// New builds a pool. Zero options fall back to one worker, a 30s poll
// interval and a 10 minute lease.
func New(store *jobs.Store, submitter submission.Submitter, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		store:     store,
		submitter: submitter,
		opts:      opts,
		clock:     retry.OrSystem(opts.Clock),
		logger:    logging.NewComponentLogger(logger, "submitpool"),
		stopCh:    make(chan struct{}),
	}
}

// Running reports whether Run is in progress.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Stats returns the counts accumulated so far.
func (p *Pool) Stats() Stats {
	return p.counts.snapshot()
}

// Stop asks the pool to stop claiming. Workers finish the job they hold.
// A pool is single-use: once stopped, Run returns without claiming.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Run processes eligible jobs until none are left (or, in continuous mode,
// until Stop or ctx cancellation). It returns the first fatal error.
func (p *Pool) Run(ctx context.Context) (Stats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return p.Stats(), ErrRunning
	}
	defer p.running.Store(false)

	p.mu.Lock()
	p.fatalErr = nil
	p.pending = make(map[string]struct{})
	p.held = make(map[string]time.Time)
	p.finished = make(chan struct{}, 1)
	p.mu.Unlock()

	storeCtx := context.WithoutCancel(ctx)
	if n, err := p.store.ReclaimExpired(storeCtx, p.clock.Now()); err != nil {
		return p.Stats(), fmt.Errorf("reclaim expired leases: %w", err)
	} else if n > 0 {
		p.logger.Info("reclaimed expired leases", logging.Int64("count", n))
	}

	p.logger.Info("submission pool started",
		logging.String(logging.FieldEventType, "pool_start"),
		logging.Int("workers", p.opts.Workers),
		logging.Bool("dry_run", p.opts.DryRun),
		logging.Bool("continuous", p.opts.Continuous),
	)

	queue := make(chan *jobs.Job, p.opts.Workers)
	var wg sync.WaitGroup
	for i := 1; i <= p.opts.Workers; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			p.worker(ctx, agent, queue)
		}(fmt.Sprintf("worker-%d", i))
	}

	feedErr := p.feed(ctx, queue)
	close(queue)
	wg.Wait()

	stats := p.Stats()
	err := p.fatal()
	if err == nil {
		err = feedErr
	}
	p.logger.Info("submission pool stopped",
		logging.String(logging.FieldEventType, "pool_stop"),
		logging.Int64("claimed", stats.Claimed),
		logging.Int64("succeeded", stats.Succeeded),
		logging.Int64("failed", stats.Failed),
		logging.Int64("skipped", stats.Skipped),
		logging.Int64("retried", stats.Retried),
	)
	return stats, err
}

func (p *Pool) query(now time.Time, limit int) jobs.Query {
	return jobs.Query{
		Stage:       jobs.StageApply,
		MinScore:    p.opts.MinScore,
		MaxAttempts: p.opts.MaxAttempts,
		DryRun:      p.opts.DryRun,
		Now:         now,
		Limit:       limit,
	}
}

// stopping reports whether no new claim should start.
func (p *Pool) stopping(ctx context.Context) bool {
	if ctx.Err() != nil || p.fatal() != nil {
		return true
	}
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Pool) fatal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatalErr
}

func (p *Pool) setFatal(err error) {
	p.mu.Lock()
	if p.fatalErr == nil {
		p.fatalErr = err
	}
	p.mu.Unlock()
}
