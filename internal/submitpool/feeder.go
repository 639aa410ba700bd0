package submitpool

import (
	"context"
	"fmt"
	"time"

	"applypilot/internal/jobs"
	"applypilot/internal/logging"
)

// feed queries the store and hands unseen eligible jobs to workers. It
// returns when there is nothing left to do or the pool is stopping.
func (p *Pool) feed(ctx context.Context, queue chan<- *jobs.Job) error {
	storeCtx := context.WithoutCancel(ctx)
	sent := 0
	for {
		if p.stopping(ctx) {
			return nil
		}
		if p.opts.Limit > 0 && sent >= p.opts.Limit {
			return nil
		}
		now := p.clock.Now()
		pendingCount, nextHold := p.expireHolds(now)

		batch := p.opts.Workers*2 + pendingCount
		candidates, err := p.store.Eligible(storeCtx, p.query(now, batch))
		if err != nil {
			return fmt.Errorf("list eligible jobs: %w", err)
		}

		queued := 0
		for _, job := range candidates {
			if p.opts.Limit > 0 && sent >= p.opts.Limit {
				break
			}
			if !p.markPending(job.URL) {
				continue
			}
			select {
			case queue <- job:
				queued++
				sent++
			case <-p.stopCh:
				p.finish(job.URL, time.Time{})
				return nil
			case <-ctx.Done():
				p.finish(job.URL, time.Time{})
				return nil
			}
		}
		if queued > 0 {
			continue
		}

		switch {
		case pendingCount > 0:
			p.waitFinished(ctx)
		case !nextHold.IsZero():
			// A job this run released with a backoff becomes eligible again
			// at nextHold.
			p.sleep(ctx, nextHold.Sub(now))
		case p.opts.Continuous:
			p.logger.Debug("no eligible jobs; polling",
				logging.String(logging.FieldEventType, "pool_idle"),
				logging.Duration("poll_interval", p.opts.PollInterval),
			)
			p.sleep(ctx, p.opts.PollInterval)
		default:
			return nil
		}
	}
}

// expireHolds drops holds that have lapsed and reports the number of jobs
// still with workers and the earliest remaining hold.
func (p *Pool) expireHolds(now time.Time) (int, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var next time.Time
	for url, until := range p.held {
		if !until.After(now) {
			delete(p.held, url)
			continue
		}
		if next.IsZero() || until.Before(next) {
			next = until
		}
	}
	return len(p.pending), next
}

func (p *Pool) markPending(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[url]; ok {
		return false
	}
	if _, ok := p.held[url]; ok {
		return false
	}
	p.pending[url] = struct{}{}
	return true
}

// finish removes url from the pending set, remembering a retry hold when
// holdUntil is set, and wakes the feeder.
func (p *Pool) finish(url string, holdUntil time.Time) {
	p.mu.Lock()
	delete(p.pending, url)
	if !holdUntil.IsZero() {
		p.held[url] = holdUntil
	}
	p.mu.Unlock()
	select {
	case p.finished <- struct{}{}:
	default:
	}
}

func (p *Pool) waitFinished(ctx context.Context) {
	select {
	case <-p.finished:
	case <-p.stopCh:
	case <-ctx.Done():
	}
}

// sleep waits on the pool clock for d, returning early on Stop or ctx.
func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-sleepCtx.Done():
		}
	}()
	_ = p.clock.Sleep(sleepCtx, d)
}
