package workflow

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"applypilot/internal/jobs"
	"applypilot/internal/logging"
)

// stream starts every requested stage at once. Discovery runs a single
// time. Every later stage keeps taking passes, and finishes once a pass
// moves nothing after its upstream stage has finished. Stages outside the
// request count as finished. The first fatal error stops all stages.
func (o *Orchestrator) stream(ctx context.Context, stages []jobs.Stage, opts RunOptions, summary *Summary) error {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = o.cfg.PollInterval()
	}
	done := make(map[jobs.Stage]chan struct{}, len(jobs.Stages))
	for _, st := range jobs.Stages {
		ch := make(chan struct{})
		if !slices.Contains(stages, st) {
			close(ch)
		}
		done[st] = ch
	}

	var mu sync.Mutex
	record := func(result StageSummary) {
		mu.Lock()
		summary.record(result)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range stages {
		var upstream <-chan struct{}
		if i := st.Index(); i > 0 {
			upstream = done[jobs.Stages[i-1]]
		}
		g.Go(func() error {
			defer close(done[st])
			return o.streamStage(gctx, st, upstream, opts, poll, record)
		})
	}
	err := g.Wait()
	slices.SortStableFunc(summary.Stages, func(a, b StageSummary) int { return a.Stage.Index() - b.Stage.Index() })
	return err
}

func (o *Orchestrator) streamStage(ctx context.Context, st jobs.Stage, upstream <-chan struct{}, opts RunOptions, poll time.Duration, record func(StageSummary)) error {
	if st == jobs.StageDiscover {
		result, err := o.discover(ctx)
		record(result)
		return err
	}

	passOpts := opts
	for passes := 1; ctx.Err() == nil; passes++ {
		// Sampled before the pass: anything upstream wrote before finishing
		// is visible to this pass.
		upstreamDone := closed(upstream)

		var (
			result StageSummary
			err    error
		)
		if st == jobs.StageApply {
			result, err = o.apply(ctx, passOpts)
		} else {
			result, err = o.pass(ctx, st, passOpts)
		}
		record(result)
		if err != nil {
			return err
		}
		passOpts.Force = false

		// Per-job skips leave the job eligible; a skipped submission is final.
		moved := result.Succeeded + result.Errored
		if st == jobs.StageApply {
			moved += result.Skipped
		}
		if moved > 0 {
			continue
		}
		if upstreamDone {
			o.logger.Debug("streaming stage drained",
				logging.String(logging.FieldEventType, "stream_stage_done"),
				logging.String(logging.FieldStage, st.String()),
				logging.Int("passes", passes),
			)
			return nil
		}
		o.waitUpstream(ctx, upstream, poll)
	}
	return nil
}

// waitUpstream sleeps for poll, returning early when upstream finishes or
// ctx ends.
func (o *Orchestrator) waitUpstream(ctx context.Context, upstream <-chan struct{}, poll time.Duration) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-upstream:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	_ = o.clock.Sleep(waitCtx, poll)
}

func closed(ch <-chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
