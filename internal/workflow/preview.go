package workflow

import (
	"context"

	"applypilot/internal/jobs"
	"applypilot/internal/services"
)

// PreviewEntry is the plan for one stage.
type PreviewEntry struct {
	Stage       jobs.Stage `json:"stage"`
	Description string     `json:"description"`
	Eligible    int        `json:"eligible"`
	Configured  bool       `json:"configured"`
}

// Preview reports how many jobs each stage would pick up right now without
// running anything. Discovery has no backlog and always reports zero.
func (o *Orchestrator) Preview(ctx context.Context, stages []jobs.Stage, opts RunOptions) ([]PreviewEntry, error) {
	ordered := orderStages(stages)
	out := make([]PreviewEntry, 0, len(ordered))
	now := o.clock.Now()
	for _, st := range ordered {
		entry := PreviewEntry{Stage: st, Description: st.Description()}
		switch st {
		case jobs.StageDiscover:
			entry.Configured = o.registry.Has(st)
			out = append(out, entry)
			continue
		case jobs.StageApply:
			entry.Configured = o.submitter != nil
		default:
			entry.Configured = o.registry.Has(st)
		}
		settings := o.cfg.Stage(st.String())
		count, err := o.store.CountEligible(ctx, jobs.Query{
			Stage:       st,
			MinScore:    o.minScore(opts),
			MaxAttempts: max(1, settings.MaxAttempts),
			Now:         now,
			Force:       opts.Force,
			DryRun:      opts.DryRun && st == jobs.StageApply,
		})
		if err != nil {
			return nil, services.Wrap(services.ErrUnavailable, st.String(), "preview", "job store query failed", err)
		}
		if opts.Limit > 0 {
			count = min(count, opts.Limit)
		}
		entry.Eligible = count
		out = append(out, entry)
	}
	return out, nil
}
