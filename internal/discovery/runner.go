package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"applypilot/internal/config"
	"applypilot/internal/logging"
	"applypilot/internal/retry"
	"applypilot/internal/services"
	"applypilot/internal/stage"
)

// Options tunes a discovery Runner.
type Options struct {
	Policy      retry.Policy
	Clock       retry.Clock
	MaxAttempts int
	// Timeout bounds one pass of one source over one search.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Runner seeds the job store from every source for every search.
type Runner struct {
	sources  []Source
	searches []Search
	opts     Options
	logger   *slog.Logger
}

// NewRunner builds a runner. With no searches each source runs once with an
// empty search.
func NewRunner(sources []Source, searches []Search, opts Options) *Runner {
	if len(searches) == 0 {
		searches = []Search{{}}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	opts.Clock = retry.OrSystem(opts.Clock)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{sources: sources, searches: searches, opts: opts, logger: logger}
}

// FromConfig builds sources and searches from the discovery section.
func FromConfig(cfg *config.Config, env []string, opts Options) (*Runner, error) {
	sources := make([]Source, 0, len(cfg.Discovery.Sources))
	for _, src := range cfg.Discovery.Sources {
		switch src.Kind {
		case "file":
			sources = append(sources, NewFileSource(src.Name, src.Path))
		case "command":
			cmdSource, err := NewCommandSource(src.Name, src.Command, env...)
			if err != nil {
				return nil, err
			}
			sources = append(sources, cmdSource)
		default:
			return nil, services.Wrap(services.ErrConfiguration, "discover", "build sources", fmt.Sprintf("source %q has unknown kind %q", src.Name, src.Kind), nil)
		}
	}
	searches := make([]Search, 0, len(cfg.Discovery.Searches))
	for _, s := range cfg.Discovery.Searches {
		searches = append(searches, Search{Query: s.Query, Location: s.Location, Sites: s.Sites, Remote: s.Remote})
	}
	return NewRunner(sources, searches, opts), nil
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// HealthCheck reports whether sources are configured and reachable.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if len(r.sources) == 0 {
		return stage.Unhealthy("discover", "no discovery sources configured")
	}
	for _, src := range r.sources {
		if cmd, ok := src.(*CommandSource); ok {
			if h := stage.CommandHealth("discover", []string{cmd.Binary()}); !h.Ready {
				return h
			}
		}
	}
	return stage.Healthy("discover")
}

// Seed runs every source over every search and pushes postings into sink.
// Transient source failures are retried per policy; a fatal failure stops
// the whole pass.
func (r *Runner) Seed(ctx context.Context, sink stage.Sink) (stage.SeedResult, error) {
	var result stage.SeedResult
	if len(r.sources) == 0 {
		return result, services.Wrap(services.ErrConfiguration, "discover", "seed", "no discovery sources configured", nil)
	}
	for _, src := range r.sources {
		for _, search := range r.searches {
			if err := r.seedOne(ctx, src, search, sink, &result); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func (r *Runner) seedOne(ctx context.Context, src Source, search Search, sink stage.Sink, result *stage.SeedResult) error {
	logger := r.logger.With(logging.String("source", src.Name()), logging.String("query", search.Query))
	for attempt := 1; ; attempt++ {
		err := r.pass(ctx, src, search, sink, result, logger)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		class := services.Classify(err)
		decision := r.opts.Policy.Decide(class, attempt, r.opts.MaxAttempts)
		switch decision.Action {
		case retry.Abort:
			return err
		case retry.Terminalize:
			result.Failed++
			logging.WarnWithContext(logger, "discovery source failed", "source_failed",
				logging.String(logging.FieldErrorClass, string(class)),
				logging.Int("attempt", attempt),
				logging.String(logging.FieldImpact, "postings from this source were not collected"),
				logging.Error(err),
			)
			return nil
		case retry.Retry:
			logger.Info("discovery source retry scheduled",
				logging.String(logging.FieldEventType, "source_retry"),
				logging.Int("attempt", attempt),
				logging.Duration("delay", decision.Delay),
				logging.Error(err),
			)
			if err := r.opts.Clock.Sleep(ctx, decision.Delay); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) pass(ctx context.Context, src Source, search Search, sink stage.Sink, result *stage.SeedResult, logger *slog.Logger) error {
	passCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	for posting, err := range src.Postings(passCtx, search) {
		if err != nil {
			if services.Classify(err) == services.ClassPermanent {
				result.Failed++
				logger.Debug("skipping malformed posting", logging.Error(err))
				continue
			}
			return err
		}
		if strings.TrimSpace(posting.Strategy) == "" {
			posting.Strategy = src.Name()
		}
		inserted, err := sink(ctx, posting)
		if err != nil {
			return services.Wrap(services.ErrUnavailable, "discover", "store posting", posting.URL, err)
		}
		result.Seen++
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}
	return nil
}
