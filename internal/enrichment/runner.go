package enrichment

import (
	"context"
	"log/slog"
	"net/http"

	"applypilot/internal/config"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/services"
	"applypilot/internal/stage"
)

// partialDetail is recorded when a description was found without an apply link.
const partialDetail = "partial: no application url found"

// Runner is the enrich stage.
type Runner struct {
	source  Source
	sources []Source
	logger  *slog.Logger
}

// NewRunner returns a runner trying sources in order.
func NewRunner(sources ...Source) *Runner {
	return &Runner{source: Fallback(sources), sources: sources, logger: logging.NewNop()}
}

// FromConfig builds the built-in HTTP source and, when configured, the
// command collaborator behind it.
func FromConfig(cfg *config.Config, env []string) (*Runner, error) {
	var sources []Source
	if cfg.Collaborators.EnrichHTTP {
		sources = append(sources, NewHTTPSource(&http.Client{Timeout: cfg.Stage(string(jobs.StageEnrich)).Timeout()}, cfg.Collaborators.UserAgent))
	}
	if len(cfg.Collaborators.Enrich) > 0 {
		cmd, err := NewCommandSource(cfg.Collaborators.Enrich, env...)
		if err != nil {
			return nil, err
		}
		sources = append(sources, cmd)
	}
	if len(sources) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "enrich", "configure", "enable enrich_http or set collaborators.enrich", nil)
	}
	return NewRunner(sources...), nil
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Stage returns jobs.StageEnrich.
func (r *Runner) Stage() jobs.Stage { return jobs.StageEnrich }

// Execute enriches one job.
func (r *Runner) Execute(ctx context.Context, job *jobs.Job) (jobs.Patch, error) {
	detail, err := r.source.Enrich(ctx, job.URL)
	if err != nil {
		return jobs.Patch{}, err
	}
	patch := jobs.Patch{}.
		Set(jobs.ColFullDescription, detail.FullDescription).
		Set(jobs.ColApplicationURL, detail.ApplicationURL)
	if detail.Partial() {
		logging.WithContext(ctx, r.logger).Info("enrichment partial",
			logging.String(logging.FieldEventType, "enrich_partial"),
			logging.Int("description_chars", len(detail.FullDescription)),
		)
		patch = patch.Set(jobs.ColDetailError, partialDetail)
	}
	return patch, nil
}

// HealthCheck reports the command collaborator's availability when one is
// configured.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if len(r.sources) == 0 {
		return stage.Unhealthy("enrich", "no source configured")
	}
	for _, src := range r.sources {
		if cmd, ok := src.(*CommandSource); ok {
			return stage.CommandHealth("enrich", []string{cmd.Binary()})
		}
	}
	return stage.Healthy("enrich")
}
