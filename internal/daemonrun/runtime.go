package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"applypilot/internal/applicant"
	"applypilot/internal/artifact"
	"applypilot/internal/config"
	"applypilot/internal/coverletter"
	"applypilot/internal/daemon"
	"applypilot/internal/discovery"
	"applypilot/internal/enrichment"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/notifications"
	"applypilot/internal/observability"
	"applypilot/internal/retry"
	"applypilot/internal/scoring"
	"applypilot/internal/stage"
	"applypilot/internal/submission"
	"applypilot/internal/tailoring"
	"applypilot/internal/workflow"
)

// Runtime holds the wired pipeline for one process.
type Runtime struct {
	Config       *config.Config
	Store        *jobs.Store
	Registry     *stage.Registry
	Submitter    submission.Submitter
	Orchestrator *workflow.Orchestrator
	Daemon       *daemon.Daemon
	Metrics      *observability.Metrics
	Notifier     notifications.Service
	Logger       *slog.Logger
}

// BuildOptions adjusts wiring for tests and one-off commands.
type BuildOptions struct {
	Clock retry.Clock
	// Env replaces os.Environ for collaborator programs.
	Env []string
}

// Build opens the store and wires every configured collaborator. A stage
// whose collaborator cannot be built is disabled with the reason, so the
// other stages stay usable and health reports say what is missing.
func Build(cfg *config.Config, logger *slog.Logger, opts BuildOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if err := cfg.LoadEnv(); err != nil {
		logging.WarnWithContext(logger, "env file not loaded", "env_load_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "collaborators run without credentials from the env file"),
			logging.String(logging.FieldErrorHint, "check paths.env_file"),
		)
	}
	if strings.TrimSpace(cfg.Paths.APIToken) == "" {
		cfg.Paths.APIToken = strings.TrimSpace(os.Getenv("APPLYPILOT_API_TOKEN"))
	}
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	metrics, metricsHandler, err := observability.NewMetrics()
	if err != nil {
		logger.Warn("metrics disabled", logging.Error(err), logging.String(logging.FieldEventType, "metrics_init_failed"))
		metrics, metricsHandler = nil, http.NotFoundHandler()
	}

	policy := retry.Policy{Base: cfg.RetryBaseDelay(), Max: cfg.RetryMaxDelay()}
	registry := buildRegistry(cfg, env, policy, opts.Clock, logger)

	var submitter submission.Submitter
	if sub, err := submission.NewCommandSubmitter(cfg.Collaborators.Submit, env...); err == nil {
		submitter = sub
	} else {
		logger.Info("submission collaborator not configured", logging.String(logging.FieldEventType, "stage_disabled"), logging.String(logging.FieldStage, jobs.StageApply.String()))
	}

	notifier := notifications.NewService(cfg)

	orch := workflow.New(store, workflow.Options{
		Config:    cfg,
		Registry:  registry,
		Submitter: submitter,
		Policy:    policy,
		Clock:     opts.Clock,
		Metrics:   metrics,
		Logger:    logger,
	})
	d, err := daemon.New(daemon.Options{
		Config:         cfg,
		Store:          store,
		Orchestrator:   orch,
		Registry:       registry,
		Submitter:      submitter,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Notifier:       notifier,
		Clock:          opts.Clock,
		Logger:         logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}

	return &Runtime{
		Config:       cfg,
		Store:        store,
		Registry:     registry,
		Submitter:    submitter,
		Orchestrator: orch,
		Daemon:       d,
		Metrics:      metrics,
		Notifier:     notifier,
		Logger:       logger,
	}, nil
}

// Close stops background work and closes the store.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Daemon != nil {
		errs = append(errs, r.Daemon.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	return errors.Join(errs...)
}

func buildRegistry(cfg *config.Config, env []string, policy retry.Policy, clock retry.Clock, logger *slog.Logger) *stage.Registry {
	registry := stage.NewRegistry()
	disable := func(st jobs.Stage, err error) {
		registry.Disable(st, err)
		logger.Info("stage disabled",
			logging.String(logging.FieldEventType, "stage_disabled"),
			logging.String(logging.FieldStage, st.String()),
			logging.String("reason", err.Error()),
		)
	}
	register := func(runner stage.Runner) {
		if err := registry.Register(runner); err != nil {
			disable(runner.Stage(), err)
		}
	}

	discoverSettings := cfg.Stage(jobs.StageDiscover.String())
	seeder, err := discovery.FromConfig(cfg, env, discovery.Options{
		Policy:      policy,
		Clock:       clock,
		MaxAttempts: discoverSettings.MaxAttempts,
		Timeout:     discoverSettings.Timeout(),
		Logger:      logger,
	})
	switch {
	case err != nil:
		disable(jobs.StageDiscover, err)
	case len(cfg.Discovery.Sources) == 0:
		disable(jobs.StageDiscover, errors.New("no discovery sources configured"))
	default:
		registry.SetSeeder(seeder)
	}

	if enricher, err := enrichment.FromConfig(cfg, env); err != nil {
		disable(jobs.StageEnrich, err)
	} else {
		register(enricher)
	}

	who, whoErr := applicant.Load(cfg)
	artifacts := artifact.NewStore(cfg.Paths.ArtifactsDir)
	minScore := cfg.Pipeline.MinScore

	scorer, err := scoring.NewCommandScorer(cfg.Collaborators.Score, env...)
	switch {
	case err != nil:
		disable(jobs.StageScore, err)
	case whoErr != nil:
		disable(jobs.StageScore, whoErr)
	default:
		register(scoring.NewRunner(scorer, who))
	}

	tailor, err := tailoring.NewCommandTailor(cfg.Collaborators.Tailor, env...)
	switch {
	case err != nil:
		disable(jobs.StageTailor, err)
	case whoErr != nil:
		disable(jobs.StageTailor, whoErr)
	default:
		register(tailoring.NewRunner(tailor, who, artifacts, minScore))
	}

	writer, err := coverletter.NewCommandWriter(cfg.Collaborators.Cover, env...)
	switch {
	case err != nil:
		disable(jobs.StageCover, err)
	case whoErr != nil:
		disable(jobs.StageCover, whoErr)
	default:
		register(coverletter.NewRunner(writer, who, artifacts, minScore))
	}
	return registry
}
