package preflight

import (
	"context"
	"strings"

	"applypilot/internal/config"
	"applypilot/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Optional failures are reported but do not fail doctor.
	Optional bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results,
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Artifacts directory", cfg.Paths.ArtifactsDir),
		CheckProfile(cfg.Paths.ProfilePath),
		CheckFile("Base resume", cfg.Paths.ResumePath),
	)

	for _, src := range cfg.Discovery.Sources {
		if src.Kind == "file" {
			results = append(results, CheckFile("Discovery source "+src.Name, src.Path))
		}
	}
	if len(cfg.Discovery.Sources) == 0 {
		results = append(results, Result{Name: "Discovery sources", Optional: true, Detail: "none configured"})
	}

	for _, status := range deps.CheckBinaries(deps.Collaborators(cfg)) {
		results = append(results, fromDependency(status))
	}

	if strings.TrimSpace(cfg.Paths.APIBind) != "" {
		results = append(results, CheckAPI(ctx, cfg.Paths.APIBind, cfg.Paths.APIToken))
	}
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}

func fromDependency(status deps.Status) Result {
	r := Result{
		Name:     "Collaborator " + status.Name,
		Passed:   status.Available,
		Optional: status.Optional,
	}
	if status.Available {
		r.Detail = status.Command
	} else {
		r.Detail = status.Detail
	}
	return r
}
