package stage

import (
	"context"
	"fmt"

	"applypilot/internal/jobs"
)

// Registry selects runners by explicit stage identifier.
type Registry struct {
	runners  map[jobs.Stage]Runner
	seeder   Seeder
	problems map[jobs.Stage]error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[jobs.Stage]Runner), problems: make(map[jobs.Stage]error)}
}

// Register adds a runner. Registering two runners for a stage is an error.
func (r *Registry) Register(runner Runner) error {
	if runner == nil {
		return fmt.Errorf("register: nil runner")
	}
	stage := runner.Stage()
	if !stage.Valid() || stage == jobs.StageDiscover {
		return fmt.Errorf("register: %q is not a per-job stage", stage)
	}
	if _, exists := r.runners[stage]; exists {
		return fmt.Errorf("register: runner for %s already registered", stage)
	}
	r.runners[stage] = runner
	return nil
}

// SetSeeder installs the discovery seeder.
func (r *Registry) SetSeeder(seeder Seeder) {
	r.seeder = seeder
}

// Runner returns the runner for stage.
func (r *Registry) Runner(stage jobs.Stage) (Runner, bool) {
	if r == nil {
		return nil, false
	}
	runner, ok := r.runners[stage]
	return runner, ok
}

// Seeder returns the discovery seeder, if any.
func (r *Registry) Seeder() Seeder {
	if r == nil {
		return nil
	}
	return r.seeder
}

// Has reports whether stage has an implementation.
func (r *Registry) Has(stage jobs.Stage) bool {
	if stage == jobs.StageDiscover {
		return r.Seeder() != nil
	}
	_, ok := r.Runner(stage)
	return ok
}

// Disable records why stage could not be built. The stage stays
// unregistered and reports the error through Problem and Health.
func (r *Registry) Disable(stage jobs.Stage, err error) {
	if err == nil {
		return
	}
	r.problems[stage] = err
}

// Problem returns the error recorded by Disable for stage.
func (r *Registry) Problem(stage jobs.Stage) error {
	if r == nil {
		return nil
	}
	return r.problems[stage]
}

// Health reports readiness for every registered or disabled stage in
// pipeline order.
func (r *Registry) Health(ctx context.Context) []Health {
	var out []Health
	for _, stage := range jobs.Stages {
		if stage == jobs.StageDiscover && r.seeder != nil {
			out = append(out, r.seeder.HealthCheck(ctx))
			continue
		}
		if runner, ok := r.runners[stage]; ok {
			out = append(out, runner.HealthCheck(ctx))
			continue
		}
		if err, ok := r.problems[stage]; ok {
			out = append(out, Unhealthy(stage.String(), err.Error()))
		}
	}
	return out
}
