// Package workflow drives jobs through the pipeline stages.
//
// The Orchestrator runs the requested stages in one of three modes:
// sequential (one pass per stage in pipeline order), chained (keep sweeping
// the per-job stages until no job has eligible work left) or streaming (all
// stages at once, each draining what its upstream produces). Each pass selects eligible jobs from the store,
// dispatches them to the stage runner with bounded parallelism and an
// optional rate limit, and applies the retry policy to failures: transient
// errors are retried in place after a backoff on the injected clock,
// permanent errors terminalize the job, and fatal errors stop dispatch for
// the rest of the run.
//
// Submission is delegated to the submitpool package, which the orchestrator
// runs in non-continuous mode when the apply stage is requested.
package workflow
