// Package daemon is the control surface over the pipeline.
//
// A Daemon wraps the orchestrator and the submission pool with the
// operations the CLI and the HTTP API need. It runs stages in any workflow
// mode, previews eligible work, opts jobs out of document generation, stops
// runs, starts or stops the submission pool, and reports status.
// Orchestrator runs and the submission pool each hold a flock lock in the
// data directory, so a second run from this or any other process is rejected
// with ErrBusy instead of racing the first.
//
// The HTTP API is optional and only starts when paths.api_bind is set. Every
// route except /healthz requires the configured bearer token.
package daemon
