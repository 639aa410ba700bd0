// Package api defines wire-format types and converters for the HTTP control
// surface and the CLI's JSON output. It translates job records, store stats
// and run summaries into transport-friendly DTOs so consumers do not couple
// to internal types.
//
// # Key Types
//
// Job: transport representation of a job record with its computed phase.
//
// Status: store dashboard counts, current run and pool state, and stage
// health.
//
// RunSummary: the result of one orchestrator run.
//
// RunRequest/ApplyRequest: request bodies for starting runs and the
// submission pool.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds in
// UTC. Stage and phase enums are exposed as lowercase strings.
package api
