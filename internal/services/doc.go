// Package services defines shared utilities consumed by the pipeline stage
// runners and their external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp job URLs, stage names, worker labels, and run
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap and Classify helpers that sort
//     failures into transient, permanent, and fatal classes.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
