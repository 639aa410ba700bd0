// Package config loads, normalizes, and validates applypilot configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// APPLYPILOT_API_TOKEN. The Config type centralizes every knob the pipeline,
// submission pool, and CLI need, including per-stage concurrency, attempt caps,
// deadlines, and rate limits.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, merged stage defaults, and clear validation errors.
package config
