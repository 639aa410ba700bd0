// Package jobs persists job records in SQLite and answers the eligibility
// questions that drive the pipeline.
//
// A job is keyed by its listing URL. Each stage owns a group of columns, a
// completion timestamp, an attempt counter, and an error field; the Store
// exposes atomic single-record writes over those groups (Complete,
// RecordFailure) plus the compare-and-set claim used by the submission pool.
// Eligibility is expressed once, in SQL, and shared by the orchestrator, the
// pool, and status reporting so the three never disagree about which jobs are
// pending.
//
// Timestamps are stored as fixed-width UTC strings so lexical comparison in
// SQL matches chronological order. Schema changes bump the version in
// schema.go; users clear the database to adopt the new schema.
package jobs
