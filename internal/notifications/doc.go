// Package notifications pushes pipeline milestones to ntfy.
//
// The service publishes run summaries, submission pool results, individual
// applications and fatal errors to the topic configured under
// [notifications]. Without a topic NewService returns a no-op, so callers
// publish unconditionally. Delivery failures are returned to the caller,
// which logs them and carries on; a notification never fails a run.
package notifications
