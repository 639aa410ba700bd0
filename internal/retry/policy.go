// Package retry decides what happens to a failed stage attempt and computes
// the backoff before the next one. Decisions are pure; sleeping goes through
// a Clock so callers and tests control real time.
package retry

import (
	"math"
	"time"

	"applypilot/internal/services"
)

// Action is the outcome of a retry decision.
type Action string

const (
	Retry       Action = "retry"
	Terminalize Action = "terminalize"
	Abort       Action = "abort"
)

// Decision pairs an action with the delay to wait before retrying.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy holds backoff bounds. Zero values use defaults.
type Policy struct {
	Base time.Duration // default: 2s
	Max  time.Duration // default: 60s
}

const (
	defaultBase = 2 * time.Second
	defaultMax  = time.Minute
)

// Decide maps an error class and the attempt count after the failed attempt
// to an action. Transient failures retry while attempts < maxAttempts;
// permanent failures terminalize immediately; fatal failures abort the run.
func (p Policy) Decide(class services.Class, attempts, maxAttempts int) Decision {
	switch class {
	case services.ClassFatal:
		return Decision{Action: Abort}
	case services.ClassPermanent:
		return Decision{Action: Terminalize}
	}
	if attempts >= maxAttempts {
		return Decision{Action: Terminalize}
	}
	return Decision{Action: Retry, Delay: p.Backoff(attempts)}
}

// Backoff returns the delay after the given attempt. Attempt 1 returns the
// base delay, attempt 2 twice that, and so on up to Max.
func (p Policy) Backoff(attempt int) time.Duration {
	base, maxDelay := p.Base, p.Max
	if base <= 0 {
		base = defaultBase
	}
	if maxDelay <= 0 {
		maxDelay = defaultMax
	}
	if maxDelay < base {
		maxDelay = base
	}
	if attempt < 1 {
		return base
	}
	backoff := float64(base) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	return time.Duration(backoff)
}
