package stage

import "context"

type contextKey int

const (
	minScoreKey contextKey = iota
	forceKey
)

// WithMinScore records the run's score threshold.
func WithMinScore(ctx context.Context, score int) context.Context {
	return context.WithValue(ctx, minScoreKey, score)
}

// MinScore returns the run's score threshold, or fallback when none was set.
func MinScore(ctx context.Context, fallback int) int {
	if v, ok := ctx.Value(minScoreKey).(int); ok {
		return v
	}
	return fallback
}

// WithForce marks the run as reprocessing completed jobs.
func WithForce(ctx context.Context, force bool) context.Context {
	return context.WithValue(ctx, forceKey, force)
}

// Forced reports whether completed work should be redone.
func Forced(ctx context.Context) bool {
	v, _ := ctx.Value(forceKey).(bool)
	return v
}
