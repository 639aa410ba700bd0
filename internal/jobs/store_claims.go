package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Lease identifies a worker's claim on a job.
type Lease struct {
	Token   string
	AgentID string
	Now     time.Time
	TTL     time.Duration
}

// Settlement describes how a claimed job is released after a submission attempt.
type Settlement struct {
	Patch Patch
	// Completed sets applied_at.
	Completed    bool
	CountAttempt bool
	MaxAttempts  int
	// Terminal marks the job errored at the apply stage.
	Terminal bool
	// HoldUntil keeps the lease until the given time so no worker picks the
	// job up before a retry backoff has elapsed. Zero releases immediately.
	HoldUntil time.Time
	Now       time.Time
}

// Claim takes the lease on url iff the job is currently eligible for
// submission under q and nobody holds a live lease. The check and the write
// are one statement, so concurrent claimers cannot both win.
func (s *Store) Claim(ctx context.Context, url string, lease Lease, q Query) (bool, error) {
	if strings.TrimSpace(lease.Token) == "" {
		return false, errors.New("lease token is required")
	}
	if lease.TTL <= 0 {
		return false, errors.New("lease ttl must be positive")
	}
	q.Stage = StageApply
	now := s.clock(lease.Now)
	where, whereArgs, err := eligibilityClause(q, now)
	if err != nil {
		return false, err
	}
	args := []any{
		lease.Token,
		formatTime(now.Add(lease.TTL)),
		nullableString(lease.AgentID),
		formatTime(now),
		formatTime(now),
		url,
	}
	args = append(args, whereArgs...)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET lease_token = ?, lease_expires_at = ?, agent_id = ?, last_attempted_at = ?, updated_at = ?
         WHERE url = ? AND `+where,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// FinishClaim applies a settlement to a job still leased under token. It
// reports false when the lease was lost.
func (s *Store) FinishClaim(ctx context.Context, url, token string, settle Settlement) (bool, error) {
	sets, args, err := settle.Patch.assignments(func(column string) bool { return ownedBy(StageApply, column) })
	if err != nil {
		return false, err
	}
	now := s.clock(settle.Now)
	if settle.Completed {
		if _, ok := settle.Patch.Value(ColApplyError); !ok {
			sets = append(sets, "apply_error = NULL")
		}
		sets = append(sets, "applied_at = ?")
		args = append(args, formatTime(now))
	}
	if settle.CountAttempt {
		set, arg := incrementAttempts("apply_attempts", settle.MaxAttempts)
		sets = append(sets, set)
		args = append(args, arg...)
	}
	if settle.Terminal {
		sets = append(sets, "errored_stage = ?", "errored_at = ?")
		args = append(args, string(StageApply), formatTime(now))
	}
	if settle.HoldUntil.IsZero() {
		sets = append(sets, "lease_token = NULL", "lease_expires_at = NULL")
	} else {
		sets = append(sets, "lease_expires_at = ?")
		args = append(args, formatTime(settle.HoldUntil))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(now), url, token)

	res, err := s.execWithRetry(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE url = ? AND lease_token = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("finish claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseClaim drops the lease without recording an outcome.
func (s *Store) ReleaseClaim(ctx context.Context, url, token string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET lease_token = NULL, lease_expires_at = NULL, updated_at = ? WHERE url = ? AND lease_token = ?`,
		formatTime(s.clock(time.Time{})),
		url,
		token,
	)
	if err != nil {
		return false, fmt.Errorf("release claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReclaimExpired clears leases whose expiry has passed, typically left behind
// by a process that exited mid-submission.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	stamp := formatTime(s.clock(now))
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET lease_token = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE lease_token IS NOT NULL AND lease_expires_at <= ?`,
		stamp,
		stamp,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}
