package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WriteOptions controls a stage completion write.
type WriteOptions struct {
	// Force overwrites an existing completion timestamp.
	Force bool
	// CountAttempt increments the stage's attempt counter, capped at MaxAttempts.
	CountAttempt bool
	MaxAttempts  int
	Now          time.Time
}

// FailureOptions controls a stage failure write.
type FailureOptions struct {
	// Terminal marks the job errored regardless of its attempt count.
	Terminal    bool
	MaxAttempts int
	Now         time.Time
}

// Upsert inserts a discovered posting. A posting whose URL already exists is
// ignored and inserted reports false.
func (s *Store) Upsert(ctx context.Context, posting Posting) (bool, error) {
	url := strings.TrimSpace(posting.URL)
	if url == "" {
		return false, errors.New("posting url is required")
	}
	now := s.clock(time.Time{})
	discovered := now
	if !posting.DiscoveredAt.IsZero() {
		discovered = posting.DiscoveredAt.UTC()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (url, title, salary, description, location, site, strategy, skip_tailor, skip_cover, discovered_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(url) DO NOTHING`,
		url,
		nullableString(strings.TrimSpace(posting.Title)),
		nullableString(strings.TrimSpace(posting.Salary)),
		nullableString(posting.Description),
		nullableString(strings.TrimSpace(posting.Location)),
		nullableString(strings.TrimSpace(posting.Site)),
		nullableString(strings.TrimSpace(posting.Strategy)),
		boolToInt(posting.SkipTailor),
		boolToInt(posting.SkipCover),
		formatTime(discovered),
		formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Get fetches a job by URL. It returns nil, nil when the URL is unknown.
func (s *Store) Get(ctx context.Context, url string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE url = ?`, url)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Patch merges column assignments into an existing job.
func (s *Store) Patch(ctx context.Context, url string, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	sets, args, err := patch.assignments(writableColumn)
	if err != nil {
		return err
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.clock(time.Time{})), url)
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE url = ?`, args...)
	if err != nil {
		return fmt.Errorf("patch job: %w", err)
	}
	return requireAffected(res, url)
}

// OptOut selects the generation stages a job bypasses. Nil leaves the
// current setting alone.
type OptOut struct {
	Tailor *bool
	Cover  *bool
}

// SetOptOut updates a job's skip flags. Documents already generated stay on
// disk; submission uses the base resume and no cover letter while a flag is
// set.
func (s *Store) SetOptOut(ctx context.Context, url string, opt OptOut) error {
	patch := Patch{}
	if opt.Tailor != nil {
		patch = patch.Set(ColSkipTailor, *opt.Tailor)
	}
	if opt.Cover != nil {
		patch = patch.Set(ColSkipCover, *opt.Cover)
	}
	if patch.Empty() {
		return errors.New("opt-out names neither tailor nor cover")
	}
	return s.Patch(ctx, url, patch)
}

// Complete writes a stage's successful result and sets its completion
// timestamp. Without Force the write only applies while the stage is still
// incomplete; applied reports whether it happened.
func (s *Store) Complete(ctx context.Context, url string, stage Stage, patch Patch, opts WriteOptions) (bool, error) {
	cols, err := columnsFor(stage)
	if err != nil {
		return false, err
	}
	sets, args, err := patch.assignments(func(column string) bool { return ownedBy(stage, column) })
	if err != nil {
		return false, err
	}
	now := s.clock(opts.Now)
	if _, ok := patch.Value(cols.errField); !ok {
		sets = append(sets, cols.errField+" = NULL")
	}
	sets = append(sets, cols.completed+" = ?")
	args = append(args, formatTime(now))
	if opts.CountAttempt {
		set, arg := incrementAttempts(cols.attempts, opts.MaxAttempts)
		sets = append(sets, set)
		args = append(args, arg...)
	}
	if stage == StageApply {
		sets = append(sets, "lease_token = NULL", "lease_expires_at = NULL")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(now))

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE url = ?`
	args = append(args, url)
	if !opts.Force {
		query += ` AND ` + cols.completed + ` IS NULL`
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("complete %s: %w", stage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, s.ensureExists(ctx, url)
	}
	return true, nil
}

// RecordFailure stores a failed attempt: the stage error field receives
// detail and the attempt counter increments. The job is marked errored when
// Terminal is set or the counter reaches MaxAttempts.
func (s *Store) RecordFailure(ctx context.Context, url string, stage Stage, detail string, opts FailureOptions) error {
	cols, err := columnsFor(stage)
	if err != nil {
		return err
	}
	now := formatTime(s.clock(opts.Now))
	sets := []string{cols.errField + " = ?"}
	args := []any{nullableString(detail)}

	terminalCond := "?"
	terminalArgs := []any{boolToInt(opts.Terminal)}
	if opts.MaxAttempts > 0 {
		terminalCond = "(? OR " + cols.attempts + " + 1 >= ?)"
		terminalArgs = append(terminalArgs, opts.MaxAttempts)
	}
	sets = append(sets,
		"errored_stage = CASE WHEN "+terminalCond+" THEN ? ELSE errored_stage END",
		"errored_at = CASE WHEN "+terminalCond+" THEN ? ELSE errored_at END",
	)
	args = append(args, terminalArgs...)
	args = append(args, string(stage))
	args = append(args, terminalArgs...)
	args = append(args, now)
	if stage == StageApply {
		sets = append(sets, "apply_status = CASE WHEN "+terminalCond+" THEN ? ELSE ? END")
		args = append(args, terminalArgs...)
		args = append(args, ApplyStatusFailed, ApplyStatusRetry)
	}

	set, arg := incrementAttempts(cols.attempts, opts.MaxAttempts)
	sets = append(sets, set, "updated_at = ?")
	args = append(args, arg...)
	args = append(args, now, url)

	res, err := s.execWithRetry(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE url = ?`, args...)
	if err != nil {
		return fmt.Errorf("record %s failure: %w", stage, err)
	}
	return requireAffected(res, url)
}

// Eligible returns jobs eligible for q.Stage, oldest discovery first with
// ties broken by URL.
func (s *Store) Eligible(ctx context.Context, q Query) ([]*Job, error) {
	where, args, err := eligibilityClause(q, s.clock(q.Now))
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + where + ` ORDER BY discovered_at, url`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible %s: %w", q.Stage, err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// CountEligible returns how many jobs Eligible would return without a limit.
func (s *Store) CountEligible(ctx context.Context, q Query) (int, error) {
	where, args, err := eligibilityClause(q, s.clock(q.Now))
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count eligible %s: %w", q.Stage, err)
	}
	return count, nil
}

// RetryErrored clears the errored marker so the job re-enters eligibility.
// Attempt counters are left alone, so a job that exhausted its attempts stays
// ineligible. With no URLs every errored job is cleared.
func (s *Store) RetryErrored(ctx context.Context, urls ...string) (int64, error) {
	query := `UPDATE jobs
        SET errored_stage = NULL, errored_at = NULL,
            apply_status = CASE WHEN apply_status = '` + ApplyStatusFailed + `' THEN NULL ELSE apply_status END,
            updated_at = ?
        WHERE errored_stage IS NOT NULL`
	args := []any{formatTime(s.clock(time.Time{}))}
	if len(urls) > 0 {
		query += ` AND url IN (` + makePlaceholders(len(urls)) + `)`
		for _, url := range urls {
			args = append(args, url)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry errored jobs: %w", err)
	}
	return res.RowsAffected()
}

func incrementAttempts(column string, maxAttempts int) (string, []any) {
	if maxAttempts > 0 {
		return column + " = MIN(" + column + " + 1, ?)", []any{maxAttempts}
	}
	return column + " = " + column + " + 1", nil
}

func requireAffected(res sql.Result, url string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return nil
}

func (s *Store) ensureExists(ctx context.Context, url string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE url = ?`, url).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return nil
}
