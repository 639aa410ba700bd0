package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Query selects the jobs eligible for one stage.
type Query struct {
	Stage       Stage
	MinScore    int
	MaxAttempts int
	Now         time.Time
	// Force drops the "not yet completed" requirement. It has no effect on
	// the apply stage, which never resubmits.
	Force bool
	// DryRun also excludes jobs that already passed a simulated submission.
	DryRun bool
	Limit  int
}

func (q Query) validate() error {
	if _, err := columnsFor(q.Stage); err != nil {
		return err
	}
	if q.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts for %s must be positive", q.Stage)
	}
	return nil
}

// eligibilityClause renders the WHERE body that defines stage eligibility.
func eligibilityClause(q Query, now time.Time) (string, []any, error) {
	if err := q.validate(); err != nil {
		return "", nil, err
	}
	cols := stageTable[q.Stage]
	conds := []string{"errored_stage IS NULL"}
	var args []any

	completionPending := cols.completed + " IS NULL"
	if q.Force && q.Stage != StageApply {
		completionPending = ""
	}

	switch q.Stage {
	case StageEnrich:
	case StageScore:
		conds = append(conds, "detail_scraped_at IS NOT NULL")
	case StageTailor:
		conds = append(conds, "scored_at IS NOT NULL", "fit_score >= ?", "skip_tailor = 0")
		args = append(args, q.MinScore)
	case StageCover:
		conds = append(conds,
			"scored_at IS NOT NULL",
			"fit_score >= ?",
			"(tailored_at IS NOT NULL OR skip_tailor = 1)",
			"skip_cover = 0",
		)
		args = append(args, q.MinScore)
	case StageApply:
		conds = append(conds,
			"scored_at IS NOT NULL",
			"fit_score >= ?",
			"(tailored_at IS NOT NULL OR skip_tailor = 1)",
			"(cover_letter_at IS NOT NULL OR skip_cover = 1)",
		)
		args = append(args, q.MinScore)
		excluded := []string{"'" + ApplyStatusApplied + "'", "'" + ApplyStatusSkipped + "'"}
		if q.DryRun {
			excluded = append(excluded, "'"+ApplyStatusDryRunOK+"'")
		}
		conds = append(conds,
			"COALESCE(apply_status, '') NOT IN ("+strings.Join(excluded, ", ")+")",
			"(lease_token IS NULL OR lease_expires_at <= ?)",
		)
		args = append(args, formatTime(now))
	}

	if completionPending != "" {
		conds = append(conds, completionPending)
	}
	conds = append(conds, cols.attempts+" < ?")
	args = append(args, q.MaxAttempts)
	return strings.Join(conds, " AND "), args, nil
}

// phaseExpr computes Job.Phase in SQL. Its two placeholders take the score
// threshold and the current time, in that order.
const phaseExpr = `CASE
	WHEN errored_stage IS NOT NULL THEN 'errored'
	WHEN applied_at IS NOT NULL THEN 'applied'
	WHEN apply_status = 'skipped' THEN 'skipped'
	WHEN scored_at IS NOT NULL AND fit_score < ? THEN 'below_threshold'
	WHEN lease_token IS NOT NULL AND lease_expires_at > ? THEN 'applying'
	WHEN scored_at IS NOT NULL AND (tailored_at IS NOT NULL OR skip_tailor = 1) AND (cover_letter_at IS NOT NULL OR skip_cover = 1) THEN 'ready'
	WHEN tailored_at IS NOT NULL THEN 'tailored'
	WHEN scored_at IS NOT NULL THEN 'scored'
	WHEN detail_scraped_at IS NOT NULL THEN 'enriched'
	ELSE 'discovered'
END`

func phaseArgs(minScore int, now time.Time) []any {
	return []any{minScore, formatTime(now)}
}
