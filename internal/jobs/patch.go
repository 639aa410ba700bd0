package jobs

import (
	"fmt"
	"slices"
	"time"
)

// Column names writable through a Patch.
const (
	ColFullDescription        = "full_description"
	ColApplicationURL         = "application_url"
	ColDetailError            = "detail_error"
	ColFitScore               = "fit_score"
	ColScoreKeywords          = "score_keywords"
	ColScoreReasoning         = "score_reasoning"
	ColTailoredResumePath     = "tailored_resume_path"
	ColTailorError            = "tailor_error"
	ColSkipTailor             = "skip_tailor"
	ColCoverLetterPath        = "cover_letter_path"
	ColCoverError             = "cover_error"
	ColSkipCover              = "skip_cover"
	ColApplyStatus            = "apply_status"
	ColApplyError             = "apply_error"
	ColAgentID                = "agent_id"
	ColLastAttemptedAt        = "last_attempted_at"
	ColApplyDurationMillis    = "apply_duration_ms"
	ColApplyTaskID            = "apply_task_id"
	ColVerificationConfidence = "verification_confidence"
)

// stageColumns describes the column group a stage owns.
type stageColumns struct {
	completed string
	attempts  string
	errField  string
	owned     []string
}

var stageTable = map[Stage]stageColumns{
	StageEnrich: {
		completed: "detail_scraped_at",
		attempts:  "enrich_attempts",
		errField:  ColDetailError,
		owned:     []string{ColFullDescription, ColApplicationURL, ColDetailError},
	},
	StageScore: {
		completed: "scored_at",
		attempts:  "score_attempts",
		errField:  ColScoreReasoning,
		owned:     []string{ColFitScore, ColScoreKeywords, ColScoreReasoning},
	},
	StageTailor: {
		completed: "tailored_at",
		attempts:  "tailor_attempts",
		errField:  ColTailorError,
		owned:     []string{ColTailoredResumePath, ColTailorError, ColSkipTailor},
	},
	StageCover: {
		completed: "cover_letter_at",
		attempts:  "cover_attempts",
		errField:  ColCoverError,
		owned:     []string{ColCoverLetterPath, ColCoverError, ColSkipCover},
	},
	StageApply: {
		completed: "applied_at",
		attempts:  "apply_attempts",
		errField:  ColApplyError,
		owned: []string{
			ColApplyStatus, ColApplyError, ColAgentID, ColLastAttemptedAt,
			ColApplyDurationMillis, ColApplyTaskID, ColVerificationConfidence,
		},
	},
}

func columnsFor(stage Stage) (stageColumns, error) {
	cols, ok := stageTable[stage]
	if !ok {
		return stageColumns{}, fmt.Errorf("stage %q has no persisted columns", stage)
	}
	return cols, nil
}

// Field is one column assignment.
type Field struct {
	Column string
	Value  any
}

// Patch is an ordered set of column assignments merged atomically into one job.
// The zero value is an empty patch.
type Patch struct {
	fields []Field
}

// Set returns a copy of p with column assigned. A later Set of the same
// column replaces the earlier value.
func (p Patch) Set(column string, value any) Patch {
	fields := make([]Field, 0, len(p.fields)+1)
	for _, f := range p.fields {
		if f.Column != column {
			fields = append(fields, f)
		}
	}
	return Patch{fields: append(fields, Field{Column: column, Value: value})}
}

// Fields returns the assignments in insertion order.
func (p Patch) Fields() []Field {
	return slices.Clone(p.fields)
}

// Empty reports whether the patch assigns nothing.
func (p Patch) Empty() bool {
	return len(p.fields) == 0
}

// Value returns the assigned value for column.
func (p Patch) Value(column string) (any, bool) {
	for _, f := range p.fields {
		if f.Column == column {
			return f.Value, true
		}
	}
	return nil, false
}

func ownedBy(stage Stage, column string) bool {
	cols, ok := stageTable[stage]
	return ok && slices.Contains(cols.owned, column)
}

func writableColumn(column string) bool {
	for _, cols := range stageTable {
		if slices.Contains(cols.owned, column) {
			return true
		}
	}
	return false
}

// sqlValue converts Go values into the representation stored in SQLite.
func sqlValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return nullableString(v)
	case bool:
		return boolToInt(v)
	case time.Time:
		if v.IsZero() {
			return nil
		}
		return formatTime(v)
	case *time.Time:
		return nullableTime(v)
	case time.Duration:
		return v.Milliseconds()
	case *float64:
		if v == nil {
			return nil
		}
		return *v
	default:
		return v
	}
}

// assignments renders the patch as "col = ?" fragments plus args.
func (p Patch) assignments(allowed func(string) bool) ([]string, []any, error) {
	sets := make([]string, 0, len(p.fields))
	args := make([]any, 0, len(p.fields))
	for _, f := range p.fields {
		if !allowed(f.Column) {
			return nil, nil, fmt.Errorf("column %q is not writable here", f.Column)
		}
		sets = append(sets, f.Column+" = ?")
		args = append(args, sqlValue(f.Value))
	}
	return sets, args, nil
}
