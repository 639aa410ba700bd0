package workflow

import (
	"time"

	"applypilot/internal/jobs"
)

// Outcome labels how a run ended.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	OutcomeAborted             Outcome = "aborted"
	OutcomeCanceled            Outcome = "canceled"
)

// StageSummary counts what one stage did during a run. Chained runs fold
// every pass of a stage into a single entry.
type StageSummary struct {
	Stage      jobs.Stage    `json:"stage"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Retried    int           `json:"retried"`
	Errored    int           `json:"errored"`
	Skipped    int           `json:"skipped"`
	Inserted   int           `json:"inserted,omitempty"`
	Duplicates int           `json:"duplicates,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

func (s *StageSummary) add(other StageSummary) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Retried += other.Retried
	s.Errored += other.Errored
	s.Skipped += other.Skipped
	s.Inserted += other.Inserted
	s.Duplicates += other.Duplicates
	s.Elapsed += other.Elapsed
}

// Summary is the aggregate result of one run.
type Summary struct {
	RunID    string         `json:"run_id"`
	Stages   []StageSummary `json:"stages"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Aborted  bool           `json:"aborted"`
	Canceled bool           `json:"canceled"`
	Error    string         `json:"error,omitempty"`
	Err      error          `json:"-"`
}

// Outcome classifies the run. Aborted wins over canceled; job-level errors
// still count as a completed run.
func (s Summary) Outcome() Outcome {
	switch {
	case s.Aborted:
		return OutcomeAborted
	case s.Canceled:
		return OutcomeCanceled
	case s.Totals().Errored > 0:
		return OutcomeCompletedWithErrors
	default:
		return OutcomeCompleted
	}
}

// Totals sums every stage entry.
func (s Summary) Totals() StageSummary {
	var total StageSummary
	for _, st := range s.Stages {
		total.add(st)
	}
	return total
}

// For returns the entry for stage, if the run touched it.
func (s Summary) For(stage jobs.Stage) (StageSummary, bool) {
	for _, st := range s.Stages {
		if st.Stage == stage {
			return st, true
		}
	}
	return StageSummary{}, false
}

func (s *Summary) record(result StageSummary) {
	for i := range s.Stages {
		if s.Stages[i].Stage == result.Stage {
			s.Stages[i].add(result)
			return
		}
	}
	s.Stages = append(s.Stages, result)
}
