package jobs

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNotFound is returned when a write targets a URL the store has never seen.
var ErrNotFound = errors.New("job not found")

// Apply status values written by the submission stage.
const (
	ApplyStatusApplied  = "applied"
	ApplyStatusDryRunOK = "dry_run_ok"
	ApplyStatusFailed   = "failed"
	ApplyStatusRetry    = "retry"
	ApplyStatusSkipped  = "skipped"
)

// Phase summarizes where a job sits in the pipeline.
type Phase string

const (
	PhaseDiscovered     Phase = "discovered"
	PhaseEnriched       Phase = "enriched"
	PhaseScored         Phase = "scored"
	PhaseBelowThreshold Phase = "below_threshold"
	PhaseTailored       Phase = "tailored"
	PhaseReady          Phase = "ready"
	PhaseApplying       Phase = "applying"
	PhaseApplied        Phase = "applied"
	PhaseSkipped        Phase = "skipped"
	PhaseErrored        Phase = "errored"
)

// Phases lists phases in display order.
var Phases = []Phase{
	PhaseDiscovered,
	PhaseEnriched,
	PhaseScored,
	PhaseBelowThreshold,
	PhaseTailored,
	PhaseReady,
	PhaseApplying,
	PhaseApplied,
	PhaseSkipped,
	PhaseErrored,
}

// Terminal reports whether no stage will touch a job in this phase again.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseApplied, PhaseSkipped, PhaseErrored, PhaseBelowThreshold:
		return true
	default:
		return false
	}
}

// Posting is a raw listing produced by a discovery source.
type Posting struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Salary       string    `json:"salary,omitempty"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	Site         string    `json:"site"`
	Strategy     string    `json:"strategy,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at,omitzero"`

	// SkipTailor and SkipCover send the job to submission without the
	// matching generated document.
	SkipTailor bool `json:"skip_tailor,omitempty"`
	SkipCover  bool `json:"skip_cover,omitempty"`
}

// Job is the persisted record of one listing's progress through the pipeline.
type Job struct {
	URL          string
	Title        string
	Salary       string
	Description  string
	Location     string
	Site         string
	Strategy     string
	DiscoveredAt time.Time

	FullDescription string
	ApplicationURL  string
	DetailScrapedAt *time.Time
	DetailError     string
	EnrichAttempts  int

	FitScore       int // 0 until scored
	ScoreKeywords  string
	ScoreReasoning string
	ScoredAt       *time.Time
	ScoreAttempts  int

	TailoredResumePath string
	TailoredAt         *time.Time
	TailorAttempts     int
	TailorError        string
	SkipTailor         bool

	CoverLetterPath string
	CoverLetterAt   *time.Time
	CoverAttempts   int
	CoverError      string
	SkipCover       bool

	AppliedAt              *time.Time
	ApplyStatus            string
	ApplyError             string
	ApplyAttempts          int
	AgentID                string
	LastAttemptedAt        *time.Time
	ApplyDurationMillis    int64
	ApplyTaskID            string
	VerificationConfidence *float64

	LeaseToken     string
	LeaseExpiresAt *time.Time

	ErroredStage Stage
	ErroredAt    *time.Time
	UpdatedAt    time.Time
}

// DescriptionText returns the richest description available.
func (j *Job) DescriptionText() string {
	if strings.TrimSpace(j.FullDescription) != "" {
		return j.FullDescription
	}
	return j.Description
}

// ApplyTarget returns the URL the submission collaborator should open.
func (j *Job) ApplyTarget() string {
	if strings.TrimSpace(j.ApplicationURL) != "" {
		return j.ApplicationURL
	}
	return j.URL
}

// Company derives a display label from the site slug ("remote_ok" -> "Remote Ok").
func (j *Job) Company() string {
	return SiteLabel(j.Site)
}

// SiteLabel title-cases a site slug for display.
func SiteLabel(site string) string {
	site = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(site))
	if site == "" {
		return ""
	}
	return cases.Title(language.English).String(site)
}

// Attempts returns the attempt counter for stage.
func (j *Job) Attempts(stage Stage) int {
	switch stage {
	case StageEnrich:
		return j.EnrichAttempts
	case StageScore:
		return j.ScoreAttempts
	case StageTailor:
		return j.TailorAttempts
	case StageCover:
		return j.CoverAttempts
	case StageApply:
		return j.ApplyAttempts
	default:
		return 0
	}
}

// Completed reports whether stage's completion timestamp is set.
func (j *Job) Completed(stage Stage) bool {
	switch stage {
	case StageDiscover:
		return true
	case StageEnrich:
		return j.DetailScrapedAt != nil
	case StageScore:
		return j.ScoredAt != nil
	case StageTailor:
		return j.TailoredAt != nil
	case StageCover:
		return j.CoverLetterAt != nil
	case StageApply:
		return j.AppliedAt != nil
	default:
		return false
	}
}

// Phase derives the job's pipeline phase. It mirrors phaseExpr so list
// filters and in-memory views agree.
func (j *Job) Phase(minScore int, now time.Time) Phase {
	switch {
	case j.ErroredStage != "":
		return PhaseErrored
	case j.AppliedAt != nil:
		return PhaseApplied
	case j.ApplyStatus == ApplyStatusSkipped:
		return PhaseSkipped
	case j.ScoredAt != nil && j.FitScore < minScore:
		return PhaseBelowThreshold
	case j.LeaseToken != "" && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now):
		return PhaseApplying
	case j.ScoredAt != nil && (j.TailoredAt != nil || j.SkipTailor) && (j.CoverLetterAt != nil || j.SkipCover):
		return PhaseReady
	case j.TailoredAt != nil:
		return PhaseTailored
	case j.ScoredAt != nil:
		return PhaseScored
	case j.DetailScrapedAt != nil:
		return PhaseEnriched
	default:
		return PhaseDiscovered
	}
}

// Brief is the view of a job handed to collaborator programs.
type Brief struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Company        string `json:"company"`
	Site           string `json:"site"`
	Location       string `json:"location,omitempty"`
	Salary         string `json:"salary,omitempty"`
	Description    string `json:"description"`
	ApplicationURL string `json:"application_url"`
	FitScore       int    `json:"fit_score,omitempty"`
	Keywords       string `json:"keywords,omitempty"`
}

// Brief summarizes the job for collaborators.
func (j *Job) Brief() Brief {
	return Brief{
		URL:            j.URL,
		Title:          j.Title,
		Company:        j.Company(),
		Site:           j.Site,
		Location:       j.Location,
		Salary:         j.Salary,
		Description:    j.DescriptionText(),
		ApplicationURL: j.ApplyTarget(),
		FitScore:       j.FitScore,
		Keywords:       j.ScoreKeywords,
	}
}
