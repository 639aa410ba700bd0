package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job record in a transport-friendly format.
type Job struct {
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Company        string   `json:"company"`
	Site           string   `json:"site"`
	Location       string   `json:"location,omitempty"`
	Salary         string   `json:"salary,omitempty"`
	Phase          string   `json:"phase"`
	FitScore       int      `json:"fitScore,omitempty"`
	ScoreKeywords  string   `json:"scoreKeywords,omitempty"`
	ScoreReasoning string   `json:"scoreReasoning,omitempty"`
	ApplicationURL string   `json:"applicationUrl,omitempty"`
	TailoredResume string   `json:"tailoredResume,omitempty"`
	CoverLetter    string   `json:"coverLetter,omitempty"`
	SkipTailor     bool     `json:"skipTailor,omitempty"`
	SkipCover      bool     `json:"skipCover,omitempty"`
	ApplyStatus    string   `json:"applyStatus,omitempty"`
	ApplyError     string   `json:"applyError,omitempty"`
	AgentID        string   `json:"agentId,omitempty"`
	Confidence     *float64 `json:"verificationConfidence,omitempty"`
	ErroredStage   string   `json:"erroredStage,omitempty"`
	LastError      string   `json:"lastError,omitempty"`
	Attempts       Attempts `json:"attempts"`
	DiscoveredAt   string   `json:"discoveredAt,omitempty"`
	AppliedAt      string   `json:"appliedAt,omitempty"`
	UpdatedAt      string   `json:"updatedAt,omitempty"`
}

// Attempts carries per-stage attempt counters.
type Attempts struct {
	Enrich int `json:"enrich"`
	Score  int `json:"score"`
	Tailor int `json:"tailor"`
	Cover  int `json:"cover"`
	Apply  int `json:"apply"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// Stats is the dashboard view of the store.
type Stats struct {
	Total          int            `json:"total"`
	Enriched       int            `json:"enriched"`
	Scored         int            `json:"scored"`
	AboveThreshold int            `json:"aboveThreshold"`
	Tailored       int            `json:"tailored"`
	CoverLetters   int            `json:"coverLetters"`
	Applied        int            `json:"applied"`
	Errored        int            `json:"errored"`
	Phases         map[string]int `json:"phases"`
	Sites          map[string]int `json:"sites"`
	Eligible       map[string]int `json:"eligible"`
	LastDiscovered string         `json:"lastDiscovered,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// StageCounts is the per-stage part of a run summary.
type StageCounts struct {
	Stage      string `json:"stage"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Retried    int    `json:"retried"`
	Errored    int    `json:"errored"`
	Skipped    int    `json:"skipped"`
	Inserted   int    `json:"inserted,omitempty"`
	Duplicates int    `json:"duplicates,omitempty"`
	ElapsedMS  int64  `json:"elapsedMs"`
}

// RunSummary is the result of one orchestrator run.
type RunSummary struct {
	RunID    string        `json:"runId"`
	Outcome  string        `json:"outcome"`
	Stages   []StageCounts `json:"stages"`
	Started  string        `json:"started,omitempty"`
	Finished string        `json:"finished,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RunState describes the orchestrator run in progress, if any.
type RunState struct {
	Active  bool        `json:"active"`
	Stages  []string    `json:"stages,omitempty"`
	Mode    string      `json:"mode,omitempty"`
	Chained bool        `json:"chained,omitempty"`
	Started string      `json:"started,omitempty"`
	Last    *RunSummary `json:"last,omitempty"`
}

// PoolStats mirrors the submission pool counters.
type PoolStats struct {
	Claimed   int64 `json:"claimed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Retried   int64 `json:"retried"`
	Lost      int64 `json:"lost"`
}

// ApplyState describes the submission pool.
type ApplyState struct {
	Running   bool      `json:"running"`
	Workers   int       `json:"workers,omitempty"`
	DryRun    bool      `json:"dryRun,omitempty"`
	Stats     PoolStats `json:"stats"`
	LastError string    `json:"lastError,omitempty"`
}

// Status aggregates daemon runtime information for API consumers.
type Status struct {
	DatabasePath string        `json:"databasePath"`
	MinScore     int           `json:"minScore"`
	Stats        Stats         `json:"stats"`
	Run          RunState      `json:"run"`
	Apply        ApplyState    `json:"apply"`
	Health       []StageHealth `json:"health"`
}

// PreviewEntry is one stage of a dry plan.
type PreviewEntry struct {
	Stage       string `json:"stage"`
	Description string `json:"description"`
	Eligible    int    `json:"eligible"`
	Configured  bool   `json:"configured"`
}

// RunRequest is the body of POST /api/run. Mode names a workflow.Mode;
// Chain is shorthand for the chained mode when Mode is empty.
type RunRequest struct {
	Stages   []string `json:"stages"`
	Mode     string   `json:"mode"`
	Chain    bool     `json:"chain"`
	Force    bool     `json:"force"`
	MinScore int      `json:"min_score"`
	DryRun   bool     `json:"dry_run"`
	Limit    int      `json:"limit"`
	Preview  bool     `json:"preview"`
}

// ApplyRequest is the body of POST /api/apply.
type ApplyRequest struct {
	Workers    int  `json:"workers"`
	DryRun     bool `json:"dry_run"`
	Continuous bool `json:"continuous"`
	MinScore   int  `json:"min_score"`
	Limit      int  `json:"limit"`
}

// JobPatchRequest is the body of PATCH /api/jobs/{url}. Omitted flags keep
// their value.
type JobPatchRequest struct {
	SkipTailor *bool `json:"skip_tailor"`
	SkipCover  *bool `json:"skip_cover"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
