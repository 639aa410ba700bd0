package jobs

import (
	"fmt"
	"slices"
	"strings"
)

// Stage identifies one step of the fixed pipeline sequence.
type Stage string

const (
	StageDiscover Stage = "discover"
	StageEnrich   Stage = "enrich"
	StageScore    Stage = "score"
	StageTailor   Stage = "tailor"
	StageCover    Stage = "cover"
	StageApply    Stage = "apply"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageDiscover, StageEnrich, StageScore, StageTailor, StageCover, StageApply}

var stageAliases = map[string]Stage{
	"discovery":    StageDiscover,
	"enrichment":   StageEnrich,
	"detail":       StageEnrich,
	"scoring":      StageScore,
	"tailoring":    StageTailor,
	"cover_letter": StageCover,
	"coverletter":  StageCover,
	"cover-letter": StageCover,
	"submit":       StageApply,
	"submission":   StageApply,
}

var stageDescriptions = map[Stage]string{
	StageDiscover: "Collect postings from configured sources",
	StageEnrich:   "Fetch full descriptions and apply links",
	StageScore:    "Score fit against the candidate profile",
	StageTailor:   "Tailor the resume for high-fit jobs",
	StageCover:    "Write cover letters for high-fit jobs",
	StageApply:    "Submit applications",
}

// Index returns the stage's position in the pipeline, or -1 when unknown.
func (s Stage) Index() int {
	return slices.Index(Stages, s)
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Description returns a short human summary of the stage.
func (s Stage) Description() string {
	return stageDescriptions[s]
}

func (s Stage) String() string {
	return string(s)
}

// ParseStage resolves a stage name or alias.
func ParseStage(name string) (Stage, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if stage := Stage(normalized); stage.Valid() {
		return stage, nil
	}
	if stage, ok := stageAliases[normalized]; ok {
		return stage, nil
	}
	names := make([]string, len(Stages))
	for i, stage := range Stages {
		names[i] = string(stage)
	}
	return "", fmt.Errorf("unknown stage %q (available: %s, all)", name, strings.Join(names, ", "))
}

// ParseStages resolves names into a de-duplicated list in pipeline order.
// An empty list or the keyword "all" selects every stage.
func ParseStages(names []string) ([]Stage, error) {
	if len(names) == 0 {
		return slices.Clone(Stages), nil
	}
	selected := make(map[Stage]struct{}, len(names))
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			return slices.Clone(Stages), nil
		}
		stage, err := ParseStage(name)
		if err != nil {
			return nil, err
		}
		selected[stage] = struct{}{}
	}
	ordered := make([]Stage, 0, len(selected))
	for _, stage := range Stages {
		if _, ok := selected[stage]; ok {
			ordered = append(ordered, stage)
		}
	}
	return ordered, nil
}
