package artifact

import (
	"fmt"
	"strings"

	"applypilot/internal/applicant"
	"applypilot/internal/services"
	"applypilot/internal/textutil"
)

const (
	// minResumeSimilarity is the lowest vocabulary overlap a tailored resume
	// may have with the base resume before it counts as a rewrite.
	minResumeSimilarity = 0.2
	maxCoverLetterWords = 300
)

// leakPhrases betray generator chatter that slipped into a document.
var leakPhrases = []string{
	"i apologize",
	"i am sorry",
	"as an ai",
	"here is the revised",
	"here is the updated",
	"here is the corrected",
	"here is my",
	"below is the",
	"as requested",
	"i have rewritten",
	"i have updated",
	"the following resume",
	"the following cover letter",
	"note:",
	"disclaimer:",
}

// ValidateResume checks a tailored resume against the base resume and the
// profile's preserved facts.
func ValidateResume(text, base string, profile applicant.Profile) error {
	var problems []string
	if strings.TrimSpace(text) == "" {
		problems = append(problems, "empty document")
	}
	if leaks := textutil.FindPhrases(text, leakPhrases); len(leaks) > 0 {
		problems = append(problems, fmt.Sprintf("generator chatter %q", leaks[0]))
	}
	lower := strings.ToLower(text)
	for _, company := range profile.ResumeFacts.PreservedCompanies {
		if company = strings.TrimSpace(company); company != "" && !strings.Contains(lower, strings.ToLower(company)) {
			problems = append(problems, fmt.Sprintf("company %q missing", company))
		}
	}
	if school := strings.TrimSpace(profile.ResumeFacts.PreservedSchool); school != "" && !strings.Contains(lower, strings.ToLower(school)) {
		problems = append(problems, fmt.Sprintf("education %q missing", school))
	}
	if strings.TrimSpace(base) != "" && strings.TrimSpace(text) != "" {
		sim := textutil.Overlap(textutil.NewVocabulary(base), textutil.NewVocabulary(text))
		if sim < minResumeSimilarity {
			problems = append(problems, fmt.Sprintf("diverges from base resume (similarity %.2f)", sim))
		}
	}
	return problemsError("tailor", problems)
}

// ValidateCoverLetter checks a generated cover letter.
func ValidateCoverLetter(text string) error {
	var problems []string
	if strings.TrimSpace(text) == "" {
		problems = append(problems, "empty document")
	}
	if words := textutil.WordCount(text); words > maxCoverLetterWords {
		problems = append(problems, fmt.Sprintf("too long (%d words, max %d)", words, maxCoverLetterWords))
	}
	if leaks := textutil.FindPhrases(text, leakPhrases); len(leaks) > 0 {
		problems = append(problems, fmt.Sprintf("generator chatter %q", leaks[0]))
	}
	return problemsError("cover", problems)
}

func problemsError(stage string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrValidation, stage, "validate document", strings.Join(problems, "; "), nil)
}
