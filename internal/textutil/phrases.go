package textutil

import (
	"regexp"
	"strings"
)

// FindPhrases returns the phrases that occur in text, matched
// case-insensitively on word boundaries, in the order given.
func FindPhrases(text string, phrases []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, phrase := range phrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		pattern := `\b` + regexp.QuoteMeta(phrase)
		if last := phrase[len(phrase)-1]; isWordByte(last) {
			pattern += `\b`
		}
		if regexp.MustCompile(pattern).MatchString(lower) {
			found = append(found, phrase)
		}
	}
	return found
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
