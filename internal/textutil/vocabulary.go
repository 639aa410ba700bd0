package textutil

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// minWordLen drops initials, articles and most prepositions.
const minWordLen = 3

// fillerWords carry no signal about a candidate's experience.
var fillerWords = map[string]struct{}{
	"and": {}, "are": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"our": {}, "that": {}, "the": {}, "this": {}, "was": {}, "were": {},
	"with": {}, "you": {}, "your": {},
}

// Vocabulary is the word-frequency profile of a document.
type Vocabulary struct {
	counts map[string]int
	norm   float64
}

// NewVocabulary profiles text. It returns nil when no content words remain.
func NewVocabulary(text string) *Vocabulary {
	words := ContentWords(text)
	if len(words) == 0 {
		return nil
	}
	v := &Vocabulary{counts: make(map[string]int, len(words))}
	for _, w := range words {
		v.counts[w]++
	}
	var sum float64
	for _, n := range v.counts {
		sum += float64(n * n)
	}
	v.norm = math.Sqrt(sum)
	return v
}

// ContentWords case-folds text and splits it on anything that is not a
// letter or digit, dropping short and filler words.
func ContentWords(text string) []string {
	fields := strings.FieldsFunc(cases.Fold().String(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, w := range fields {
		if len([]rune(w)) < minWordLen {
			continue
		}
		if _, filler := fillerWords[w]; filler {
			continue
		}
		words = append(words, w)
	}
	return words
}

// Size reports the number of distinct words.
func (v *Vocabulary) Size() int {
	if v == nil {
		return 0
	}
	return len(v.counts)
}

// Overlap scores how much two documents share their wording, from 0 for
// nothing in common to 1 for the same word frequencies. A nil vocabulary
// overlaps nothing.
func Overlap(a, b *Vocabulary) float64 {
	if a == nil || b == nil {
		return 0
	}
	if len(b.counts) < len(a.counts) {
		a, b = b, a
	}
	var dot int
	for w, n := range a.counts {
		dot += n * b.counts[w]
	}
	return float64(dot) / (a.norm * b.norm)
}
