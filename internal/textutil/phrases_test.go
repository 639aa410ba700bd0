package textutil

import (
	"slices"
	"testing"
)

func TestFindPhrases(t *testing.T) {
	text := "Note: I am excited to apply. Eagerly awaiting a reply."
	got := FindPhrases(text, []string{"i am excited", "eager", "note:", "synergy"})
	want := []string{"i am excited", "note:"}
	if !slices.Equal(got, want) {
		t.Fatalf("FindPhrases = %v, want %v", got, want)
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("  Dear  Hiring\nManager,  "); got != 3 {
		t.Fatalf("WordCount = %d", got)
	}
}
