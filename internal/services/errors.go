package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Class buckets a failure by how the pipeline should react to it.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
	ClassFatal     Class = "fatal"
)

var (
	// Transient markers: safe to retry.
	ErrTransient   = errors.New("transient failure")
	ErrTimeout     = errors.New("timeout")
	ErrRateLimited = errors.New("rate limited")

	// Permanent markers: the job is terminalized.
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrRejected   = errors.New("rejected")

	// Fatal markers: the whole run stops.
	ErrConfiguration = errors.New("configuration error")
	ErrUnavailable   = errors.New("collaborator unavailable")
)

// maxMessageRunes bounds error details persisted on job records.
const maxMessageRunes = 500

// fatalHints are substrings of collaborator messages that mean retrying is
// pointless for every job in the run (quota or credential problems).
var fatalHints = []string{
	"exhausted your daily quota",
	"quota exceeded",
	"unauthorized",
	"invalid api key",
	"authentication",
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its failure class. Marked errors win; unmarked
// errors are fatal when they look like quota or credential failures and
// transient otherwise.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrUnavailable):
		return ClassFatal
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrRejected):
		return ClassPermanent
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout), errors.Is(err, ErrRateLimited):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	if IsFatalMessage(err.Error()) {
		return ClassFatal
	}
	return ClassTransient
}

// IsFatalMessage reports whether a collaborator message signals quota or
// credential exhaustion.
func IsFatalMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, hint := range fatalHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Message renders err as a single line suitable for a job's error field.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if utf8.RuneCountInString(msg) <= maxMessageRunes {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:maxMessageRunes])
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
