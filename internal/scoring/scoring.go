// Package scoring rates how well the candidate fits a job on a 1 to 10 scale.
package scoring

import (
	"bufio"
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"applypilot/internal/applicant"
	"applypilot/internal/services"
	"applypilot/internal/services/extcmd"
)

const (
	MinScore = 1
	MaxScore = 10

	// maxDescriptionRunes bounds the description sent to the scorer.
	maxDescriptionRunes = 6000
	maxEchoRunes        = 500
)

// Request is everything a scorer sees about one job.
type Request struct {
	Title       string            `json:"title"`
	Company     string            `json:"company"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description"`
	Resume      string            `json:"resume"`
	Profile     applicant.Profile `json:"profile"`
}

// Result is a parsed score.
type Result struct {
	Score     int    `json:"score"`
	Keywords  string `json:"keywords"`
	Reasoning string `json:"reasoning"`
}

// Scorer rates a job.
type Scorer interface {
	Score(ctx context.Context, req Request) (Result, error)
}

// FormatError reports a scorer reply that carried no usable score. Its
// message is what gets recorded as the job's reasoning.
type FormatError struct {
	Response string
}

func (e *FormatError) Error() string {
	return "Invalid scoring response format: " + truncate(e.Response, maxEchoRunes)
}

// Unwrap classifies the failure as permanent.
func (e *FormatError) Unwrap() error { return services.ErrValidation }

var scoreDigits = regexp.MustCompile(`\d+`)

// ParseResponse reads the line-oriented reply:
//
//	SCORE: 8
//	KEYWORDS: go, sqlite, distributed systems
//	REASONING: Strong backend match.
//
// The score is clamped to 1..10. Without a REASONING line the whole reply is
// kept as the reasoning.
func ParseResponse(response string) (Result, error) {
	result := Result{Reasoning: strings.TrimSpace(response)}
	found := false
	scanner := bufio.NewScanner(strings.NewReader(response))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "SCORE:"):
			digits := scoreDigits.FindString(line)
			n, err := strconv.Atoi(digits)
			if err != nil {
				found = false
				continue
			}
			result.Score = min(max(n, MinScore), MaxScore)
			found = true
		case strings.HasPrefix(line, "KEYWORDS:"):
			result.Keywords = strings.TrimSpace(strings.TrimPrefix(line, "KEYWORDS:"))
		case strings.HasPrefix(line, "REASONING:"):
			result.Reasoning = strings.TrimSpace(strings.TrimPrefix(line, "REASONING:"))
		}
	}
	if !found {
		return Result{}, &FormatError{Response: response}
	}
	return result, nil
}

// CommandScorer delegates to an external program. The program may answer
// with a structured result or with the raw text format under "response".
type CommandScorer struct {
	cmd *extcmd.Command
}

type commandResponse struct {
	Score     *int   `json:"score"`
	Keywords  string `json:"keywords"`
	Reasoning string `json:"reasoning"`
	Response  string `json:"response"`
}

// NewCommandScorer wraps argv as a scorer.
func NewCommandScorer(argv []string, env ...string) (*CommandScorer, error) {
	cmd, err := extcmd.New("score", argv, env...)
	if err != nil {
		return nil, err
	}
	return &CommandScorer{cmd: cmd}, nil
}

// Binary returns the program the scorer runs.
func (s *CommandScorer) Binary() string { return s.cmd.Binary() }

// Score runs the program once.
func (s *CommandScorer) Score(ctx context.Context, req Request) (Result, error) {
	var resp commandResponse
	if err := s.cmd.Call(ctx, req, &resp); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(resp.Response) != "" {
		return ParseResponse(resp.Response)
	}
	if resp.Score == nil {
		return Result{}, &FormatError{Response: resp.Reasoning}
	}
	return Result{
		Score:     min(max(*resp.Score, MinScore), MaxScore),
		Keywords:  strings.TrimSpace(resp.Keywords),
		Reasoning: strings.TrimSpace(resp.Reasoning),
	}, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
