// Package enrichment fetches the full description and application link for a
// discovered posting.
package enrichment

import (
	"context"
	"errors"
	"strings"

	"applypilot/internal/services"
	"applypilot/internal/services/extcmd"
)

// Detail is what enrichment learns about a posting. ApplicationURL may be
// empty when the page carries no recognizable apply link.
type Detail struct {
	FullDescription string `json:"full_description"`
	ApplicationURL  string `json:"application_url,omitempty"`
}

// Partial reports whether the detail lacks an application link.
func (d Detail) Partial() bool {
	return strings.TrimSpace(d.ApplicationURL) == ""
}

// Source resolves a posting URL into its detail.
type Source interface {
	Enrich(ctx context.Context, url string) (Detail, error)
}

// CommandSource delegates enrichment to an external program.
type CommandSource struct {
	cmd *extcmd.Command
}

type commandRequest struct {
	URL string `json:"url"`
}

// NewCommandSource wraps argv as an enrichment source.
func NewCommandSource(argv []string, env ...string) (*CommandSource, error) {
	cmd, err := extcmd.New("enrich", argv, env...)
	if err != nil {
		return nil, err
	}
	return &CommandSource{cmd: cmd}, nil
}

// Binary returns the program the source runs.
func (s *CommandSource) Binary() string { return s.cmd.Binary() }

// Enrich sends {"url": ...} and decodes a Detail from stdout.
func (s *CommandSource) Enrich(ctx context.Context, url string) (Detail, error) {
	var detail Detail
	if err := s.cmd.Call(ctx, commandRequest{URL: url}, &detail); err != nil {
		return Detail{}, err
	}
	return detail, nil
}

// Fallback tries each source in order. A later source is consulted only
// when an earlier one fails permanently; transient and fatal failures are
// returned as they are so the retry policy sees them.
type Fallback []Source

// Enrich returns the first successful detail.
func (f Fallback) Enrich(ctx context.Context, url string) (Detail, error) {
	var errs []error
	for _, src := range f {
		detail, err := src.Enrich(ctx, url)
		if err == nil {
			return detail, nil
		}
		if services.Classify(err) != services.ClassPermanent {
			return Detail{}, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Detail{}, services.Wrap(services.ErrConfiguration, "enrich", "resolve", "no enrichment source configured", nil)
	}
	return Detail{}, errors.Join(errs...)
}
