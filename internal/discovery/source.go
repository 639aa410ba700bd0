// Package discovery collects raw postings from configured sources and feeds
// them into the job store. Sources are restartable: a failed pass is simply
// run again and already-known URLs are ignored on insert.
package discovery

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"slices"
	"strings"

	"applypilot/internal/jobs"
	"applypilot/internal/services"
	"applypilot/internal/services/extcmd"
)

// Search is one discovery query handed to every source.
type Search struct {
	Query    string   `json:"query"`
	Location string   `json:"location,omitempty"`
	Sites    []string `json:"sites,omitempty"`
	Remote   bool     `json:"remote,omitempty"`
}

// Source yields postings for a search. Iteration stops at the first error.
type Source interface {
	Name() string
	Postings(ctx context.Context, search Search) iter.Seq2[jobs.Posting, error]
}

// FileSource reads postings from a JSON lines file, one posting per line.
type FileSource struct {
	name string
	path string
}

// NewFileSource returns a source backed by path.
func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

// Name returns the source label.
func (s *FileSource) Name() string { return s.name }

// Postings streams the file, keeping postings that match the search's sites.
func (s *FileSource) Postings(ctx context.Context, search Search) iter.Seq2[jobs.Posting, error] {
	return func(yield func(jobs.Posting, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			marker := services.ErrTransient
			if errors.Is(err, fs.ErrNotExist) {
				marker = services.ErrConfiguration
			}
			yield(jobs.Posting{}, services.Wrap(marker, "discover", "open source", s.path, err))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
		line := 0
		for scanner.Scan() {
			line++
			if err := ctx.Err(); err != nil {
				yield(jobs.Posting{}, err)
				return
			}
			raw := strings.TrimSpace(scanner.Text())
			if raw == "" || strings.HasPrefix(raw, "#") {
				continue
			}
			posting, err := decodePosting([]byte(raw))
			if err != nil {
				if !yield(jobs.Posting{}, fmt.Errorf("%s line %d: %w", s.path, line, err)) {
					return
				}
				continue
			}
			if !Matches(posting, search) {
				continue
			}
			if !yield(posting, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(jobs.Posting{}, services.Wrap(services.ErrTransient, "discover", "read source", s.path, err))
		}
	}
}

// CommandSource runs an external program that prints postings as JSON lines.
type CommandSource struct {
	name string
	cmd  *extcmd.Command
}

// NewCommandSource wraps argv as a streaming source.
func NewCommandSource(name string, argv []string, env ...string) (*CommandSource, error) {
	cmd, err := extcmd.New("discover "+name, argv, env...)
	if err != nil {
		return nil, err
	}
	return &CommandSource{name: name, cmd: cmd}, nil
}

// Name returns the source label.
func (s *CommandSource) Name() string { return s.name }

// Binary returns the program the source runs.
func (s *CommandSource) Binary() string { return s.cmd.Binary() }

// Postings streams the program's stdout while it runs.
func (s *CommandSource) Postings(ctx context.Context, search Search) iter.Seq2[jobs.Posting, error] {
	return func(yield func(jobs.Posting, error) bool) {
		stopped := false
		err := s.cmd.Stream(ctx, search, func(line []byte) error {
			posting, err := decodePosting(line)
			if err != nil {
				if !yield(jobs.Posting{}, err) {
					stopped = true
					return extcmd.ErrStop
				}
				return nil
			}
			if !yield(posting, nil) {
				stopped = true
				return extcmd.ErrStop
			}
			return nil
		})
		if err != nil && !stopped {
			yield(jobs.Posting{}, err)
		}
	}
}

// Matches reports whether posting passes the search's site filter.
func Matches(posting jobs.Posting, search Search) bool {
	if len(search.Sites) == 0 || posting.Site == "" {
		return true
	}
	return slices.ContainsFunc(search.Sites, func(site string) bool {
		return strings.EqualFold(strings.TrimSpace(site), posting.Site)
	})
}

// decodePosting parses one JSON posting. Malformed or URL-less postings are
// permanent failures for that line only.
func decodePosting(raw []byte) (jobs.Posting, error) {
	var posting jobs.Posting
	if err := json.Unmarshal(raw, &posting); err != nil {
		return jobs.Posting{}, services.Wrap(services.ErrValidation, "discover", "decode posting", "", err)
	}
	posting.URL = strings.TrimSpace(posting.URL)
	if posting.URL == "" {
		return jobs.Posting{}, services.Wrap(services.ErrValidation, "discover", "decode posting", "posting has no url", nil)
	}
	return posting, nil
}
