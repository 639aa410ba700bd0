// Package artifact stores the documents produced for a job (tailored resumes
// and cover letters) and checks them before they are recorded.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"applypilot/internal/fileutil"
	"applypilot/internal/jobs"
	"applypilot/internal/services"
	"applypilot/internal/textutil"
)

// Kind names a document family; each lives in its own subdirectory.
type Kind string

const (
	KindResume      Kind = "resumes"
	KindCoverLetter Kind = "cover_letters"
)

// Document is what a collaborator hands back: inline text, a path to a file
// it wrote, or both.
type Document struct {
	Path string `json:"path,omitempty"`
	Text string `json:"text,omitempty"`
}

// Store places documents under a root directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the artifacts directory.
func (s *Store) Root() string {
	return s.root
}

// PathFor returns the canonical location of a job's document.
func (s *Store) PathFor(kind Kind, job *jobs.Job) string {
	sum := sha256.Sum256([]byte(job.URL))
	name := fmt.Sprintf("%s_%s_%s.txt",
		textutil.SanitizeToken(job.Site),
		textutil.SanitizeToken(job.Title),
		hex.EncodeToString(sum[:4]),
	)
	return filepath.Join(s.root, string(kind), name)
}

// Save persists doc for job and returns the stored path and its text. Inline
// text wins over a path; a path outside the store is copied in.
func (s *Store) Save(kind Kind, job *jobs.Job, doc Document) (string, string, error) {
	target := s.PathFor(kind, job)
	switch {
	case strings.TrimSpace(doc.Text) != "":
		text := Sanitize(doc.Text)
		if err := fileutil.WriteFileAtomic(target, []byte(text+"\n"), 0o644); err != nil {
			return "", "", services.Wrap(services.ErrTransient, string(kind), "write document", target, err)
		}
		return target, text, nil
	case strings.TrimSpace(doc.Path) != "":
		text, err := ReadText(doc.Path)
		if err != nil {
			return "", "", err
		}
		if filepath.Clean(doc.Path) != target {
			if err := fileutil.CopyFileVerified(doc.Path, target); err != nil {
				return "", "", services.Wrap(services.ErrTransient, string(kind), "copy document", doc.Path, err)
			}
		}
		return target, text, nil
	default:
		return "", "", services.Wrap(services.ErrValidation, string(kind), "save document", "collaborator returned no document", nil)
	}
}

// Exists reports whether path names a non-empty regular file.
func Exists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ReadText loads a document. A missing file is a permanent failure for the
// job that references it.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "artifact", "read document", path, err)
		}
		return "", services.Wrap(services.ErrTransient, "artifact", "read document", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

var typographyReplacer = strings.NewReplacer(
	" — ", ", ",
	"—", ", ",
	"–", "-",
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
)

// Sanitize normalizes dashes and smart quotes that generated text tends to carry.
func Sanitize(text string) string {
	return strings.TrimSpace(typographyReplacer.Replace(text))
}
