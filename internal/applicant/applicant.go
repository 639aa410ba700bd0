// Package applicant loads the candidate profile and base resume that the
// scoring, tailoring, cover letter, and submission collaborators receive.
package applicant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"applypilot/internal/config"
	"applypilot/internal/services"
)

// Personal holds contact details from the profile.
type Personal struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// ResumeFacts lists resume content that tailoring must preserve.
type ResumeFacts struct {
	PreservedCompanies []string `json:"preserved_companies"`
	PreservedProjects  []string `json:"preserved_projects"`
	PreservedSchool    string   `json:"preserved_school"`
}

// Profile is the candidate profile. Raw keeps the original document so
// collaborators see every field, including ones this package ignores.
type Profile struct {
	Personal    Personal        `json:"personal"`
	ResumeFacts ResumeFacts     `json:"resume_facts"`
	Raw         json.RawMessage `json:"-"`
}

// Applicant bundles the profile with the base resume text.
type Applicant struct {
	Profile    Profile
	Resume     string
	ResumePath string
}

// Load reads the profile and resume named by cfg. A missing or unreadable
// file is a configuration error, which aborts any run that needs it.
func Load(cfg *config.Config) (*Applicant, error) {
	profile, err := LoadProfile(cfg.Paths.ProfilePath)
	if err != nil {
		return nil, err
	}
	resume, err := readRequired("resume", cfg.Paths.ResumePath)
	if err != nil {
		return nil, err
	}
	return &Applicant{Profile: profile, Resume: resume, ResumePath: cfg.Paths.ResumePath}, nil
}

// LoadProfile parses the profile JSON at path.
func LoadProfile(path string) (Profile, error) {
	raw, err := readRequired("profile", path)
	if err != nil {
		return Profile{}, err
	}
	var profile Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return Profile{}, services.Wrap(services.ErrConfiguration, "applicant", "parse profile", path, err)
	}
	profile.Raw = json.RawMessage(raw)
	return profile, nil
}

// MarshalJSON emits the original profile document.
func (p Profile) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type plain Profile
	return json.Marshal(plain(p))
}

func readRequired(label, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", services.Wrap(services.ErrConfiguration, "applicant", "load "+label, "path not configured", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrConfiguration, "applicant", "load "+label, fmt.Sprintf("%s not found (run `applypilot config init` and fill it in)", path), err)
		}
		return "", services.Wrap(services.ErrConfiguration, "applicant", "load "+label, path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", services.Wrap(services.ErrConfiguration, "applicant", "load "+label, path+" is empty", nil)
	}
	return text, nil
}
