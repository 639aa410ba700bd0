// Package deps checks that the external programs applypilot hands work to
// can be found.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"applypilot/internal/config"
)

// Requirement defines an external program a stage relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Collaborators lists the programs configured for each stage. The HTTP
// enricher makes the enrich command optional.
func Collaborators(cfg *config.Config) []Requirement {
	c := cfg.Collaborators
	reqs := []Requirement{
		{Name: "enrich", Command: program(c.Enrich), Description: "Fetches full posting details", Optional: c.EnrichHTTP},
		{Name: "score", Command: program(c.Score), Description: "Rates fit against the profile"},
		{Name: "tailor", Command: program(c.Tailor), Description: "Writes a tailored resume"},
		{Name: "cover", Command: program(c.Cover), Description: "Writes a cover letter"},
		{Name: "apply", Command: program(c.Submit), Description: "Submits applications"},
	}
	for _, src := range cfg.Discovery.Sources {
		if src.Kind != "command" {
			continue
		}
		reqs = append(reqs, Requirement{
			Name:        "discover/" + src.Name,
			Command:     program(src.Command),
			Description: "Streams postings for discovery",
		})
	}
	return reqs
}

func program(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return strings.TrimSpace(argv[0])
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
