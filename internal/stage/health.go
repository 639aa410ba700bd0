package stage

import (
	"os/exec"
	"strings"
)

// Health summarizes the readiness of a stage collaborator.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// CommandHealth reports whether the program in argv can be found.
func CommandHealth(name string, argv []string) Health {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Unhealthy(name, "no command configured")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return Unhealthy(name, "command not found: "+argv[0])
	}
	return Healthy(name)
}
