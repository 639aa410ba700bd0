package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// Mode selects how a multi-stage run moves jobs through the pipeline.
type Mode string

const (
	// ModeSequential runs one pass per stage in pipeline order.
	ModeSequential Mode = "sequential"
	// ModeChained sweeps the per-job stages until nothing moves.
	ModeChained Mode = "chained"
	// ModeStreaming runs every stage at once with the store as the
	// conveyor between them.
	ModeStreaming Mode = "streaming"
)

// Modes lists the accepted run modes.
var Modes = []Mode{ModeSequential, ModeChained, ModeStreaming}

// ParseMode resolves a mode name. An empty name is sequential.
func ParseMode(name string) (Mode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return ModeSequential, nil
	case "chain":
		return ModeChained, nil
	case "stream":
		return ModeStreaming, nil
	}
	mode := Mode(name)
	if !slices.Contains(Modes, mode) {
		return "", fmt.Errorf("unknown run mode %q (expected one of %v)", name, Modes)
	}
	return mode, nil
}
