package deps

import (
	"os"
	"path/filepath"
	"testing"

	"applypilot/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected unset result: %#v", results[2])
	}
}

func TestCollaborators(t *testing.T) {
	cfg := config.Default()
	cfg.Collaborators.EnrichHTTP = true
	cfg.Collaborators.Score = []string{"  llm-score ", "--fast"}
	cfg.Discovery.Sources = []config.Source{
		{Name: "boards", Kind: "command", Command: []string{"scrape-boards"}},
		{Name: "saved", Kind: "file", Path: "/tmp/saved.jsonl"},
	}

	reqs := Collaborators(&cfg)
	byName := make(map[string]Requirement, len(reqs))
	for _, r := range reqs {
		byName[r.Name] = r
	}
	if !byName["enrich"].Optional {
		t.Fatal("enrich command must be optional when the HTTP enricher is on")
	}
	if byName["score"].Command != "llm-score" {
		t.Fatalf("score command = %q", byName["score"].Command)
	}
	if byName["discover/boards"].Command != "scrape-boards" {
		t.Fatalf("missing command source requirement: %+v", reqs)
	}
	if _, ok := byName["discover/saved"]; ok {
		t.Fatal("file sources need no program")
	}
}
