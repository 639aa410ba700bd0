package preflight

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"applypilot/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "resume.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckFile("resume", f); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckFile("resume", dir); r.Passed {
		t.Fatal("expected failure for directory")
	}
	if r := CheckFile("resume", ""); r.Passed || r.Detail != "path not configured" {
		t.Fatalf("unexpected result for empty path: %+v", r)
	}
}

func TestCheckProfile_Malformed(t *testing.T) {
	f := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(f, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckProfile(f); r.Passed {
		t.Fatal("expected failure for malformed profile")
	}
}

func TestCheckAPI_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	bind := strings.TrimPrefix(srv.URL, "http://")

	if r := CheckAPI(context.Background(), bind, "good"); !r.Passed {
		t.Fatalf("expected pass, got: %s", r.Detail)
	}
	if r := CheckAPI(context.Background(), bind, "bad"); r.Passed || r.Optional {
		t.Fatalf("expected required failure for bad token, got %+v", r)
	}
}

func TestCheckAPI_NotRunning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	bind := ln.Addr().String()
	ln.Close()

	r := CheckAPI(context.Background(), bind, "")
	if r.Passed || !r.Optional {
		t.Fatalf("expected optional failure, got %+v", r)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsMissingCollaborators(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithApplicant())
	cfg.Paths.APIBind = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Data directory", "Artifacts directory", "Applicant profile", "Base resume"} {
		if !byName[name].Passed {
			t.Errorf("check %q failed: %s", name, byName[name].Detail)
		}
	}
	if score := byName["Collaborator score"]; score.Passed || score.Detail != "command not configured" {
		t.Fatalf("score result = %+v", score)
	}
	if !Failed(results) {
		t.Fatal("missing collaborators must fail doctor")
	}
	if _, ok := byName["Control API"]; ok {
		t.Fatal("api check must be skipped without a bind address")
	}
}
