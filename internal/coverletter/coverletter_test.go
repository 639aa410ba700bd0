package coverletter_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"applypilot/internal/applicant"
	"applypilot/internal/artifact"
	"applypilot/internal/coverletter"
	"applypilot/internal/jobs"
	"applypilot/internal/services"
	"applypilot/internal/stage"
)

type fakeWriter struct {
	doc artifact.Document
	err error
	got coverletter.Request
}

func (f *fakeWriter) Write(_ context.Context, req coverletter.Request) (artifact.Document, error) {
	f.got = req
	return f.doc, f.err
}

const letter = "Dear hiring team,\nI would enjoy building your Go pipeline.\nRegards,\nJane"

func newRunner(t *testing.T, fake *fakeWriter) *coverletter.Runner {
	t.Helper()
	who := &applicant.Applicant{Resume: "base resume"}
	return coverletter.NewRunner(fake, who, artifact.NewStore(t.TempDir()), 7)
}

func TestCoverUsesTailoredResume(t *testing.T) {
	tailored := filepath.Join(t.TempDir(), "tailored.txt")
	if err := os.WriteFile(tailored, []byte("tailored resume\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := &fakeWriter{doc: artifact.Document{Text: letter}}
	runner := newRunner(t, fake)

	patch, err := runner.Execute(context.Background(), &jobs.Job{URL: "u1", FitScore: 8, TailoredResumePath: tailored})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fake.got.Resume != "tailored resume" {
		t.Fatalf("expected tailored resume, got %q", fake.got.Resume)
	}
	if v, ok := patch.Value(jobs.ColCoverLetterPath); !ok || !artifact.Exists(v.(string)) {
		t.Fatalf("letter not stored: %v", v)
	}
}

func TestCoverUsesBaseResumeWhenTailoringSkipped(t *testing.T) {
	fake := &fakeWriter{doc: artifact.Document{Text: letter}}
	runner := newRunner(t, fake)

	if _, err := runner.Execute(context.Background(), &jobs.Job{URL: "u2", FitScore: 8, SkipTailor: true}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fake.got.Resume != "base resume" {
		t.Fatalf("expected base resume, got %q", fake.got.Resume)
	}
}

func TestCoverMissingTailoredFileIsPermanent(t *testing.T) {
	runner := newRunner(t, &fakeWriter{doc: artifact.Document{Text: letter}})
	_, err := runner.Execute(context.Background(), &jobs.Job{URL: "u3", FitScore: 8, TailoredResumePath: "/nonexistent/resume.txt"})
	if services.Classify(err) != services.ClassPermanent {
		t.Fatalf("expected permanent, got %v", err)
	}
}

func TestCoverValidation(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"too long", strings.Repeat("word ", 301)},
		{"chatter", "As an AI, I cannot apply. " + letter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newRunner(t, &fakeWriter{doc: artifact.Document{Text: tt.text}})
			_, err := runner.Execute(context.Background(), &jobs.Job{URL: "u4", FitScore: 9, SkipTailor: true})
			if services.Classify(err) != services.ClassPermanent {
				t.Fatalf("expected permanent, got %v", err)
			}
		})
	}
}

func TestCoverThresholdAndErrors(t *testing.T) {
	runner := newRunner(t, &fakeWriter{err: services.Wrap(services.ErrTransient, "cover", "run", "busy", nil)})
	if _, err := runner.Execute(context.Background(), &jobs.Job{URL: "u5", FitScore: 3}); !errors.Is(err, stage.ErrSkip) {
		t.Fatalf("expected skip, got %v", err)
	}
	if _, err := runner.Execute(context.Background(), &jobs.Job{URL: "u5", FitScore: 9, SkipTailor: true}); services.Classify(err) != services.ClassTransient {
		t.Fatalf("expected transient passthrough, got %v", err)
	}
}
