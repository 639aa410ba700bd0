package testsupport

import (
	"context"
	"testing"
	"time"

	"applypilot/internal/config"
	"applypilot/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedJob inserts a posting for url and applies patch through the stage
// writes, so the resulting record looks like the output of real stage runs.
// Stages listed in done are marked complete in order.
func SeedJob(t testing.TB, store *jobs.Store, posting jobs.Posting, done ...StageResult) *jobs.Job {
	t.Helper()

	ctx := context.Background()
	if posting.Site == "" {
		posting.Site = "test_board"
	}
	if posting.Title == "" {
		posting.Title = "Engineer"
	}
	if _, err := store.Upsert(ctx, posting); err != nil {
		t.Fatalf("store.Upsert: %v", err)
	}
	for _, result := range done {
		applied, err := store.Complete(ctx, posting.URL, result.Stage, result.Patch, jobs.WriteOptions{Force: true})
		if err != nil || !applied {
			t.Fatalf("store.Complete %s: applied=%v err=%v", result.Stage, applied, err)
		}
	}
	job, err := store.Get(ctx, posting.URL)
	if err != nil || job == nil {
		t.Fatalf("store.Get %s: %v", posting.URL, err)
	}
	return job
}

// StageResult pairs a stage with the patch its runner would produce.
type StageResult struct {
	Stage jobs.Stage
	Patch jobs.Patch
}

// Enriched is a StageResult for a completed enrichment.
func Enriched() StageResult {
	return StageResult{Stage: jobs.StageEnrich, Patch: jobs.Patch{}.Set(jobs.ColFullDescription, "Build reliable services in Go.")}
}

// Scored is a StageResult for a completed scoring with the given fit score.
func Scored(score int) StageResult {
	return StageResult{Stage: jobs.StageScore, Patch: jobs.Patch{}.
		Set(jobs.ColFitScore, score).
		Set(jobs.ColScoreReasoning, "seeded")}
}

// Tailored is a StageResult for a completed tailoring.
func Tailored(path string) StageResult {
	return StageResult{Stage: jobs.StageTailor, Patch: jobs.Patch{}.Set(jobs.ColTailoredResumePath, path)}
}

// Covered is a StageResult for a completed cover letter.
func Covered(path string) StageResult {
	return StageResult{Stage: jobs.StageCover, Patch: jobs.Patch{}.Set(jobs.ColCoverLetterPath, path)}
}

// Ready seeds a job that is eligible for submission.
func Ready(t testing.TB, store *jobs.Store, url string, discoveredAt time.Time) *jobs.Job {
	t.Helper()
	return SeedJob(t, store, jobs.Posting{URL: url, DiscoveredAt: discoveredAt},
		Enriched(), Scored(9), Tailored("/tmp/resume.txt"), Covered("/tmp/letter.txt"))
}
