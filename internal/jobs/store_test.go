package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"applypilot/internal/jobs"
	"applypilot/internal/testsupport"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUpsertIgnoresDuplicateURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := jobs.Posting{URL: "https://x/y", Title: "Backend Engineer", Site: "remote_ok"}
	inserted, err := store.Upsert(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}
	second := jobs.Posting{URL: "https://x/y", Title: "Renamed", Site: "other"}
	inserted, err = store.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate url to be ignored")
	}

	all, err := store.List(ctx, jobs.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one job, got %d", len(all))
	}
	if all[0].Title != "Backend Engineer" || all[0].Company() != "Remote Ok" {
		t.Fatalf("discovery fields changed: %#v", all[0])
	}
}

func TestUpsertConcurrentDuplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ok, err := store.Upsert(ctx, jobs.Posting{URL: fmt.Sprintf("https://board/%d", j), Site: "board"})
				if err != nil {
					t.Errorf("Upsert: %v", err)
					return
				}
				if ok {
					inserted.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	if got := inserted.Load(); got != 10 {
		t.Fatalf("expected 10 inserts, got %d", got)
	}
}

func TestUpsertRequiresURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.Upsert(context.Background(), jobs.Posting{URL: "  "}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job, err := store.Get(context.Background(), "https://nowhere")
	if err != nil || job != nil {
		t.Fatalf("expected nil, nil; got %v, %v", job, err)
	}
}

func TestPatchUnknownURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	err := store.Patch(context.Background(), "https://nowhere", jobs.Patch{}.Set(jobs.ColSkipCover, true))
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPatchRejectsUnknownColumn(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://a"})
	if err := store.Patch(context.Background(), "https://a", jobs.Patch{}.Set("url", "https://b")); err == nil {
		t.Fatal("expected error writing key column")
	}
}

func TestCompleteSetsTimestampOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://a"})

	patch := jobs.Patch{}.Set(jobs.ColFullDescription, "first")
	applied, err := store.Complete(ctx, "https://a", jobs.StageEnrich, patch, jobs.WriteOptions{CountAttempt: true, MaxAttempts: 3, Now: base})
	if err != nil || !applied {
		t.Fatalf("first Complete: applied=%v err=%v", applied, err)
	}

	patch = jobs.Patch{}.Set(jobs.ColFullDescription, "second")
	applied, err = store.Complete(ctx, "https://a", jobs.StageEnrich, patch, jobs.WriteOptions{CountAttempt: true, MaxAttempts: 3, Now: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if applied {
		t.Fatal("expected second completion to be a no-op")
	}

	job, _ := store.Get(ctx, "https://a")
	if job.FullDescription != "first" || !job.DetailScrapedAt.Equal(base) || job.EnrichAttempts != 1 {
		t.Fatalf("unexpected job after no-op: %#v", job)
	}

	applied, err = store.Complete(ctx, "https://a", jobs.StageEnrich, patch, jobs.WriteOptions{Force: true, Now: base.Add(time.Hour)})
	if err != nil || !applied {
		t.Fatalf("forced Complete: applied=%v err=%v", applied, err)
	}
	job, _ = store.Get(ctx, "https://a")
	if job.FullDescription != "second" || !job.DetailScrapedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("force did not overwrite: %#v", job)
	}
}

func TestCompleteRejectsForeignColumns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://a"})

	_, err := store.Complete(context.Background(), "https://a", jobs.StageEnrich, jobs.Patch{}.Set(jobs.ColFitScore, 9), jobs.WriteOptions{})
	if err == nil {
		t.Fatal("expected enrichment to be barred from writing the fit score")
	}
}

func TestCompleteUnknownURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_, err := store.Complete(context.Background(), "https://nowhere", jobs.StageScore, jobs.Patch{}, jobs.WriteOptions{})
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttemptCounterCappedAndTerminalized(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://b"}, testsupport.Enriched())

	for i := 1; i <= 5; i++ {
		detail := fmt.Sprintf("timeout %d", i)
		if err := store.RecordFailure(ctx, "https://b", jobs.StageScore, detail, jobs.FailureOptions{MaxAttempts: 3, Now: base}); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	job, _ := store.Get(ctx, "https://b")
	if job.ScoreAttempts != 3 {
		t.Fatalf("expected attempts capped at 3, got %d", job.ScoreAttempts)
	}
	if job.ErroredStage != jobs.StageScore || job.ErroredAt == nil {
		t.Fatalf("expected job errored at score, got %q", job.ErroredStage)
	}
	if job.ScoreReasoning != "timeout 5" {
		t.Fatalf("expected last failure detail, got %q", job.ScoreReasoning)
	}
	if job.Phase(7, base) != jobs.PhaseErrored {
		t.Fatalf("expected errored phase, got %s", job.Phase(7, base))
	}

	eligible, err := store.Eligible(ctx, jobs.Query{Stage: jobs.StageScore, MaxAttempts: 3, Now: base})
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("errored job still eligible: %d", len(eligible))
	}
}

func TestRecordFailureBeforeCapStaysEligible(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://b"})

	if err := store.RecordFailure(ctx, "https://b", jobs.StageEnrich, "502", jobs.FailureOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	job, _ := store.Get(ctx, "https://b")
	if job.ErroredStage != "" || job.EnrichAttempts != 1 || job.DetailError != "502" {
		t.Fatalf("unexpected job: %#v", job)
	}
	count, err := store.CountEligible(ctx, jobs.Query{Stage: jobs.StageEnrich, MaxAttempts: 3})
	if err != nil || count != 1 {
		t.Fatalf("expected job to remain eligible, got %d (%v)", count, err)
	}

	if err := store.RecordFailure(ctx, "https://b", jobs.StageEnrich, "gone", jobs.FailureOptions{Terminal: true, MaxAttempts: 3}); err != nil {
		t.Fatalf("RecordFailure terminal: %v", err)
	}
	job, _ = store.Get(ctx, "https://b")
	if job.ErroredStage != jobs.StageEnrich {
		t.Fatalf("expected permanent failure to terminalize, got %#v", job)
	}
}

func TestEligibilityGatesByScore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://low"}, testsupport.Enriched(), testsupport.Scored(5))
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://high"}, testsupport.Enriched(), testsupport.Scored(8))

	for _, stage := range []jobs.Stage{jobs.StageTailor} {
		eligible, err := store.Eligible(ctx, jobs.Query{Stage: stage, MinScore: 7, MaxAttempts: 3})
		if err != nil {
			t.Fatalf("Eligible %s: %v", stage, err)
		}
		if len(eligible) != 1 || eligible[0].URL != "https://high" {
			t.Fatalf("unexpected %s eligibility: %v", stage, urls(eligible))
		}
	}

	coverable, err := store.Eligible(ctx, jobs.Query{Stage: jobs.StageCover, MinScore: 7, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Eligible cover: %v", err)
	}
	if len(coverable) != 0 {
		t.Fatalf("cover must wait for tailoring, got %v", urls(coverable))
	}

	if err := store.Patch(ctx, "https://high", jobs.Patch{}.Set(jobs.ColSkipTailor, true)); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	coverable, err = store.Eligible(ctx, jobs.Query{Stage: jobs.StageCover, MinScore: 7, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Eligible cover: %v", err)
	}
	if len(coverable) != 1 {
		t.Fatalf("expected opted-out tailoring to unblock cover, got %v", urls(coverable))
	}
}

func TestOptOutReachesSubmission(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	applyQuery := jobs.Query{Stage: jobs.StageApply, MinScore: 7, MaxAttempts: 3}

	imported := testsupport.SeedJob(t, store, jobs.Posting{URL: "https://imported", SkipTailor: true, SkipCover: true},
		testsupport.Enriched(), testsupport.Scored(8))
	if !imported.SkipTailor || !imported.SkipCover {
		t.Fatalf("imported flags not stored: %+v", imported)
	}
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://manual"}, testsupport.Enriched(), testsupport.Scored(8))

	ready, err := store.Eligible(ctx, applyQuery)
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if fmt.Sprint(urls(ready)) != "[https://imported]" {
		t.Fatalf("apply eligible = %v", urls(ready))
	}

	yes := true
	if err := store.SetOptOut(ctx, "https://manual", jobs.OptOut{Tailor: &yes, Cover: &yes}); err != nil {
		t.Fatalf("SetOptOut: %v", err)
	}
	if n, err := store.CountEligible(ctx, applyQuery); err != nil || n != 2 {
		t.Fatalf("apply eligible after opt-out: n=%d err=%v", n, err)
	}

	no := false
	if err := store.SetOptOut(ctx, "https://manual", jobs.OptOut{Cover: &no}); err != nil {
		t.Fatalf("SetOptOut undo: %v", err)
	}
	manual, _ := store.Get(ctx, "https://manual")
	if !manual.SkipTailor || manual.SkipCover {
		t.Fatalf("partial undo touched the wrong flag: tailor=%v cover=%v", manual.SkipTailor, manual.SkipCover)
	}

	if err := store.SetOptOut(ctx, "https://manual", jobs.OptOut{}); err == nil {
		t.Fatal("expected an empty opt-out to be rejected")
	}
	if err := store.SetOptOut(ctx, "https://nowhere", jobs.OptOut{Tailor: &yes}); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("unknown url err = %v", err)
	}
}

func TestEligibleOrderFIFOThenURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://c", DiscoveredAt: base.Add(time.Minute)})
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://b", DiscoveredAt: base})
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://a", DiscoveredAt: base})

	eligible, err := store.Eligible(ctx, jobs.Query{Stage: jobs.StageEnrich, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	got := urls(eligible)
	want := []string{"https://a", "https://b", "https://c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	limited, err := store.Eligible(ctx, jobs.Query{Stage: jobs.StageEnrich, MaxAttempts: 3, Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d (%v)", len(limited), err)
	}
}

func TestForceIgnoredForApply(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.Ready(t, store, "https://a", base)

	if _, err := store.Complete(ctx, "https://a", jobs.StageApply, jobs.Patch{}.Set(jobs.ColApplyStatus, jobs.ApplyStatusApplied), jobs.WriteOptions{}); err != nil {
		t.Fatalf("Complete apply: %v", err)
	}
	count, err := store.CountEligible(ctx, jobs.Query{Stage: jobs.StageApply, MinScore: 7, MaxAttempts: 3, Force: true})
	if err != nil {
		t.Fatalf("CountEligible: %v", err)
	}
	if count != 0 {
		t.Fatal("force must never make an applied job eligible again")
	}

	rescored, err := store.CountEligible(ctx, jobs.Query{Stage: jobs.StageScore, MaxAttempts: 3, Force: true})
	if err != nil || rescored != 1 {
		t.Fatalf("force should re-expose completed scoring: %d %v", rescored, err)
	}
}

func TestRetryErroredKeepsCounters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://perm"})
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://capped"})

	if err := store.RecordFailure(ctx, "https://perm", jobs.StageEnrich, "404", jobs.FailureOptions{Terminal: true, MaxAttempts: 3}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := store.RecordFailure(ctx, "https://capped", jobs.StageEnrich, "503", jobs.FailureOptions{MaxAttempts: 3}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.RetryErrored(ctx)
	if err != nil || n != 2 {
		t.Fatalf("RetryErrored = %d, %v", n, err)
	}
	eligible, err := store.Eligible(ctx, jobs.Query{Stage: jobs.StageEnrich, MaxAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := urls(eligible); len(got) != 1 || got[0] != "https://perm" {
		t.Fatalf("expected only the uncapped job to return, got %v", got)
	}
}

func TestClaimExclusiveUnderContention(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		testsupport.Ready(t, store, fmt.Sprintf("https://jobs/%02d", i), base.Add(time.Duration(i)*time.Second))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners = make(map[string]string)
		dupes  atomic.Int32
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < jobCount; i++ {
				url := fmt.Sprintf("https://jobs/%02d", i)
				lease := jobs.Lease{Token: fmt.Sprintf("w%d-%d", worker, i), AgentID: fmt.Sprintf("worker-%d", worker), Now: base, TTL: time.Minute}
				ok, err := store.Claim(ctx, url, lease, jobs.Query{MinScore: 7, MaxAttempts: 3})
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				if !ok {
					continue
				}
				mu.Lock()
				if _, taken := owners[url]; taken {
					dupes.Add(1)
				}
				owners[url] = lease.AgentID
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if dupes.Load() != 0 {
		t.Fatalf("%d jobs claimed twice", dupes.Load())
	}
	if len(owners) != jobCount {
		t.Fatalf("expected every job claimed once, got %d", len(owners))
	}
}

func TestClaimLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.Ready(t, store, "https://a", base)
	q := jobs.Query{MinScore: 7, MaxAttempts: 3}

	ok, err := store.Claim(ctx, "https://a", jobs.Lease{Token: "t1", AgentID: "worker-0", Now: base, TTL: time.Minute}, q)
	if err != nil || !ok {
		t.Fatalf("Claim: %v %v", ok, err)
	}
	job, _ := store.Get(ctx, "https://a")
	if job.Phase(7, base) != jobs.PhaseApplying || job.AgentID != "worker-0" || job.LastAttemptedAt == nil {
		t.Fatalf("unexpected claimed job: %#v", job)
	}

	q.Now = base.Add(30 * time.Second)
	if ok, _ := store.Claim(ctx, "https://a", jobs.Lease{Token: "t2", Now: q.Now, TTL: time.Minute}, q); ok {
		t.Fatal("live lease must block a second claim")
	}

	ok, err = store.FinishClaim(ctx, "https://a", "wrong", jobs.Settlement{Completed: true})
	if err != nil || ok {
		t.Fatalf("finish with wrong token: %v %v", ok, err)
	}

	hold := base.Add(5 * time.Minute)
	ok, err = store.FinishClaim(ctx, "https://a", "t1", jobs.Settlement{
		Patch:        jobs.Patch{}.Set(jobs.ColApplyStatus, jobs.ApplyStatusRetry).Set(jobs.ColApplyError, "timeout"),
		CountAttempt: true,
		MaxAttempts:  3,
		HoldUntil:    hold,
		Now:          base.Add(time.Minute),
	})
	if err != nil || !ok {
		t.Fatalf("FinishClaim hold: %v %v", ok, err)
	}
	q.Now = base.Add(2 * time.Minute)
	if ok, _ := store.Claim(ctx, "https://a", jobs.Lease{Token: "t3", Now: q.Now, TTL: time.Minute}, q); ok {
		t.Fatal("held job must not be reclaimed before backoff expires")
	}
	q.Now = hold
	ok, err = store.Claim(ctx, "https://a", jobs.Lease{Token: "t4", Now: hold, TTL: time.Minute}, q)
	if err != nil || !ok {
		t.Fatalf("claim after hold: %v %v", ok, err)
	}

	ok, err = store.FinishClaim(ctx, "https://a", "t4", jobs.Settlement{
		Patch:        jobs.Patch{}.Set(jobs.ColApplyStatus, jobs.ApplyStatusApplied),
		Completed:    true,
		CountAttempt: true,
		MaxAttempts:  3,
		Now:          hold,
	})
	if err != nil || !ok {
		t.Fatalf("FinishClaim applied: %v %v", ok, err)
	}
	job, _ = store.Get(ctx, "https://a")
	if job.AppliedAt == nil || job.ApplyAttempts != 2 || job.LeaseToken != "" || job.ApplyError != "" {
		t.Fatalf("unexpected applied job: %#v", job)
	}
	if job.Phase(7, hold) != jobs.PhaseApplied {
		t.Fatalf("phase = %s", job.Phase(7, hold))
	}
}

func TestDryRunStatusExcludedOnlyInDryRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.Ready(t, store, "https://a", base)

	ok, err := store.Claim(ctx, "https://a", jobs.Lease{Token: "t", Now: base, TTL: time.Minute}, jobs.Query{MinScore: 7, MaxAttempts: 3, DryRun: true})
	if err != nil || !ok {
		t.Fatalf("Claim: %v %v", ok, err)
	}
	if _, err := store.FinishClaim(ctx, "https://a", "t", jobs.Settlement{Patch: jobs.Patch{}.Set(jobs.ColApplyStatus, jobs.ApplyStatusDryRunOK), Now: base}); err != nil {
		t.Fatal(err)
	}

	dry, _ := store.CountEligible(ctx, jobs.Query{Stage: jobs.StageApply, MinScore: 7, MaxAttempts: 3, DryRun: true})
	real, _ := store.CountEligible(ctx, jobs.Query{Stage: jobs.StageApply, MinScore: 7, MaxAttempts: 3})
	if dry != 0 || real != 1 {
		t.Fatalf("dry=%d real=%d", dry, real)
	}
	job, _ := store.Get(ctx, "https://a")
	if job.ApplyAttempts != 0 {
		t.Fatalf("dry run must not count attempts, got %d", job.ApplyAttempts)
	}
}

func TestReclaimExpired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.Ready(t, store, "https://a", base)

	if ok, _ := store.Claim(ctx, "https://a", jobs.Lease{Token: "t", Now: base, TTL: time.Minute}, jobs.Query{MinScore: 7, MaxAttempts: 3}); !ok {
		t.Fatal("claim failed")
	}
	n, err := store.ReclaimExpired(ctx, base.Add(30*time.Second))
	if err != nil || n != 0 {
		t.Fatalf("live lease reclaimed: %d %v", n, err)
	}
	n, err = store.ReclaimExpired(ctx, base.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expired lease not reclaimed: %d %v", n, err)
	}
	if ok, _ := store.ReleaseClaim(ctx, "https://a", "t"); ok {
		t.Fatal("release after reclaim should report lost lease")
	}
}

func TestListFiltersAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://1", Title: "Go Developer", Site: "remote_ok", DiscoveredAt: base})
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://2", Title: "Data Analyst", Site: "indeed", DiscoveredAt: base.Add(time.Minute)},
		testsupport.Enriched(), testsupport.Scored(4))
	testsupport.Ready(t, store, "https://3", base.Add(2*time.Minute))

	list, err := store.List(ctx, jobs.Filter{Search: "go dev"})
	if err != nil || len(list) != 1 || list[0].URL != "https://1" {
		t.Fatalf("search: %v %v", urls(list), err)
	}
	list, err = store.List(ctx, jobs.Filter{Phase: jobs.PhaseBelowThreshold, Threshold: 7})
	if err != nil || len(list) != 1 || list[0].URL != "https://2" {
		t.Fatalf("phase filter: %v %v", urls(list), err)
	}
	list, err = store.List(ctx, jobs.Filter{Sort: jobs.SortScore})
	if err != nil || len(list) != 3 || list[0].URL != "https://3" {
		t.Fatalf("score sort: %v %v", urls(list), err)
	}
	list, err = store.List(ctx, jobs.Filter{MinScore: 1, MaxScore: 5})
	if err != nil || len(list) != 1 {
		t.Fatalf("score range: %v %v", urls(list), err)
	}

	stats, err := store.Stats(ctx, jobs.StatsOptions{
		MinScore:    7,
		MaxAttempts: map[jobs.Stage]int{jobs.StageEnrich: 3, jobs.StageApply: 3},
		Now:         base,
	})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.Scored != 2 || stats.AboveThreshold != 1 || stats.Tailored != 1 || stats.CoverLetters != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.Phases[jobs.PhaseDiscovered] != 1 || stats.Phases[jobs.PhaseBelowThreshold] != 1 || stats.Phases[jobs.PhaseReady] != 1 {
		t.Fatalf("unexpected phases: %v", stats.Phases)
	}
	if stats.Sites["remote_ok"] != 1 || stats.Eligible[jobs.StageEnrich] != 1 || stats.Eligible[jobs.StageApply] != 1 {
		t.Fatalf("unexpected sites/eligible: %v %v", stats.Sites, stats.Eligible)
	}
	if stats.LastDiscovered == nil || !stats.LastDiscovered.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("last discovered = %v", stats.LastDiscovered)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedJob(t, store, jobs.Posting{URL: "https://a"})

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unhealthy: %+v", health)
	}
	if len(health.MissingColumns) != 0 || health.TotalJobs != 1 || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upsert(context.Background(), jobs.Posting{URL: "https://a"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	job, err := reopened.Get(context.Background(), "https://a")
	if err != nil || job == nil {
		t.Fatalf("job lost after reopen: %v", err)
	}
}

func urls(list []*jobs.Job) []string {
	out := make([]string, len(list))
	for i, job := range list {
		out[i] = job.URL
	}
	return out
}
